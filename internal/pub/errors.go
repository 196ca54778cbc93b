package pub

import "errors"

// ErrURLConflict is returned when an entity tries to claim a URL that is
// currently active for a different entity. This is a content-authoring
// error, not a system failure: one of the two entities must change its
// URL. The whole reconciliation for the entity is rolled back.
var ErrURLConflict = errors.New("url is active for another entity")
