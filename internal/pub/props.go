package pub

import (
	"sort"
	"strings"

	"revpub/internal/model"
)

// ReservedPropPrefix marks implementation-internal properties. They are
// never recorded on publish jobs and never diffed.
const ReservedPropPrefix = "revpub:"

func isReservedProp(name string) bool {
	return strings.HasPrefix(name, ReservedPropPrefix)
}

// propDiff is one entry of a property comparison between two revisions.
type propDiff struct {
	name   string
	action model.PropAction
}

// diffProps compares the old property set against the current one,
// excluding reserved names. A name present only in cur, or present in
// both with different values, is Modified; a name present only in old is
// Deleted. The result is sorted by name so job rows are deterministic.
func diffProps(old, cur map[string]string) []propDiff {
	var diffs []propDiff
	for name, val := range cur {
		if isReservedProp(name) {
			continue
		}
		if oldVal, ok := old[name]; !ok || oldVal != val {
			diffs = append(diffs, propDiff{name: name, action: model.PropModified})
		}
	}
	for name := range old {
		if isReservedProp(name) {
			continue
		}
		if _, ok := cur[name]; !ok {
			diffs = append(diffs, propDiff{name: name, action: model.PropDeleted})
		}
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].name < diffs[j].name })
	return diffs
}
