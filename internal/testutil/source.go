package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"revpub/internal/pub"
)

// MockEntry is one path in a mock revision tree.
type MockEntry struct {
	Content []byte // nil for directories
	IsDir   bool
	Props   map[string]string
}

// MockRevisionSource is a scripted revision source for testing. Revision
// trees are declared per revision with AddFile/AddDirectory, and the
// delta walk is driven by the Script callback, so a test controls the
// exact callback sequence delivered to the editor.
type MockRevisionSource struct {
	Latest    int64
	Revisions map[int64]map[string]*MockEntry // rev -> path -> entry
	MoveList  []pub.Move
	Script    func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error
}

// NewMockRevisionSource creates an empty MockRevisionSource.
func NewMockRevisionSource() *MockRevisionSource {
	return &MockRevisionSource{
		Revisions: make(map[int64]map[string]*MockEntry),
	}
}

// AddFile records a file at path in the given revision tree.
func (m *MockRevisionSource) AddFile(rev int64, path string, content []byte, props map[string]string) {
	m.addEntry(rev, path, &MockEntry{Content: content, Props: props})
}

// AddDirectory records a directory at path in the given revision tree.
func (m *MockRevisionSource) AddDirectory(rev int64, path string, props map[string]string) {
	m.addEntry(rev, path, &MockEntry{IsDir: true, Props: props})
}

func (m *MockRevisionSource) addEntry(rev int64, path string, e *MockEntry) {
	if m.Revisions[rev] == nil {
		m.Revisions[rev] = make(map[string]*MockEntry)
	}
	m.Revisions[rev][path] = e
	if rev > m.Latest {
		m.Latest = rev
	}
}

func (m *MockRevisionSource) LatestRevision(_ context.Context) (int64, error) {
	return m.Latest, nil
}

func (m *MockRevisionSource) Moves(_ context.Context, startRev, endRev int64) ([]pub.Move, error) {
	var moves []pub.Move
	for _, mv := range m.MoveList {
		if mv.Rev > startRev && mv.Rev <= endRev {
			moves = append(moves, mv)
		}
	}
	return moves, nil
}

func (m *MockRevisionSource) DriveDelta(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
	if m.Script == nil {
		return nil
	}
	if err := m.Script(ctx, startRev, endRev, ed); err != nil {
		ed.Abort(ctx)
		return err
	}
	return nil
}

func (m *MockRevisionSource) ListTree(_ context.Context, path string, rev int64) ([]pub.TreeEntry, error) {
	tree := m.Revisions[rev]

	var entries []pub.TreeEntry
	for p, e := range tree {
		if p == path || path == "" || strings.HasPrefix(p, path+"/") {
			entries = append(entries, pub.TreeEntry{Path: p, IsDir: e.IsDir})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (m *MockRevisionSource) EntryAt(_ context.Context, path string, rev int64) ([]byte, map[string]string, error) {
	tree := m.Revisions[rev]
	e, ok := tree[path]
	if !ok {
		return nil, nil, fmt.Errorf("no entry at %s in revision %d", path, rev)
	}
	props := e.Props
	if props == nil {
		props = map[string]string{}
	}
	return e.Content, props, nil
}

var _ pub.RevisionSource = (*MockRevisionSource)(nil)
