// Package revfs implements a revision source over a directory layout:
// each committed revision is a full tree snapshot in a sibling directory
// r0001, r0002, ... under a common root. Revision 0 is the empty tree.
//
// Two optional sidecar files per revision carry metadata the trees
// themselves cannot express:
//
//	.revprops.yaml  path -> {name: value} property map for the revision
//	.moves.yaml     list of {from, to, is_dir} renames done in the revision
//
// Sidecars never appear in tree listings or deltas.
package revfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"revpub/internal/pub"
)

const (
	propsFile = ".revprops.yaml"
	movesFile = ".moves.yaml"
)

// Source serves revisions from a snapshot directory layout.
type Source struct {
	root string
}

// New creates a Source over the given root directory.
func New(root string) *Source {
	return &Source{root: root}
}

func (s *Source) revDir(rev int64) string {
	return filepath.Join(s.root, fmt.Sprintf("r%04d", rev))
}

// LatestRevision returns the highest revision directory under the root.
func (s *Source) LatestRevision(_ context.Context) (int64, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("reading repository root: %w", err)
	}

	var latest int64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "r") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), "r"), 10, 64)
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	return latest, nil
}

// Moves returns the renames declared in the half-open range (startRev, endRev].
func (s *Source) Moves(_ context.Context, startRev, endRev int64) ([]pub.Move, error) {
	var moves []pub.Move
	for rev := startRev + 1; rev <= endRev; rev++ {
		data, err := os.ReadFile(filepath.Join(s.revDir(rev), movesFile))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading moves for r%d: %w", rev, err)
		}

		var decoded []struct {
			From  string `yaml:"from"`
			To    string `yaml:"to"`
			IsDir bool   `yaml:"is_dir"`
		}
		if err := yaml.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("parsing moves for r%d: %w", rev, err)
		}
		for _, m := range decoded {
			moves = append(moves, pub.Move{From: m.From, To: m.To, Rev: rev, IsDir: m.IsDir})
		}
	}
	return moves, nil
}

// ListTree lists the subtree rooted at p as of rev, including the root
// entry itself. Paths are slash-separated and relative to the revision
// root; "" names the root directory.
func (s *Source) ListTree(_ context.Context, p string, rev int64) ([]pub.TreeEntry, error) {
	if rev == 0 {
		return nil, fmt.Errorf("no entry %q in empty revision 0", p)
	}

	base := filepath.Join(s.revDir(rev), filepath.FromSlash(p))
	var entries []pub.TreeEntry
	err := filepath.WalkDir(base, func(fsPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if isSidecar(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.revDir(rev), fsPath)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		if relSlash == "." {
			relSlash = ""
		}
		entries = append(entries, pub.TreeEntry{Path: relSlash, IsDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s@%d: %w", p, rev, err)
	}
	return entries, nil
}

// EntryAt returns the content and properties of the entry at p as of rev.
// Content is nil for directories.
func (s *Source) EntryAt(_ context.Context, p string, rev int64) ([]byte, map[string]string, error) {
	if rev == 0 {
		return nil, nil, fmt.Errorf("no entry %q in empty revision 0", p)
	}

	fsPath := filepath.Join(s.revDir(rev), filepath.FromSlash(p))
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s@%d: %w", p, rev, err)
	}

	props, err := s.revProps(rev)
	if err != nil {
		return nil, nil, err
	}

	if info.IsDir() {
		return nil, props[p], nil
	}

	content, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s@%d: %w", p, rev, err)
	}
	return content, props[p], nil
}

// revProps loads the property sidecar of a revision. A missing sidecar
// means no properties.
func (s *Source) revProps(rev int64) (map[string]map[string]string, error) {
	if rev == 0 {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(s.revDir(rev), propsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading properties for r%d: %w", rev, err)
	}

	props := make(map[string]map[string]string)
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("parsing properties for r%d: %w", rev, err)
	}
	return props, nil
}

func isSidecar(name string) bool {
	return name == propsFile || name == movesFile
}

// DriveDelta walks the cumulative difference between the trees at
// startRev and endRev and calls the editor in depth-first,
// parent-before-child order. On an internal failure the editor's Abort
// is invoked and the error returned, so the caller rolls back.
func (s *Source) DriveDelta(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
	w := &deltaWalker{source: s, startRev: startRev, endRev: endRev, ed: ed}

	oldProps, err := s.revProps(startRev)
	if err == nil {
		w.oldProps = oldProps
		w.newProps, err = s.revProps(endRev)
	}
	if err == nil {
		err = w.diffDir(ctx, "")
	}
	if err != nil {
		ed.Abort(ctx)
		return err
	}
	return nil
}

type deltaWalker struct {
	source   *Source
	startRev int64
	endRev   int64
	ed       pub.Editor
	oldProps map[string]map[string]string
	newProps map[string]map[string]string
}

// dirNames lists the immediate children of a directory in one revision,
// sorted. A zero revision, or a directory absent from the revision,
// yields nothing.
func (w *deltaWalker) dirNames(rev int64, dir string) (map[string]bool, error) {
	if rev == 0 {
		return nil, nil
	}
	fsPath := filepath.Join(w.source.revDir(rev), filepath.FromSlash(dir))
	entries, err := os.ReadDir(fsPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s@%d: %w", dir, rev, err)
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if isSidecar(e.Name()) {
			continue
		}
		names[e.Name()] = e.IsDir()
	}
	return names, nil
}

// diffDir emits callbacks for every difference under dir, which exists
// in both revisions.
func (w *deltaWalker) diffDir(ctx context.Context, dir string) error {
	oldNames, err := w.dirNames(w.startRev, dir)
	if err != nil {
		return err
	}
	newNames, err := w.dirNames(w.endRev, dir)
	if err != nil {
		return err
	}

	for _, name := range sortedKeys(oldNames, newNames) {
		child := path.Join(dir, name)
		oldIsDir, inOld := oldNames[name]
		newIsDir, inNew := newNames[name]

		switch {
		case inOld && !inNew:
			if err := w.ed.DeleteEntry(ctx, child); err != nil {
				return err
			}

		case !inOld && inNew:
			if err := w.addEntry(ctx, child, newIsDir); err != nil {
				return err
			}

		case oldIsDir != newIsDir:
			// Replaced by an entry of the other kind.
			if err := w.ed.DeleteEntry(ctx, child); err != nil {
				return err
			}
			if err := w.addEntry(ctx, child, newIsDir); err != nil {
				return err
			}

		case newIsDir:
			if err := w.openDirIfChanged(ctx, child); err != nil {
				return err
			}
			if err := w.diffDir(ctx, child); err != nil {
				return err
			}

		default:
			if err := w.diffFile(ctx, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// addEntry emits the callbacks for an entry that only exists in the new
// revision, recursing into directories.
func (w *deltaWalker) addEntry(ctx context.Context, p string, isDir bool) error {
	if isDir {
		b, err := w.ed.AddDirectory(ctx, p)
		if err != nil {
			return err
		}
		if err := w.sendProps(ctx, b, nil, w.newProps[p]); err != nil {
			return err
		}
		if err := w.ed.Close(ctx, b); err != nil {
			return err
		}

		children, err := w.dirNames(w.endRev, p)
		if err != nil {
			return err
		}
		for _, name := range sortedKeys(children) {
			if err := w.addEntry(ctx, path.Join(p, name), children[name]); err != nil {
				return err
			}
		}
		return nil
	}

	b, err := w.ed.AddFile(ctx, p)
	if err != nil {
		return err
	}
	if err := w.ed.ApplyTextDelta(ctx, b); err != nil {
		return err
	}
	if err := w.sendProps(ctx, b, nil, w.newProps[p]); err != nil {
		return err
	}
	return w.ed.Close(ctx, b)
}

// diffFile compares a file present in both revisions and emits open/
// textdelta/prop callbacks only when something changed.
func (w *deltaWalker) diffFile(ctx context.Context, p string) error {
	oldContent, err := os.ReadFile(filepath.Join(w.source.revDir(w.startRev), filepath.FromSlash(p)))
	if err != nil {
		return fmt.Errorf("reading %s@%d: %w", p, w.startRev, err)
	}
	newContent, err := os.ReadFile(filepath.Join(w.source.revDir(w.endRev), filepath.FromSlash(p)))
	if err != nil {
		return fmt.Errorf("reading %s@%d: %w", p, w.endRev, err)
	}

	contentChanged := string(oldContent) != string(newContent)
	propsChanged := !propsEqual(w.oldProps[p], w.newProps[p])
	if !contentChanged && !propsChanged {
		return nil
	}

	b, err := w.ed.OpenFile(ctx, p)
	if err != nil {
		return err
	}
	if contentChanged {
		if err := w.ed.ApplyTextDelta(ctx, b); err != nil {
			return err
		}
	}
	if propsChanged {
		if err := w.sendProps(ctx, b, w.oldProps[p], w.newProps[p]); err != nil {
			return err
		}
	}
	return w.ed.Close(ctx, b)
}

// openDirIfChanged emits an open/prop/close sequence for a directory
// whose properties changed between the revisions.
func (w *deltaWalker) openDirIfChanged(ctx context.Context, p string) error {
	if propsEqual(w.oldProps[p], w.newProps[p]) {
		return nil
	}
	b, err := w.ed.OpenDirectory(ctx, p)
	if err != nil {
		return err
	}
	if err := w.sendProps(ctx, b, w.oldProps[p], w.newProps[p]); err != nil {
		return err
	}
	return w.ed.Close(ctx, b)
}

// sendProps emits one ChangeProp per property difference, sorted by name.
func (w *deltaWalker) sendProps(ctx context.Context, b *pub.Baton, old, cur map[string]string) error {
	names := sortedPropNames(old, cur)
	for _, name := range names {
		newVal, inNew := cur[name]
		oldVal, inOld := old[name]
		switch {
		case inNew && (!inOld || oldVal != newVal):
			v := newVal
			if err := w.ed.ChangeProp(ctx, b, name, &v); err != nil {
				return err
			}
		case inOld && !inNew:
			if err := w.ed.ChangeProp(ctx, b, name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func propsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func sortedKeys(maps ...map[string]bool) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func sortedPropNames(maps ...map[string]string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// Compile-time check that Source implements pub.RevisionSource
var _ pub.RevisionSource = (*Source)(nil)
