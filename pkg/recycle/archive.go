package recycle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mocdown/mocdown/pkg/depletion"
)

// archivedSuffixes are the per-step files moved into a cycle directory.
var archivedSuffixes = []string{".i", ".o", ".ckpt", ".ckpt.zst"}

// CycleDir is the archive directory of cycle inside dir.
func CycleDir(dir string, cycle int) string {
	return filepath.Join(dir, fmt.Sprintf("%03d", cycle))
}

// archive moves the deck, the solver logs and every step file of the
// cycle into its directory. It returns the archived file names.
func (r *Recycler) archive(cycle int) ([]string, error) {
	target := CycleDir(r.dir, cycle)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", target, err)
	}

	files := map[string]struct{}{
		filepath.Base(r.deckPath): {},
		depletion.TransportLog:    {},
		depletion.TransmuteLog:    {},
	}
	matches, err := filepath.Glob(r.base + ".*")
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		for _, suffix := range archivedSuffixes {
			if strings.HasSuffix(m, suffix) {
				files[filepath.Base(m)] = struct{}{}
				break
			}
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var moved []string
	for _, name := range names {
		from := filepath.Join(r.dir, name)
		if _, err := os.Lstat(from); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(from, filepath.Join(target, name)); err != nil {
			return nil, fmt.Errorf("failed to archive %s: %w", name, err)
		}
		moved = append(moved, name)
	}
	return moved, nil
}

// linkPrevious links the checkpoints of the previous cycle into the run
// directory, where a transmute-only depletion replays them.
func (r *Recycler) linkPrevious(cycle int) (int, error) {
	prev := CycleDir(r.dir, cycle-1)
	matches, err := filepath.Glob(filepath.Join(prev, filepath.Base(r.base)+".*.ckpt*"))
	if err != nil {
		return 0, err
	}
	sort.Strings(matches)
	for _, m := range matches {
		name := filepath.Base(m)
		link := filepath.Join(r.dir, name)
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to replace %s: %w", name, err)
		}
		if err := os.Symlink(filepath.Join(filepath.Base(prev), name), link); err != nil {
			return 0, fmt.Errorf("failed to link %s: %w", name, err)
		}
	}
	return len(matches), nil
}
