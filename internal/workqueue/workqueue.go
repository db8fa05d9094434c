// Package workqueue reads work items from a directory written by an external
// producer. Each item is a directory named <prefix>_<componentId>_<contributionId>
// where prefix is "a" (unversioned) or "v" (versioned).
package workqueue

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	PrefixUnversioned = "a_"
	PrefixVersioned   = "v_"
)

// Item is one managed directory found by Scan.
type Item struct {
	Name           string
	Path           string
	Versioned      bool
	ComponentID    string
	ContributionID string
	ModTime        time.Time
}

type File struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ParseName splits a work-item directory name. The component id is
// everything between the prefix and the last underscore, so it may itself
// contain underscores.
func ParseName(name string) (Item, bool) {
	var versioned bool
	switch {
	case strings.HasPrefix(name, PrefixVersioned):
		versioned = true
	case strings.HasPrefix(name, PrefixUnversioned):
	default:
		return Item{}, false
	}
	sep := strings.LastIndexByte(name, '_')
	if sep <= 2 || sep == len(name)-1 {
		return Item{}, false
	}
	return Item{
		Name:           name,
		Versioned:      versioned,
		ComponentID:    name[2:sep],
		ContributionID: name[sep+1:],
	}, true
}

// Managed reports whether name follows the work-item prefix convention.
func Managed(name string) bool {
	return strings.HasPrefix(name, PrefixUnversioned) || strings.HasPrefix(name, PrefixVersioned)
}

// Scan returns the managed directories of dir that have not been modified
// for at least delay. Modification times are read fresh on every call. A
// missing dir yields no items. Entries that vanish or cannot be stat'ed are
// skipped and reported through the returned skipped errors.
func Scan(dir string, now time.Time, delay time.Duration) (items []Item, skipped []error, err error) {
	entries, err := readDir(dir)
	if err != nil || len(entries) == 0 {
		return nil, nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if !Managed(name) {
			continue
		}
		path := filepath.Join(dir, name)
		st, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				skipped = append(skipped, fmt.Errorf("stat %s: %w", path, err))
			}
			continue
		}
		if !st.IsDir() || now.Sub(st.ModTime()) < delay {
			continue
		}
		it, ok := ParseName(name)
		if !ok {
			skipped = append(skipped, fmt.Errorf("malformed work item name %q", name))
			continue
		}
		it.Path = path
		it.ModTime = st.ModTime()
		items = append(items, it)
	}
	return items, skipped, nil
}

// Expired returns the paths of the immediate subdirectories of dir older
// than delay, managed or not.
func Expired(dir string, now time.Time, delay time.Duration) ([]string, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		st, err := os.Stat(path)
		if err != nil || !st.IsDir() {
			continue
		}
		if now.Sub(st.ModTime()) > delay {
			out = append(out, path)
		}
	}
	return out, nil
}

// Files lists the regular files directly inside an item, sorted by name.
// other names the entries that are not regular files (subdirectories,
// symlinks, devices); they are never imported.
func Files(it Item) (files []File, other []string, err error) {
	entries, err := os.ReadDir(it.Path)
	if err != nil {
		return nil, nil, err
	}
	files = make([]File, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			other = append(other, e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			other = append(other, e.Name())
			continue
		}
		files = append(files, File{
			Name:    e.Name(),
			Path:    filepath.Join(it.Path, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	sort.Strings(other)
	return files, other, nil
}

func readDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}
