// Package seed replays a directory of ordered JSON seed files into a
// document store.
package seed

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

var (
	// ErrDirNotFound is returned when the seed directory does not exist.
	ErrDirNotFound = errors.New("seed directory not found")
	// ErrNoSeedFiles is returned when no file matches the naming pattern.
	ErrNoSeedFiles = errors.New("no seed files found")
)

// filePattern is {order}_{collection}.json.
var filePattern = regexp.MustCompile(`^(\d+)_(.+)\.json$`)

// File is a discovered seed file.
type File struct {
	Name       string
	Path       string
	Order      string
	Collection string
}

// Discover lists the seed files in dir in load order: ascending numeric
// prefix, then filename. Other files are ignored.
func Discover(dir string) ([]File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirNotFound, dir)
		}
		return nil, fmt.Errorf("stat seed directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read seed directory: %w", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := filePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		files = append(files, File{
			Name:       e.Name(),
			Path:       filepath.Join(dir, e.Name()),
			Order:      m[1],
			Collection: m[2],
		})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s (want {number}_{collection}.json)", ErrNoSeedFiles, dir)
	}

	slices.SortStableFunc(files, func(a, b File) int {
		return cmp.Or(compareOrder(a.Order, b.Order), cmp.Compare(a.Name, b.Name))
	})
	return files, nil
}

// compareOrder compares two digit strings numerically without parsing, so
// prefixes of any length sort correctly.
func compareOrder(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return cmp.Compare(len(a), len(b))
	}
	return cmp.Compare(a, b)
}
