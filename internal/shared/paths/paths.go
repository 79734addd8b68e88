package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Home is the shorthand front ends use for the user's home directory.
const Home = "~"

// ExpandHome replaces a leading "~" or "~/" with the current user's home
// directory. Other forms such as "~alice" are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != Home && !strings.HasPrefix(path, Home+string(filepath.Separator)) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, Home)), nil
}

// ResolveWorkingDir turns a requested working directory into a clean absolute
// path. An empty dir yields base; relative dirs are resolved against base.
func ResolveWorkingDir(dir, base string) (string, error) {
	if dir == "" {
		dir = base
	}
	if dir == "" {
		return "", nil
	}

	dir, err := ExpandHome(dir)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(dir) {
		if base != "" {
			if base, err = ExpandHome(base); err != nil {
				return "", err
			}
		}
		dir = filepath.Join(base, dir)
		if !filepath.IsAbs(dir) {
			if dir, err = filepath.Abs(dir); err != nil {
				return "", fmt.Errorf("cannot resolve %q: %w", dir, err)
			}
		}
	}
	return filepath.Clean(dir), nil
}
