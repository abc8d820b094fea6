//go:build !linux

package tasks

import "os"

// renameNoReplace falls back to a plain rename where the platform has no
// no-replace variant. Create's twin check still keeps one copy per key.
func renameNoReplace(src, dst string) error {
	return os.Rename(src, dst)
}
