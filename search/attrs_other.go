//go:build !windows

package search

import (
	"path/filepath"

	"find-replace/config"
)

// fileAttributes treats dot files as hidden; Unix has no system attribute
func fileAttributes(path string) (hidden, system bool) {
	return config.IsHiddenFile(filepath.Base(path)), false
}
