//go:build windows

package search

import (
	"path/filepath"

	"golang.org/x/sys/windows"

	"find-replace/config"
)

func fileAttributes(path string) (hidden, system bool) {
	hidden = config.IsHiddenFile(filepath.Base(path))

	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return hidden, false
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return hidden, false
	}
	return hidden || attrs&windows.FILE_ATTRIBUTE_HIDDEN != 0, attrs&windows.FILE_ATTRIBUTE_SYSTEM != 0
}
