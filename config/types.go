package config

import (
	"runtime"
	"slices"
	"strings"
)

// DocumentTypes lists the extensions handled by extraction plugins
var DocumentTypes = []string{
	"eml", "mbox", "msg",
	"pdf", "doc", "docx", "odt", "rtf",
}

// ArchiveTypes lists the container extensions the search can descend into
var ArchiveTypes = []string{"zip", "jar"}

// BinaryTypes lists extensions whose content is classified from a sample before the whole file is read
var BinaryTypes = []string{
	"exe", "dll", "so", "dylib", "o", "a", "lib", "obj",
	"png", "jpg", "jpeg", "gif", "bmp", "ico", "webp",
	"mp3", "mp4", "avi", "mov", "mkv", "wav", "flac",
	"gz", "bz2", "xz", "7z", "rar", "tar",
}

// DefaultSkipDirs are directories never descended into
var DefaultSkipDirs = []string{
	".git", ".svn", ".hg",
	"node_modules", "__pycache__", ".pytest_cache",
	".vscode", ".idea",
	".next", ".nuxt",
}

// IsDocumentFile checks if a file extension is handled by an extraction plugin
func IsDocumentFile(filename string) bool {
	return slices.Contains(DocumentTypes, extensionOf(filename))
}

// IsArchiveFile checks if a file extension is an archive container
func IsArchiveFile(filename string) bool {
	return slices.Contains(ArchiveTypes, extensionOf(filename))
}

// IsKnownBinary reports whether the extension is a known binary format
func IsKnownBinary(filename string) bool {
	return slices.Contains(BinaryTypes, extensionOf(filename))
}

// IsHiddenFile checks if a file should be treated as hidden
func IsHiddenFile(filename string) bool {
	return strings.HasPrefix(filename, ".") && filename != "." && filename != ".."
}

// ShouldSkipDirectory determines if a directory should be skipped during traversal
func ShouldSkipDirectory(dirName string, skipDirs []string) bool {
	for _, d := range skipDirs {
		if strings.EqualFold(d, dirName) {
			return true
		}
	}
	return false
}

// GetPerformanceProfile returns worker and buffer sizes for the expected file count.
// A zero count means unknown and yields the I/O bound default.
func GetPerformanceProfile(fileCount int) (workers int, bufferSize int) {
	switch {
	case fileCount == 0:
		return runtime.NumCPU() * 2, 1000
	case fileCount < 100:
		return 2, 50
	case fileCount < 1000:
		return 4, 200
	case fileCount < 10000:
		return 8, 500
	default:
		return 16, 1000
	}
}

// extensionOf returns the lower-case extension without the dot
func extensionOf(filename string) string {
	lastDot := strings.LastIndex(filename, ".")
	if lastDot == -1 || lastDot == len(filename)-1 {
		return ""
	}
	if slash := strings.LastIndexAny(filename, `/\`); slash > lastDot {
		return ""
	}
	return strings.ToLower(filename[lastDot+1:])
}
