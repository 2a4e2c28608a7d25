package search

import (
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatNumber renders n with a comma between each group of three digits
func FormatNumber(n int) string {
	return humanize.Comma(int64(n))
}

// FormatFileSize renders a byte count in binary units, "1.5 KB" style
func FormatFileSize(size int64) string {
	if size < 0 {
		return "-" + FormatFileSize(-size)
	}
	return strings.Replace(humanize.IBytes(uint64(size)), "iB", "B", 1)
}
