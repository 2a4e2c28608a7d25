//go:build !pdfcpu

package pdf

import "gitlab.com/tozd/go/errors"

// ErrPDFDisabled is returned when pdfcpu support is not enabled in the build.
var ErrPDFDisabled = errors.Base("pdfcpu support disabled")

// Limits bound how much of a document is turned into text.
type Limits struct {
	Pages        int
	BytesPerPage int
}

// ExtractText always fails in builds without the pdfcpu tag; callers fall back to another reader.
func ExtractText(path string, limits Limits) (string, error) {
	return "", errors.WithStack(ErrPDFDisabled)
}
