//go:build pdfcpu

package pdf

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"gitlab.com/tozd/go/errors"
)

// Limits bound how much of a document is turned into text. Zero fields use the defaults.
type Limits struct {
	Pages        int
	BytesPerPage int
}

const (
	defaultPages        = 200
	defaultBytesPerPage = 128 * 1024
)

func (l Limits) withDefaults() Limits {
	if l.Pages <= 0 {
		l.Pages = defaultPages
	}
	if l.BytesPerPage <= 0 {
		l.BytesPerPage = defaultBytesPerPage
	}
	return l
}

// literalScanner pulls the bytes of (...) string operands out of a content stream
type literalScanner struct {
	out    strings.Builder
	depth  int
	quoted bool
}

func (s *literalScanner) feed(c byte) {
	switch {
	case s.quoted:
		s.out.WriteByte(c)
		s.quoted = false
	case s.depth == 0:
		if c == '(' {
			s.depth = 1
		}
	case c == '\\':
		s.quoted = true
	case c == '(':
		s.depth++
		s.out.WriteByte(c)
	case c == ')':
		s.depth--
		if s.depth == 0 {
			s.out.WriteByte(' ')
		} else {
			s.out.WriteByte(c)
		}
	default:
		s.out.WriteByte(c)
	}
}

func pageText(stream []byte, limit int) string {
	var s literalScanner
	for _, c := range stream {
		if s.out.Len() >= limit {
			break
		}
		s.feed(c)
	}
	words := strings.Fields(strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return ' '
	}, s.out.String()))
	text := strings.Join(words, " ")
	if len(text) > limit {
		text = strings.ToValidUTF8(text[:limit], "")
	}
	return text
}

// ExtractText dumps the page content streams of the PDF at path and returns
// the text of their string operands, one line per page.
func ExtractText(path string, limits Limits) (text string, err error) {
	limits = limits.withDefaults()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("pdfcpu panicked: %v", r)
		}
	}()

	dir, err := os.MkdirTemp("", "find-replace-pdf-*")
	if err != nil {
		return "", errors.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractContentFile(path, dir, nil, nil); err != nil {
		return "", errors.Errorf("extracting content of %s: %w", path, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Errorf("listing content of %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	var pages []string
	for _, name := range names {
		if len(pages) == limits.Pages {
			break
		}
		stream, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || len(stream) == 0 {
			continue
		}
		if t := pageText(stream, limits.BytesPerPage); t != "" {
			pages = append(pages, t)
		}
	}
	return strings.Join(pages, "\n"), nil
}
