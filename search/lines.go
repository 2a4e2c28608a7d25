package search

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"gitlab.com/tozd/go/errors"

	"find-replace/config"
)

// lineIndex holds the byte offset where each line starts
type lineIndex []int

func newLineIndex(text string) lineIndex {
	idx := lineIndex{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			idx = append(idx, i+1)
		}
	}
	return idx
}

// lineOf returns the 1-based line containing offset
func (idx lineIndex) lineOf(offset int) int {
	return sort.Search(len(idx), func(i int) bool { return idx[i] > offset })
}

func (idx lineIndex) start(line int) int {
	return idx[line-1]
}

// count is the number of lines, not counting the empty tail after a final newline
func (idx lineIndex) count(text string) int {
	if text == "" {
		return 0
	}
	if strings.HasSuffix(text, "\n") {
		return len(idx) - 1
	}
	return len(idx)
}

// text returns line without its terminator
func (idx lineIndex) text(text string, line int) string {
	from := idx[line-1]
	to := len(text)
	if line < len(idx) {
		to = idx[line] - 1
	}
	return strings.TrimSuffix(text[from:to], "\r")
}

// LineOptions controls how many context lines surround each matched line
type LineOptions struct {
	Before int
	After  int

	// MaxLineLength overrides the query and engine limits when positive
	MaxLineLength int
}

// Materialize reloads the content behind res and fills res.Lines.
// Results from a count-only pass get their matches located first.
func (e *Engine) Materialize(ctx context.Context, res *GrepSearchResult, opts LineOptions) error {
	if res == nil || res.query == nil {
		return errors.New("result has no query")
	}
	if !res.Success {
		return errors.Errorf("cannot materialize failed result %s", res.DisplayPath())
	}
	if opts.Before < 0 || opts.After < 0 {
		return configError("context lines", min(opts.Before, opts.After), errors.New("must not be negative"))
	}

	text, err := e.reload(ctx, res)
	if err != nil {
		return err
	}

	if res.Matches == nil && res.MatchCount > 0 {
		matches, _, err := findMatches(ctx, res.query, res.DisplayPath(), text, false)
		if err != nil {
			return err
		}
		res.Matches = matches
	}

	res.Lines = buildLines(text, res.Matches, opts.Before, opts.After, e.lineLimit(res.query, opts))
	return nil
}

func (e *Engine) lineLimit(q *Query, opts LineOptions) int {
	switch {
	case opts.MaxLineLength > 0:
		return opts.MaxLineLength
	case q.criteria.MaxLineLength > 0:
		return q.criteria.MaxLineLength
	case e.MaxLineLength > 0:
		return e.MaxLineLength
	default:
		return config.DefaultMaxLineLength
	}
}

// reload produces the same text the search matched against
func (e *Engine) reload(ctx context.Context, res *GrepSearchResult) (string, error) {
	data, err := readFile(res.FilePath, e.MaxFileSize)
	if err != nil {
		return "", err
	}
	diskPath, name := res.FilePath, baseName(res.FilePath)

	if res.ArchiveMember != "" {
		members, err := listArchive(data)
		if err != nil {
			return "", err
		}
		i := sort.Search(len(members), func(i int) bool { return members[i].name >= res.ArchiveMember })
		if i == len(members) || members[i].name != res.ArchiveMember {
			return "", accessError("open", res.DisplayPath(), errors.New("archive member not found"))
		}
		if data, err = members[i].read(e.MaxFileSize); err != nil {
			return "", err
		}
		diskPath, name = "", members[i].base()
	}

	if res.IsExtracted {
		p, ok := e.Registry.Lookup(name)
		if !ok || p.Container {
			return "", errors.Errorf("no plugin for %s", res.DisplayPath())
		}
		heavy := NewConcurrencyManager(1)
		var text string
		err := heavy.ExecuteWithTimeout(ctx, func() error {
			var err error
			text, _, err = p.Extract(diskPath, data)
			return err
		}, e.ExtractionTimeout)
		return text, err
	}

	cl, err := EncodingFor(res.Encoding, res.HasBOM)
	if err != nil {
		return "", err
	}
	return cl.Decode(data)
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// buildLines renders matched lines with their context in line order.
// A multi-line match is attached to the line it starts on. Non-adjacent blocks
// are separated by a line with LineNumber 0.
func buildLines(text string, matches []*GrepMatch, before, after, maxLen int) []GrepLine {
	if len(matches) == 0 {
		return nil
	}
	idx := newLineIndex(text)
	total := idx.count(text)

	byLine := make(map[int][]*GrepMatch)
	var wanted []int
	seen := make(map[int]bool)
	for _, m := range matches {
		if m.End() > len(text) {
			continue
		}
		byLine[m.LineNumber] = append(byLine[m.LineNumber], m)
		for n := max(1, m.LineNumber-before); n <= min(total, m.LineNumber+after); n++ {
			if !seen[n] {
				seen[n] = true
				wanted = append(wanted, n)
			}
		}
	}
	sort.Ints(wanted)

	lines := make([]GrepLine, 0, len(wanted))
	prev := 0
	for _, n := range wanted {
		if prev > 0 && n > prev+1 {
			lines = append(lines, GrepLine{LineNumber: 0, IsContext: true})
		}
		body, truncated := truncateRunes(idx.text(text, n), maxLen)
		lines = append(lines, GrepLine{
			LineNumber: n,
			Text:       body,
			Truncated:  truncated,
			IsContext:  len(byLine[n]) == 0,
			Matches:    byLine[n],
		})
		prev = n
	}
	return lines
}

// truncateRunes cuts s to at most limit runes without splitting one
func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
