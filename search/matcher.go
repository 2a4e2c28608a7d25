package search

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/sahilm/fuzzy"
	"gitlab.com/tozd/go/errors"
)

// cancelCheckInterval is how many lines a matcher scans between context checks
const cancelCheckInterval = 1000

// Span is a match in absolute byte offsets of the searched text.
// Groups carries regex submatch offsets as pairs, -1 for unset groups.
type Span struct {
	Start  int
	End    int
	Groups []int
}

// Matcher finds non-overlapping spans in ascending order.
// emit returns false to stop the scan early.
type Matcher interface {
	FindMatches(ctx context.Context, text string, emit func(Span) bool) error
}

func newMatcher(c Criteria) (Matcher, error) {
	switch c.Type {
	case TypePlain:
		m := &plainMatcher{needle: c.Pattern, wholeWord: c.WholeWord, whole: strings.Contains(c.Pattern, "\n")}
		if !c.CaseSensitive {
			m.re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(c.Pattern))
		}
		return m, nil

	case TypeRegex:
		flags := ""
		if !c.CaseSensitive {
			flags += "i"
		}
		if c.Multiline {
			flags += "m"
		}
		if c.Singleline {
			flags += "s"
		}
		expr := c.Pattern
		if flags != "" {
			expr = "(?" + flags + ")" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, configError("regex pattern", c.Pattern, err)
		}
		return &regexMatcher{re: re, whole: c.Multiline || c.Singleline, wholeWord: c.WholeWord}, nil

	case TypeXPath:
		expr, err := xpath.Compile(c.Pattern)
		if err != nil {
			return nil, configError("xpath expression", c.Pattern, err)
		}
		return &xpathMatcher{expr: expr}, nil

	case TypeFuzzy:
		return &fuzzyMatcher{pattern: []rune(c.Pattern), caseSensitive: c.CaseSensitive, wholeWord: c.WholeWord}, nil

	default:
		return nil, configError("search type", c.Type, nil)
	}
}

// Matcher returns the compiled matcher
func (q *Query) Matcher() Matcher {
	return q.matcher
}

// Regexp returns the compiled expression of a regex query, nil otherwise
func (q *Query) Regexp() *regexp.Regexp {
	if m, ok := q.matcher.(*regexMatcher); ok {
		return m.re
	}
	return nil
}

// eachLine calls fn for every line without its terminator, checking ctx periodically
func eachLine(ctx context.Context, text string, fn func(base int, line string) bool) error {
	for n, base := 0, 0; base <= len(text); n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var line string
		next := len(text) + 1
		if i := strings.IndexByte(text[base:], '\n'); i >= 0 {
			line = text[base : base+i]
			next = base + i + 1
		} else {
			line = text[base:]
		}
		if !fn(base, strings.TrimSuffix(line, "\r")) {
			return nil
		}
		base = next
	}
	return nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// atWordBoundary reports whether s[start:end] has no word characters on either side
func atWordBoundary(s string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

type plainMatcher struct {
	needle    string
	re        *regexp.Regexp
	wholeWord bool
	whole     bool
}

func (m *plainMatcher) FindMatches(ctx context.Context, text string, emit func(Span) bool) error {
	if m.whole {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.scan(text, 0, emit)
		return nil
	}
	return eachLine(ctx, text, func(base int, line string) bool {
		return m.scan(line, base, emit)
	})
}

func (m *plainMatcher) scan(s string, base int, emit func(Span) bool) bool {
	for pos := 0; pos < len(s); {
		var start, end int
		if m.re != nil {
			loc := m.re.FindStringIndex(s[pos:])
			if loc == nil {
				return true
			}
			start, end = pos+loc[0], pos+loc[1]
		} else {
			i := strings.Index(s[pos:], m.needle)
			if i < 0 {
				return true
			}
			start, end = pos+i, pos+i+len(m.needle)
		}
		if m.wholeWord && !atWordBoundary(s, start, end) {
			_, size := utf8.DecodeRuneInString(s[start:])
			pos = start + size
			continue
		}
		if !emit(Span{Start: base + start, End: base + end}) {
			return false
		}
		pos = end
	}
	return true
}

type regexMatcher struct {
	re        *regexp.Regexp
	whole     bool
	wholeWord bool
}

func (m *regexMatcher) FindMatches(ctx context.Context, text string, emit func(Span) bool) error {
	if !m.whole {
		return eachLine(ctx, text, func(base int, line string) bool {
			return m.scan(line, base, emit)
		})
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	n := 0
	var cancelled error
	m.scan(text, 0, func(s Span) bool {
		n++
		if n%cancelCheckInterval == 0 {
			if cancelled = ctx.Err(); cancelled != nil {
				return false
			}
		}
		return emit(s)
	})
	return cancelled
}

func (m *regexMatcher) scan(s string, base int, emit func(Span) bool) bool {
	for _, loc := range m.re.FindAllStringSubmatchIndex(s, -1) {
		if loc[0] == loc[1] {
			continue
		}
		if m.wholeWord && !atWordBoundary(s, loc[0], loc[1]) {
			continue
		}
		groups := make([]int, len(loc))
		for i, v := range loc {
			if v < 0 {
				groups[i] = -1
			} else {
				groups[i] = base + v
			}
		}
		if !emit(Span{Start: base + loc[0], End: base + loc[1], Groups: groups}) {
			return false
		}
	}
	return true
}

type xpathMatcher struct {
	expr *xpath.Expr
}

// FindMatches evaluates the expression and maps each selected node back onto text.
// Nodes nested in an already emitted node, and nodes whose source cannot be located, are skipped.
func (m *xpathMatcher) FindMatches(ctx context.Context, text string, emit func(Span) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := xmlquery.Parse(strings.NewReader(text))
	if err != nil {
		return errors.Errorf("parsing XML: %w", err)
	}

	src := newXMLSource(text, doc)
	emitted := map[*xmlquery.Node]bool{}
	cursor := 0
	for i, node := range xmlquery.QuerySelectorAll(doc, m.expr) {
		if i > 0 && i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if insideEmitted(node, emitted) {
			continue
		}
		start, end, ok := src.locate(node, cursor)
		if !ok || start < cursor {
			continue
		}
		if !emit(Span{Start: start, End: end}) {
			return nil
		}
		emitted[node] = true
		cursor = end
	}
	return nil
}

func insideEmitted(node *xmlquery.Node, emitted map[*xmlquery.Node]bool) bool {
	for p := node.Parent; p != nil; p = p.Parent {
		if emitted[p] {
			return true
		}
	}
	return false
}

// elementSpan covers an element from "<" of its start tag to past the ">" of its end tag
type elementSpan struct {
	start, bodyStart, end int
}

// xmlSource maps parsed nodes back to byte ranges of the document text
type xmlSource struct {
	text string
	// ordinal is the position of an element among elements of the same name, in document order
	ordinal map[*xmlquery.Node]int
	spans   map[string][]elementSpan
}

func newXMLSource(text string, doc *xmlquery.Node) *xmlSource {
	s := &xmlSource{text: text, ordinal: map[*xmlquery.Node]int{}, spans: scanElements(text)}
	seen := map[string]int{}
	var walk func(*xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == xmlquery.ElementNode {
				name := qualifiedName(c)
				s.ordinal[c] = seen[name]
				seen[name]++
			}
			walk(c)
		}
	}
	walk(doc)
	return s
}

func qualifiedName(n *xmlquery.Node) string {
	if n.Prefix != "" {
		return n.Prefix + ":" + n.Data
	}
	return n.Data
}

func (s *xmlSource) element(n *xmlquery.Node) (elementSpan, bool) {
	if n == nil || n.Type != xmlquery.ElementNode {
		return elementSpan{}, false
	}
	k, ok := s.ordinal[n]
	spans := s.spans[qualifiedName(n)]
	if !ok || k >= len(spans) || spans[k].end == 0 {
		return elementSpan{}, false
	}
	return spans[k], true
}

// within returns the byte range a child of parent can occupy
func (s *xmlSource) within(parent *xmlquery.Node) (int, int, bool) {
	if parent == nil || parent.Type == xmlquery.DocumentNode {
		return 0, len(s.text), true
	}
	span, ok := s.element(parent)
	return span.bodyStart, span.end, ok
}

func (s *xmlSource) locate(node *xmlquery.Node, cursor int) (int, int, bool) {
	switch node.Type {
	case xmlquery.ElementNode:
		span, ok := s.element(node)
		return span.start, span.end, ok
	case xmlquery.AttributeNode:
		owner, ok := s.element(node.Parent)
		if !ok {
			return 0, 0, false
		}
		return locateAttribute(s.text[:owner.bodyStart], owner.start, node.Data)
	case xmlquery.TextNode, xmlquery.CharDataNode, xmlquery.CommentNode:
		value := node.Data
		if node.Type == xmlquery.CommentNode {
			value = "<!--" + value + "-->"
		} else if strings.TrimSpace(value) == "" {
			return 0, 0, false
		}
		from, to, ok := s.within(node.Parent)
		if !ok {
			return 0, 0, false
		}
		return locateLiteral(s.text[:to], max(from, cursor), value)
	default:
		return 0, 0, false
	}
}

func locateLiteral(text string, from int, value string) (int, int, bool) {
	if from > len(text) {
		return 0, 0, false
	}
	i := strings.Index(text[from:], value)
	if i < 0 {
		return 0, 0, false
	}
	return from + i, from + i + len(value), true
}

// scanElements lists every element span by qualified name, in start-tag order.
// Comments, CDATA sections and processing instructions are skipped.
func scanElements(text string) map[string][]elementSpan {
	spans := map[string][]elementSpan{}
	type open struct {
		name string
		i    int
	}
	var stack []open
	pos := 0
	for pos < len(text) {
		lt := strings.IndexByte(text[pos:], '<')
		if lt < 0 {
			break
		}
		at := pos + lt
		rest := text[at:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			pos = skipPast(text, at, "-->")
		case strings.HasPrefix(rest, "<![CDATA["):
			pos = skipPast(text, at, "]]>")
		case strings.HasPrefix(rest, "<?"):
			pos = skipPast(text, at, "?>")
		case strings.HasPrefix(rest, "<!"):
			pos = skipPast(text, at, ">")
		case strings.HasPrefix(rest, "</"):
			pos = skipPast(text, at, ">")
			name := tagName(text[at+2:])
			for k := len(stack) - 1; k >= 0; k-- {
				if stack[k].name == name {
					spans[name][stack[k].i].end = pos
					stack = stack[:k]
					break
				}
			}
		default:
			name := tagName(text[at+1:])
			gt := startTagEnd(text, at)
			if name == "" || gt < 0 {
				pos = at + 1
				continue
			}
			span := elementSpan{start: at, bodyStart: gt}
			if text[gt-2] == '/' {
				span.end = gt
			}
			spans[name] = append(spans[name], span)
			if span.end == 0 {
				stack = append(stack, open{name: name, i: len(spans[name]) - 1})
			}
			pos = gt
		}
	}
	return spans
}

func skipPast(text string, from int, terminator string) int {
	i := strings.Index(text[from:], terminator)
	if i < 0 {
		return len(text)
	}
	return from + i + len(terminator)
}

func tagName(s string) string {
	end := strings.IndexAny(s, " \t\r\n/>")
	if end < 0 {
		return ""
	}
	return s[:end]
}

// startTagEnd returns the offset just past the ">" closing the start tag at from
func startTagEnd(text string, from int) int {
	var quote byte
	for i := from + 1; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i + 1
		}
	}
	return -1
}

// locateAttribute spans the quoted value of the next name="..." attribute
func locateAttribute(text string, from int, name string) (int, int, bool) {
	for from < len(text) {
		i := strings.Index(text[from:], name)
		if i < 0 {
			return 0, 0, false
		}
		at := from + i
		from = at + len(name)
		if at > 0 {
			if c := text[at-1]; c != ' ' && c != '\t' && c != '\n' && c != '\r' && c != ':' {
				continue
			}
		}
		j := from
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		if j >= len(text) || text[j] != '=' {
			continue
		}
		j++
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		if j >= len(text) || (text[j] != '"' && text[j] != '\'') {
			continue
		}
		quote := text[j]
		end := strings.IndexByte(text[j+1:], quote)
		if end < 0 {
			return 0, 0, false
		}
		return j + 1, j + 1 + end, true
	}
	return 0, 0, false
}

type fuzzyMatcher struct {
	pattern       []rune
	caseSensitive bool
	wholeWord     bool
}

type lineSource []string

func (s lineSource) String(i int) string { return s[i] }
func (s lineSource) Len() int            { return len(s) }

// FindMatches scores lines in blocks; a match spans the first to last matched character
func (m *fuzzyMatcher) FindMatches(ctx context.Context, text string, emit func(Span) bool) error {
	pattern := string(m.pattern)
	lines := make(lineSource, 0, cancelCheckInterval)
	bases := make([]int, 0, cancelCheckInterval)
	stopped := false

	flush := func() bool {
		found := fuzzy.FindFrom(pattern, lines)
		sort.Slice(found, func(i, j int) bool { return found[i].Index < found[j].Index })
		for _, f := range found {
			idx := f.MatchedIndexes
			if len(idx) == 0 {
				continue
			}
			line := lines[f.Index]
			if m.caseSensitive && !m.exact(line, idx) {
				continue
			}
			_, size := utf8.DecodeRuneInString(line[idx[len(idx)-1]:])
			start, end := idx[0], idx[len(idx)-1]+size
			if m.wholeWord && !atWordBoundary(line, start, end) {
				continue
			}
			if !emit(Span{Start: bases[f.Index] + start, End: bases[f.Index] + end}) {
				return false
			}
		}
		lines = lines[:0]
		bases = bases[:0]
		return true
	}

	err := eachLine(ctx, text, func(base int, line string) bool {
		lines = append(lines, line)
		bases = append(bases, base)
		if len(lines) == cancelCheckInterval && !flush() {
			stopped = true
			return false
		}
		return true
	})
	if err != nil || stopped || len(lines) == 0 {
		return err
	}
	flush()
	return nil
}

// exact checks the matched characters against the pattern with case kept
func (m *fuzzyMatcher) exact(line string, idx []int) bool {
	if len(idx) != len(m.pattern) {
		return false
	}
	for k, at := range idx {
		r, _ := utf8.DecodeRuneInString(line[at:])
		if r != m.pattern[k] {
			return false
		}
	}
	return true
}
