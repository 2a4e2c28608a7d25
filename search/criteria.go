package search

import (
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/text/encoding"
)

// SearchType selects the content matcher variant
type SearchType int

const (
	TypePlain SearchType = iota
	TypeRegex
	TypeXPath
	TypeFuzzy
)

func (t SearchType) String() string {
	switch t {
	case TypePlain:
		return "plain"
	case TypeRegex:
		return "regex"
	case TypeXPath:
		return "xpath"
	case TypeFuzzy:
		return "fuzzy"
	default:
		return "unknown"
	}
}

// ParseSearchType maps a name such as "regex" to its SearchType
func ParseSearchType(name string) (SearchType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "plain", "text":
		return TypePlain, nil
	case "regex", "regexp":
		return TypeRegex, nil
	case "xpath":
		return TypeXPath, nil
	case "fuzzy":
		return TypeFuzzy, nil
	default:
		return TypePlain, configError("search type", name, nil)
	}
}

// SizeUnit scales SizeFilter bounds
type SizeUnit int

const (
	UnitBytes SizeUnit = iota
	UnitKB
	UnitMB
	UnitGB
)

func (u SizeUnit) multiplier() int64 {
	switch u {
	case UnitKB:
		return 1 << 10
	case UnitMB:
		return 1 << 20
	case UnitGB:
		return 1 << 30
	default:
		return 1
	}
}

// ParseSizeUnit accepts B, KB, MB and GB in any case
func ParseSizeUnit(s string) (SizeUnit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "B":
		return UnitBytes, nil
	case "KB", "K":
		return UnitKB, nil
	case "MB", "M":
		return UnitMB, nil
	case "GB", "G":
		return UnitGB, nil
	default:
		return UnitBytes, configError("size unit", s, nil)
	}
}

// SizeFilter bounds file size. Zero on either side means unbounded.
type SizeFilter struct {
	Enabled bool
	From    int64
	To      int64
	Unit    SizeUnit
}

// DateMode selects how DateFilter bounds are interpreted
type DateMode int

const (
	DateOff DateMode = iota
	DateAbsolute
	DateRelative
)

// DateFilter bounds the modification time.
// Absolute mode uses From/To (zero time = unbounded).
// Relative mode keeps files modified between HoursTo and HoursFrom hours ago:
// HoursFrom is the minimum age and HoursTo the maximum, zero meaning no upper bound on age.
type DateFilter struct {
	Mode      DateMode
	From      time.Time
	To        time.Time
	HoursFrom int
	HoursTo   int
}

// Criteria holds every search parameter. Compile it into a Query before searching.
type Criteria struct {
	Pattern       string
	Type          SearchType
	CaseSensitive bool
	WholeWord     bool
	Multiline     bool
	Singleline    bool

	IncludeGlobs    string
	ExcludeGlobs    string
	ExcludeDirGlobs string

	Size SizeFilter
	Date DateFilter

	// Codepage forces a Windows codepage number; zero means detect.
	Codepage int

	IncludeSubfolders bool
	IncludeHidden     bool
	IncludeSystem     bool
	IncludeBinary     bool
	IncludeArchive    bool
	UseGitignore      bool
	FollowSymlinks    bool

	StopAfterFirstMatch bool
	IncludeZeroMatches  bool
	CountOnly           bool

	// MaxLineLength truncates stored line text; zero uses the engine default.
	MaxLineLength int
}

// DefaultCriteria returns a plain, case-insensitive, recursive search for pattern
func DefaultCriteria(pattern string) Criteria {
	return Criteria{
		Pattern:           pattern,
		Type:              TypePlain,
		IncludeSubfolders: true,
	}
}

// Query is the compiled, immutable form of Criteria observed by a running search
type Query struct {
	criteria Criteria
	matcher  Matcher
	filter   *Filter
	forced   encoding.Encoding
	forcedAs string
	now      time.Time
}

// Compile validates c and snapshots it. Later changes to c are not observed.
func (c Criteria) Compile() (*Query, error) {
	return c.compileAt(time.Now())
}

func (c Criteria) compileAt(now time.Time) (*Query, error) {
	if c.Pattern == "" {
		return nil, configError("pattern", c.Pattern, errors.New("pattern is empty"))
	}
	if c.MaxLineLength < 0 {
		return nil, configError("max line length", c.MaxLineLength, errors.New("must not be negative"))
	}

	q := &Query{criteria: c, now: now}

	matcher, err := newMatcher(c)
	if err != nil {
		return nil, err
	}
	q.matcher = matcher

	filter, err := newFilter(c, now)
	if err != nil {
		return nil, err
	}
	q.filter = filter

	if c.Codepage != 0 {
		cp, ok := codepages[c.Codepage]
		if !ok {
			return nil, configError("codepage", c.Codepage, errors.New("unsupported codepage"))
		}
		q.forced = cp.enc
		q.forcedAs = cp.name
	}

	return q, nil
}

// Criteria returns a copy of the snapshot the query was compiled from
func (q *Query) Criteria() Criteria {
	return q.criteria
}

// Type returns the matcher variant
func (q *Query) Type() SearchType {
	return q.criteria.Type
}

// Filter returns the compiled file filter
func (q *Query) Filter() *Filter {
	return q.filter
}

// Now returns the reference time used for relative date windows
func (q *Query) Now() time.Time {
	return q.now
}
