package search

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"
)

// FileMeta is what the filter knows about a candidate before reading it
type FileMeta struct {
	Path    string
	RelPath string
	Name    string
	Size    int64
	ModTime time.Time
	Hidden  bool
	System  bool
}

// Reason names the predicate that rejected a file
type Reason string

const (
	Accepted      Reason = ""
	RejectInclude Reason = "include pattern"
	RejectExclude Reason = "exclude pattern"
	RejectSize    Reason = "size"
	RejectDate    Reason = "date"
	RejectHidden  Reason = "hidden"
	RejectSystem  Reason = "system"
	RejectBinary  Reason = "binary"
)

// Filter decides which files get searched. Every rule is independent and all must pass.
type Filter struct {
	include     []string
	exclude     []string
	excludeDirs []string

	sizeEnabled bool
	minSize     int64
	maxSize     int64

	dateEnabled bool
	after       time.Time
	before      time.Time

	includeHidden bool
	includeSystem bool
	includeBinary bool
}

func newFilter(c Criteria, now time.Time) (*Filter, error) {
	f := &Filter{
		includeHidden: c.IncludeHidden,
		includeSystem: c.IncludeSystem,
		includeBinary: c.IncludeBinary,
	}

	var err error
	if f.include, err = parsePatterns("include pattern", c.IncludeGlobs); err != nil {
		return nil, err
	}
	if f.exclude, err = parsePatterns("exclude pattern", c.ExcludeGlobs); err != nil {
		return nil, err
	}
	if f.excludeDirs, err = parsePatterns("exclude directory pattern", c.ExcludeDirGlobs); err != nil {
		return nil, err
	}

	if c.Size.Enabled {
		if c.Size.From < 0 || c.Size.To < 0 {
			return nil, configError("size range", sizeRange(c.Size), errors.New("bounds must not be negative"))
		}
		if c.Size.To > 0 && c.Size.From > c.Size.To {
			return nil, configError("size range", sizeRange(c.Size), errors.New("from is larger than to"))
		}
		f.sizeEnabled = true
		f.minSize = c.Size.From * c.Size.Unit.multiplier()
		f.maxSize = c.Size.To * c.Size.Unit.multiplier()
	}

	switch c.Date.Mode {
	case DateOff:
	case DateAbsolute:
		if !c.Date.From.IsZero() && !c.Date.To.IsZero() && c.Date.From.After(c.Date.To) {
			return nil, configError("date range", dateRange(c.Date), errors.New("from is after to"))
		}
		f.dateEnabled = true
		f.after = c.Date.From
		f.before = c.Date.To
	case DateRelative:
		if c.Date.HoursFrom < 0 || c.Date.HoursTo < 0 {
			return nil, configError("relative date range", hoursRange(c.Date), errors.New("hours must not be negative"))
		}
		if c.Date.HoursTo > 0 && c.Date.HoursFrom > c.Date.HoursTo {
			return nil, configError("relative date range", hoursRange(c.Date), errors.New("hours from is larger than hours to"))
		}
		f.dateEnabled = true
		f.before = now.Add(-time.Duration(c.Date.HoursFrom) * time.Hour)
		if c.Date.HoursTo > 0 {
			f.after = now.Add(-time.Duration(c.Date.HoursTo) * time.Hour)
		}
	default:
		return nil, configError("date mode", c.Date.Mode, nil)
	}

	return f, nil
}

func sizeRange(s SizeFilter) string {
	return fmt.Sprintf("from %d to %d", s.From, s.To)
}

func dateRange(d DateFilter) string {
	return fmt.Sprintf("from %s to %s", d.From.Format(time.RFC3339), d.To.Format(time.RFC3339))
}

func hoursRange(d DateFilter) string {
	return fmt.Sprintf("from %dh to %dh", d.HoursFrom, d.HoursTo)
}

// parsePatterns splits a ";" or "," separated glob list and validates each entry
func parsePatterns(field, s string) ([]string, error) {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		p = strings.ToLower(strings.TrimSpace(filepath.ToSlash(p)))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, configError(field, p, doublestar.ErrBadPattern)
		}
		out = append(out, p)
	}
	return out, nil
}

// Accepts evaluates the metadata rules and returns the first failing one
func (f *Filter) Accepts(meta FileMeta) (bool, Reason) {
	name := strings.ToLower(meta.Name)
	rel := strings.ToLower(filepath.ToSlash(meta.RelPath))
	if rel == "" {
		rel = name
	}

	if len(f.include) > 0 && !matchAny(f.include, name, rel) {
		return false, RejectInclude
	}
	if matchAny(f.exclude, name, rel) {
		return false, RejectExclude
	}
	if f.sizeEnabled {
		if meta.Size < f.minSize || (f.maxSize > 0 && meta.Size > f.maxSize) {
			return false, RejectSize
		}
	}
	if f.dateEnabled {
		if (!f.after.IsZero() && meta.ModTime.Before(f.after)) || (!f.before.IsZero() && meta.ModTime.After(f.before)) {
			return false, RejectDate
		}
	}
	if meta.Hidden && !f.includeHidden {
		return false, RejectHidden
	}
	if meta.System && !f.includeSystem {
		return false, RejectSystem
	}
	return true, Accepted
}

// AcceptsContent applies the binary rule once the file has been classified
func (f *Filter) AcceptsContent(c Classification) (bool, Reason) {
	if c.Binary && !f.includeBinary {
		return false, RejectBinary
	}
	return true, Accepted
}

// AcceptsContainer checks an archive before its members are enumerated.
// Include, size and date rules apply to the members, not the container.
func (f *Filter) AcceptsContainer(meta FileMeta) (bool, Reason) {
	name := strings.ToLower(meta.Name)
	rel := strings.ToLower(filepath.ToSlash(meta.RelPath))
	if matchAny(f.exclude, name, rel) {
		return false, RejectExclude
	}
	if meta.Hidden && !f.includeHidden {
		return false, RejectHidden
	}
	if meta.System && !f.includeSystem {
		return false, RejectSystem
	}
	return true, Accepted
}

// SkipDir reports whether a directory is pruned by hidden or exclude-directory rules
func (f *Filter) SkipDir(name, relPath string, hidden bool) bool {
	if hidden && !f.includeHidden {
		return true
	}
	if len(f.excludeDirs) == 0 {
		return false
	}
	return matchAny(f.excludeDirs, strings.ToLower(name), strings.ToLower(filepath.ToSlash(relPath)))
}

// matchAny matches base names, or relative paths for patterns containing a separator
func matchAny(patterns []string, name, rel string) bool {
	for _, p := range patterns {
		target := name
		if strings.Contains(p, "/") {
			target = rel
		}
		if ok, err := doublestar.Match(p, target); err == nil && ok {
			return true
		}
	}
	return false
}
