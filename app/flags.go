package app

import (
	"time"

	"github.com/spf13/pflag"
	"gitlab.com/tozd/go/errors"

	"find-replace/search"
)

// dateLayout is accepted by the --modified-after and --modified-before flags
const dateLayout = "2006-01-02"

// criteriaFlags are the search options shared by the search and replace commands
type criteriaFlags struct {
	searchType    string
	caseSensitive bool
	wholeWord     bool
	multiline     bool
	singleline    bool

	include    string
	exclude    string
	excludeDir string

	sizeFrom int64
	sizeTo   int64
	sizeUnit string

	modifiedAfter  string
	modifiedBefore string
	hoursFrom      int
	hoursTo        int

	codepage int

	noRecurse      bool
	hidden         bool
	system         bool
	binary         bool
	archives       bool
	gitignore      bool
	followSymlinks bool

	first     bool
	zero      bool
	countOnly bool
	maxLine   int
}

func (f *criteriaFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.searchType, "type", "t", "plain", "Pattern type: plain, regex, xpath or fuzzy")
	fs.BoolVarP(&f.caseSensitive, "case-sensitive", "s", false, "Match case")
	fs.BoolVarP(&f.wholeWord, "whole-word", "w", false, "Only match whole words")
	fs.BoolVar(&f.multiline, "multiline", false, "Regex runs over the whole file, ^ and $ match at line breaks")
	fs.BoolVar(&f.singleline, "singleline", false, "Regex . also matches line breaks")

	fs.StringVarP(&f.include, "include", "i", "", "File globs to search, separated by ; or ,")
	fs.StringVarP(&f.exclude, "exclude", "x", "", "File globs to skip")
	fs.StringVar(&f.excludeDir, "exclude-dir", "", "Directory globs to skip")

	fs.Int64Var(&f.sizeFrom, "size-from", 0, "Minimum file size")
	fs.Int64Var(&f.sizeTo, "size-to", 0, "Maximum file size (0 = unbounded)")
	fs.StringVar(&f.sizeUnit, "size-unit", "KB", "Unit for --size-from and --size-to: B, KB, MB or GB")

	fs.StringVar(&f.modifiedAfter, "modified-after", "", "Only files modified on or after this date ("+dateLayout+")")
	fs.StringVar(&f.modifiedBefore, "modified-before", "", "Only files modified before this date ("+dateLayout+")")
	fs.IntVar(&f.hoursFrom, "hours-from", 0, "Only files modified at least this many hours ago")
	fs.IntVar(&f.hoursTo, "hours-to", 0, "Only files modified at most this many hours ago (0 = no limit)")

	fs.IntVar(&f.codepage, "codepage", 0, "Force a Windows codepage instead of detecting the encoding")

	fs.BoolVar(&f.noRecurse, "no-recurse", false, "Do not descend into subdirectories")
	fs.BoolVar(&f.hidden, "hidden", false, "Include hidden files and directories")
	fs.BoolVar(&f.system, "system", false, "Include system files")
	fs.BoolVar(&f.binary, "binary", false, "Search binary files byte for byte")
	fs.BoolVar(&f.archives, "archives", false, "Search inside zip archives")
	fs.BoolVar(&f.gitignore, "gitignore", false, "Honor .gitignore files")
	fs.BoolVar(&f.followSymlinks, "follow-symlinks", false, "Follow symbolic links")

	fs.BoolVar(&f.first, "first", false, "Stop at the first match in each file")
	fs.BoolVar(&f.zero, "zero", false, "List files without matches too")
	fs.BoolVarP(&f.countOnly, "count", "c", false, "Only count matches")
	fs.IntVar(&f.maxLine, "max-line-length", 0, "Truncate displayed lines to this many characters")
}

// criteria converts the flags to search criteria
func (f *criteriaFlags) criteria(pattern string) (search.Criteria, error) {
	c := search.DefaultCriteria(pattern)

	t, err := search.ParseSearchType(f.searchType)
	if err != nil {
		return c, err
	}
	c.Type = t
	c.CaseSensitive = f.caseSensitive
	c.WholeWord = f.wholeWord
	c.Multiline = f.multiline
	c.Singleline = f.singleline

	c.IncludeGlobs = f.include
	c.ExcludeGlobs = f.exclude
	c.ExcludeDirGlobs = f.excludeDir

	if f.sizeFrom > 0 || f.sizeTo > 0 {
		unit, err := search.ParseSizeUnit(f.sizeUnit)
		if err != nil {
			return c, err
		}
		c.Size = search.SizeFilter{Enabled: true, From: f.sizeFrom, To: f.sizeTo, Unit: unit}
	}

	switch {
	case f.modifiedAfter != "" || f.modifiedBefore != "":
		c.Date.Mode = search.DateAbsolute
		if c.Date.From, err = parseDate("modified-after", f.modifiedAfter); err != nil {
			return c, err
		}
		if c.Date.To, err = parseDate("modified-before", f.modifiedBefore); err != nil {
			return c, err
		}
	case f.hoursFrom > 0 || f.hoursTo > 0:
		c.Date = search.DateFilter{Mode: search.DateRelative, HoursFrom: f.hoursFrom, HoursTo: f.hoursTo}
	}

	c.Codepage = f.codepage
	c.IncludeSubfolders = !f.noRecurse
	c.IncludeHidden = f.hidden
	c.IncludeSystem = f.system
	c.IncludeBinary = f.binary
	c.IncludeArchive = f.archives
	c.UseGitignore = f.gitignore
	c.FollowSymlinks = f.followSymlinks

	c.StopAfterFirstMatch = f.first
	c.IncludeZeroMatches = f.zero
	c.CountOnly = f.countOnly
	c.MaxLineLength = f.maxLine
	return c, nil
}

func parseDate(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, value, time.Local)
	if err != nil {
		return time.Time{}, errors.Errorf("--%s: %w", flag, err)
	}
	return t, nil
}
