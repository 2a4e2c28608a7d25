package search

import (
	"time"
)

// GrepMatch is one located occurrence of the pattern.
// Offsets are byte offsets into the decoded content.
type GrepMatch struct {
	FilePath      string
	LineNumber    int
	StartLocation int
	Offset        int
	Length        int
	Value         string

	// Groups holds regex submatch spans relative to Offset, as pairs; -1 marks an unset group.
	Groups []int

	// ReplaceMatch includes the match in a replace pass. Consumers toggle it before replacing.
	ReplaceMatch bool
}

// End returns the offset just past the match
func (m *GrepMatch) End() int {
	return m.Offset + m.Length
}

// GrepLine is one line of a searched file. LineNumber <= 0 marks a separator between
// non-adjacent context blocks.
type GrepLine struct {
	LineNumber int
	Text       string
	Truncated  bool
	IsContext  bool
	Matches    []*GrepMatch
}

// GrepSearchResult is one file's outcome
type GrepSearchResult struct {
	FilePath      string
	ArchiveMember string

	Success      bool
	ErrorMessage string
	Err          error `json:"-"`

	IsHex       bool
	IsExtracted bool
	Encoding    string
	HasBOM      bool

	FileSize int64
	ModTime  time.Time

	MatchCount int
	Matches    []*GrepMatch

	// Lines is nil until materialized
	Lines []GrepLine

	AdditionalInfo string

	query *Query
}

// DisplayPath returns the path with the archive member appended after "!"
func (r *GrepSearchResult) DisplayPath() string {
	if r.ArchiveMember == "" {
		return r.FilePath
	}
	return r.FilePath + "!" + r.ArchiveMember
}

// Query returns the query that produced the result
func (r *GrepSearchResult) Query() *Query {
	return r.query
}

// ReadOnly reports whether the result cannot be fed to a replace pass
func (r *GrepSearchResult) ReadOnly() bool {
	return r.IsExtracted || r.IsHex || r.ArchiveMember != ""
}

// ApprovedMatches returns the matches flagged for replacement, in file order
func (r *GrepSearchResult) ApprovedMatches() []*GrepMatch {
	var out []*GrepMatch
	for _, m := range r.Matches {
		if m.ReplaceMatch {
			out = append(out, m)
		}
	}
	return out
}

func (r *GrepSearchResult) fail(err error) {
	r.Success = false
	r.Err = err
	r.ErrorMessage = err.Error()
}

// Summary describes a finished or cancelled search
type Summary struct {
	FilesSearched int
	FilesMatched  int
	FilesFailed   int
	TotalMatches  int
	Elapsed       time.Duration
	Cancelled     bool
}

// ResultSet is the ordered outcome of one search
type ResultSet struct {
	Query   *Query
	Results []*GrepSearchResult
	Summary Summary
}
