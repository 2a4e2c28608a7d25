package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"find-replace/replace"
	"find-replace/search"
)

// Styles shared by the plain printer and the TUI
var (
	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7aa2f7"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7aa2f7"))

	subHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7dcfff")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a9b1d6"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9ece6a")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e0af68")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f7768e")).
			Bold(true)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#565f89"))

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#565f89"))

	matchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1a1b26")).
			Background(lipgloss.Color("#e0af68"))
)

// getTerminalWidth returns the terminal width, defaulting to 80 if unable to detect
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80 // Default fallback width
	}
	return width
}

// createSeparator creates a separator line that fits the terminal width
func createSeparator() string {
	width := getTerminalWidth()
	if width > 120 {
		width = 120 // Maximum reasonable width
	}
	return strings.Repeat("━", width)
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("Error: ")+err.Error())
}

// printer renders results as styled text
type printer struct {
	w         io.Writer
	countOnly bool
}

func (p *printer) result(r *search.GrepSearchResult) {
	path := headerStyle.Render(r.DisplayPath())
	if !r.Success {
		fmt.Fprintf(p.w, "%s %s\n", path, errorStyle.Render(r.ErrorMessage))
		return
	}
	if p.countOnly {
		fmt.Fprintf(p.w, "%s: %s\n", path, search.FormatNumber(r.MatchCount))
		return
	}

	var tags []string
	if r.IsExtracted {
		tags = append(tags, "extracted")
	}
	if r.IsHex {
		tags = append(tags, "binary")
	}
	if r.Encoding != "" && r.Encoding != "utf-8" && !r.IsHex {
		tags = append(tags, r.Encoding)
	}
	header := path
	if len(tags) > 0 {
		header += " " + infoStyle.Render("["+strings.Join(tags, ", ")+"]")
	}
	fmt.Fprintln(p.w, header)
	if r.AdditionalInfo != "" {
		fmt.Fprintln(p.w, "  "+subHeaderStyle.Render(r.AdditionalInfo))
	}

	for _, line := range r.Lines {
		if line.LineNumber <= 0 {
			fmt.Fprintln(p.w, separatorStyle.Render("  --"))
			continue
		}
		mark := ":"
		if line.IsContext {
			mark = "-"
		}
		number := lineNumberStyle.Render(fmt.Sprintf("%6d%s", line.LineNumber, mark))
		fmt.Fprintf(p.w, "%s %s\n", number, highlight(line))
	}
	fmt.Fprintln(p.w)
}

// highlight styles the matched parts of a line
func highlight(line search.GrepLine) string {
	text := line.Text
	var b strings.Builder
	pos := 0
	for _, m := range line.Matches {
		start := m.StartLocation
		end := min(start+m.Length, len(text))
		if start < pos || start >= len(text) {
			continue
		}
		b.WriteString(text[pos:start])
		b.WriteString(matchStyle.Render(text[start:end]))
		pos = end
	}
	b.WriteString(text[pos:])
	if line.Truncated {
		b.WriteString(infoStyle.Render(" …"))
	}
	return b.String()
}

func (p *printer) summary(s search.Summary) {
	fmt.Fprintln(p.w, separatorStyle.Render(createSeparator()))
	line := fmt.Sprintf("%s matches in %s of %s files (%.2fs)",
		search.FormatNumber(s.TotalMatches),
		search.FormatNumber(s.FilesMatched),
		search.FormatNumber(s.FilesSearched),
		s.Elapsed.Seconds())
	switch {
	case s.Cancelled:
		fmt.Fprintln(p.w, warningStyle.Render("Cancelled: ")+line)
	case s.TotalMatches == 0:
		fmt.Fprintln(p.w, warningStyle.Render("No matches: ")+line)
	default:
		fmt.Fprintln(p.w, successStyle.Render("Done: ")+line)
	}
	if s.FilesFailed > 0 {
		fmt.Fprintln(p.w, errorStyle.Render(fmt.Sprintf("%s files could not be searched", search.FormatNumber(s.FilesFailed))))
	}
}

func (p *printer) outcomes(outcomes []replace.Outcome) {
	replaced, failed := 0, 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(p.w, "%s %s\n", errorStyle.Render("✗"), o.Err)
			continue
		}
		replaced += o.Replaced
		line := fmt.Sprintf("%s %s (%d)", successStyle.Render("✓"), o.Path, o.Replaced)
		if o.Backup != "" {
			line += " " + infoStyle.Render("backup: "+o.Backup)
		}
		fmt.Fprintln(p.w, line)
	}
	fmt.Fprintln(p.w, separatorStyle.Render(createSeparator()))
	fmt.Fprintf(p.w, "%s replacements in %d files, %d failed\n",
		search.FormatNumber(replaced), len(outcomes)-failed, failed)
}

// jsonResult is the --json shape of one result
type jsonResult struct {
	Path       string      `json:"path"`
	Member     string      `json:"member,omitempty"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Encoding   string      `json:"encoding,omitempty"`
	Extracted  bool        `json:"extracted,omitempty"`
	Binary     bool        `json:"binary,omitempty"`
	Info       string      `json:"info,omitempty"`
	MatchCount int         `json:"match_count"`
	Matches    []jsonMatch `json:"matches,omitempty"`
}

type jsonMatch struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Offset int    `json:"offset"`
	Value  string `json:"value"`
}

type jsonSummary struct {
	FilesSearched int     `json:"files_searched"`
	FilesMatched  int     `json:"files_matched"`
	FilesFailed   int     `json:"files_failed"`
	TotalMatches  int     `json:"total_matches"`
	ElapsedSec    float64 `json:"elapsed_seconds"`
	Cancelled     bool    `json:"cancelled"`
}

func toJSON(r *search.GrepSearchResult) jsonResult {
	out := jsonResult{
		Path:       r.FilePath,
		Member:     r.ArchiveMember,
		Success:    r.Success,
		Error:      r.ErrorMessage,
		Encoding:   r.Encoding,
		Extracted:  r.IsExtracted,
		Binary:     r.IsHex,
		Info:       r.AdditionalInfo,
		MatchCount: r.MatchCount,
	}
	for _, m := range r.Matches {
		out.Matches = append(out.Matches, jsonMatch{
			Line:   m.LineNumber,
			Column: m.StartLocation + 1,
			Offset: m.Offset,
			Value:  m.Value,
		})
	}
	return out
}

// writeJSON emits one JSON object per result followed by the summary
func writeJSON(w io.Writer, results []*search.GrepSearchResult, s search.Summary) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(toJSON(r)); err != nil {
			return err
		}
	}
	return enc.Encode(map[string]jsonSummary{"summary": {
		FilesSearched: s.FilesSearched,
		FilesMatched:  s.FilesMatched,
		FilesFailed:   s.FilesFailed,
		TotalMatches:  s.TotalMatches,
		ElapsedSec:    s.Elapsed.Round(time.Millisecond).Seconds(),
		Cancelled:     s.Cancelled,
	}})
}
