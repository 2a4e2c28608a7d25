package search

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "creating parent of %s", name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "writing %s", name)
	}
}

func newTestEngine(workers int) *Engine {
	e := NewEngine(nil, NewDefaultPluginRegistry())
	e.Workers = workers
	return e
}

func displayPaths(root string, results []*GrepSearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		rel, err := filepath.Rel(root, r.FilePath)
		if err != nil {
			rel = r.FilePath
		}
		rel = filepath.ToSlash(rel)
		if r.ArchiveMember != "" {
			rel += "!" + r.ArchiveMember
		}
		out = append(out, rel)
	}
	return out
}

func TestSearchEmptyTree(t *testing.T) {
	root := t.TempDir()
	set, err := newTestEngine(2).Search(context.Background(), []string{root}, DefaultCriteria("needle"))
	require.NoError(t, err)

	assert.Empty(t, set.Results)
	assert.Equal(t, 0, set.Summary.FilesSearched)
	assert.Equal(t, 0, set.Summary.TotalMatches)
	assert.False(t, set.Summary.Cancelled)
	assert.Positive(t, int64(set.Summary.Elapsed), "elapsed is measured even for empty trees")
}

func TestSearchStableOrder(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for _, name := range []string{"a.txt", "b/c.txt", "b/d/e.txt", "f.txt", "g/h.txt", "z.txt"} {
		files[name] = "one needle\ntwo needle\n"
	}
	files["b/skip.txt"] = "nothing to see\n"
	writeTree(t, root, files)

	want := []string{"a.txt", "b/c.txt", "b/d/e.txt", "f.txt", "g/h.txt", "z.txt"}
	for run := 0; run < 5; run++ {
		set, err := newTestEngine(4).Search(context.Background(), []string{root}, DefaultCriteria("needle"))
		require.NoError(t, err)
		assert.Equal(t, want, displayPaths(root, set.Results), "run %d order", run)
		assert.Equal(t, 7, set.Summary.FilesSearched)
		assert.Equal(t, 6, set.Summary.FilesMatched)
		assert.Equal(t, 12, set.Summary.TotalMatches)
	}
}

func TestSearchMatchFields(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"notes.txt": "first\nsay Hello world\n"})

	set, err := newTestEngine(1).Search(context.Background(), []string{root}, DefaultCriteria("hello"))
	require.NoError(t, err)
	require.Len(t, set.Results, 1)

	r := set.Results[0]
	assert.True(t, r.Success)
	assert.Equal(t, "utf-8", r.Encoding)
	assert.Equal(t, 1, r.MatchCount)
	require.Len(t, r.Matches, 1)

	m := r.Matches[0]
	assert.Equal(t, 2, m.LineNumber)
	assert.Equal(t, 4, m.StartLocation)
	assert.Equal(t, 10, m.Offset)
	assert.Equal(t, "Hello", m.Value)
	assert.True(t, m.ReplaceMatch, "matches are approved by default")
	assert.Nil(t, r.Lines, "lines are built on demand")
}

func TestSearchCancelAfterProgress(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for _, name := range []string{"01.txt", "02.txt", "03.txt", "04.txt", "05.txt", "06.txt"} {
		files[name] = "needle\n"
	}
	writeTree(t, root, files)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newTestEngine(1)
	e.OnProgress = func(stage string, processed, _ int, _ string) {
		if stage == StageSearch && processed == 2 {
			cancel()
		}
	}

	set, err := e.Search(ctx, []string{root}, DefaultCriteria("needle"))
	require.NoError(t, err, "cancellation is reported in the summary")
	assert.True(t, set.Summary.Cancelled)
	assert.Equal(t, 2, set.Summary.FilesSearched, "no file starts after cancellation")
	assert.Equal(t, []string{"01.txt", "02.txt"}, displayPaths(root, set.Results))
}

func TestStreamBreakCancels(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		files[name] = "needle\n"
	}
	writeTree(t, root, files)

	s, err := newTestEngine(2).Stream(context.Background(), []string{root}, DefaultCriteria("needle"))
	require.NoError(t, err)

	seen := 0
	for range s.Results() {
		seen++
		break
	}
	summary := s.Wait()
	assert.Equal(t, 1, seen)
	assert.GreaterOrEqual(t, summary.FilesSearched, 1)
}

func TestSearchIncludeZeroMatches(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"hit.txt": "needle", "miss.txt": "hay"})

	c := DefaultCriteria("needle")
	set, err := newTestEngine(2).Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"hit.txt"}, displayPaths(root, set.Results))

	c.IncludeZeroMatches = true
	set, err = newTestEngine(2).Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	require.Equal(t, []string{"hit.txt", "miss.txt"}, displayPaths(root, set.Results))
	assert.True(t, set.Results[1].Success)
	assert.Equal(t, 0, set.Results[1].MatchCount)
}

func TestSearchFailures(t *testing.T) {
	t.Run("missing_root", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope")
		set, err := newTestEngine(1).Search(context.Background(), []string{missing}, DefaultCriteria("x"))
		require.NoError(t, err, "per-file failures never abort the batch")
		require.Len(t, set.Results, 1)
		assert.False(t, set.Results[0].Success)
		assert.ErrorIs(t, set.Results[0].Err, ErrFileAccess)
		assert.Equal(t, 1, set.Summary.FilesFailed)
	})

	t.Run("file_too_large", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"big.txt": "needle needle needle needle", "small.txt": "needle"})
		e := newTestEngine(1)
		e.MaxFileSize = 10

		set, err := e.Search(context.Background(), []string{root}, DefaultCriteria("needle"))
		require.NoError(t, err)
		require.Equal(t, []string{"big.txt", "small.txt"}, displayPaths(root, set.Results))
		assert.False(t, set.Results[0].Success)
		assert.ErrorIs(t, set.Results[0].Err, ErrFileTooLarge)
		assert.True(t, set.Results[1].Success)
	})

	t.Run("invalid_criteria", func(t *testing.T) {
		c := DefaultCriteria("(")
		c.Type = TypeRegex
		_, err := newTestEngine(1).Search(context.Background(), []string{t.TempDir()}, c)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("no_roots", func(t *testing.T) {
		_, err := newTestEngine(1).Search(context.Background(), nil, DefaultCriteria("x"))
		assert.ErrorIs(t, err, ErrConfiguration)

		_, err = newTestEngine(1).StreamQuery(context.Background(), []string{"."}, nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestSearchWalkRules(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"top.txt":              "needle",
		"sub/deep.txt":         "needle",
		".hidden/secret.txt":   "needle",
		"node_modules/dep.txt": "needle",
		"photo.png":            "\x89PNG\r\n\x1a\n\x00\x00needle",
		"scan.png":             "needle in plain text",
		"app.log":              "needle",
		"keep.log":             "needle",
		"build/out.txt":        "needle",
		".gitignore":           "*.log\n!keep.log\nbuild/\n",
	})

	tests := []struct {
		name  string
		setup func(c *Criteria)
		want  []string
	}{
		{
			// scan.png is text despite its extension
			name: "defaults",
			want: []string{"app.log", "build/out.txt", "keep.log", "scan.png", "sub/deep.txt", "top.txt"},
		},
		{
			name:  "no_recursion",
			setup: func(c *Criteria) { c.IncludeSubfolders = false },
			want:  []string{"app.log", "keep.log", "scan.png", "top.txt"},
		},
		{
			name:  "hidden",
			setup: func(c *Criteria) { c.IncludeHidden = true; c.IncludeGlobs = "*.txt" },
			want:  []string{".hidden/secret.txt", "build/out.txt", "sub/deep.txt", "top.txt"},
		},
		{
			name:  "gitignore",
			setup: func(c *Criteria) { c.UseGitignore = true },
			want:  []string{"keep.log", "scan.png", "sub/deep.txt", "top.txt"},
		},
		{
			name:  "binary_extension_included",
			setup: func(c *Criteria) { c.IncludeBinary = true; c.IncludeGlobs = "*.png" },
			want:  []string{"photo.png", "scan.png"},
		},
		{
			name:  "exclude_dir",
			setup: func(c *Criteria) { c.ExcludeDirGlobs = "sub;build" },
			want:  []string{"app.log", "keep.log", "scan.png", "top.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCriteria("needle")
			if tt.setup != nil {
				tt.setup(&c)
			}
			set, err := newTestEngine(3).Search(context.Background(), []string{root}, c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, displayPaths(root, set.Results))
		})
	}
}

func TestSearchRelativeDateWindow(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"fresh.txt": "needle\n", "old.txt": "needle\n"})
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "old.txt"), old, old))

	tests := []struct {
		name      string
		hoursFrom int
		hoursTo   int
		want      []string
	}{
		{"modified within the last 48 hours", 0, 48, []string{"fresh.txt"}},
		{"at least one hour old", 1, 0, []string{"old.txt"}},
		{"between one and 96 hours old", 1, 96, []string{"old.txt"}},
		{"window that excludes both", 1, 48, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCriteria("needle")
			c.Date = DateFilter{Mode: DateRelative, HoursFrom: tt.hoursFrom, HoursTo: tt.hoursTo}
			set, err := newTestEngine(1).Search(context.Background(), []string{root}, c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, displayPaths(root, set.Results))
		})
	}
}

func TestSearchBinaryContent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"blob.dat": "\x00\x01\x02needle\x00"})

	c := DefaultCriteria("needle")
	set, err := newTestEngine(1).Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	assert.Empty(t, set.Results, "binary content is skipped by default")

	c.IncludeBinary = true
	set, err = newTestEngine(1).Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	require.Len(t, set.Results, 1)

	r := set.Results[0]
	assert.True(t, r.IsHex)
	assert.True(t, r.ReadOnly())
	assert.Equal(t, "binary", r.Encoding)
	require.Len(t, r.Matches, 1)
	assert.Equal(t, 3, r.Matches[0].Offset, "binary offsets are byte positions")
}

func TestSearchForcedCodepage(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"latin.txt": "caf\xe9 au lait\n"})

	c := DefaultCriteria("café")
	c.Codepage = 1252
	set, err := newTestEngine(1).Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	require.Len(t, set.Results, 1)
	assert.Equal(t, "windows-1252", set.Results[0].Encoding)
	assert.Equal(t, "café", set.Results[0].Matches[0].Value)
}

func TestSearchForcedCodepageSkipsBinaryDetection(t *testing.T) {
	var utf32le, utf32leBOM strings.Builder
	utf32leBOM.WriteString("\xff\xfe\x00\x00")
	for _, r := range "hello world\n" {
		utf32le.WriteString(string(r) + "\x00\x00\x00")
		utf32leBOM.WriteString(string(r) + "\x00\x00\x00")
	}

	tests := []struct {
		name     string
		content  string
		codepage int
		pattern  string
		bom      bool
	}{
		{"utf-32le without bom", utf32le.String(), 12000, "hello", false},
		{"utf-32le with bom", utf32leBOM.String(), 12000, "hello", true},
		{"utf-16le with nul heavy text", "h\x00\x00\x00e\x00l\x00l\x00o\x00\x00\x00\x00\x00", 1200, "ello", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{"wide.txt": tt.content})

			c := DefaultCriteria(tt.pattern)
			c.Codepage = tt.codepage
			set, err := newTestEngine(1).Search(context.Background(), []string{root}, c)
			require.NoError(t, err)
			require.Len(t, set.Results, 1)
			r := set.Results[0]
			assert.False(t, r.IsHex)
			assert.Equal(t, tt.bom, r.HasBOM)
			assert.Equal(t, 1, r.MatchCount)
			assert.Equal(t, 1, set.Summary.FilesSearched)
		})
	}
}

func TestSearchStopAfterFirstAndCountOnly(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"many.txt": "x x x\nx\n"})

	c := DefaultCriteria("x")
	c.StopAfterFirstMatch = true
	set, err := newTestEngine(1).Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	require.Len(t, set.Results, 1)
	assert.Equal(t, 1, set.Results[0].MatchCount)

	c = DefaultCriteria("x")
	c.CountOnly = true
	e := newTestEngine(1)
	set, err = e.Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	require.Len(t, set.Results, 1)

	r := set.Results[0]
	assert.Equal(t, 4, r.MatchCount)
	assert.Nil(t, r.Matches, "count-only keeps no matches")

	require.NoError(t, e.Materialize(context.Background(), r, LineOptions{}))
	assert.Len(t, r.Matches, 4, "materialize locates matches of count-only results")
	require.Len(t, r.Lines, 2)
	assert.Len(t, r.Lines[0].Matches, 3)
}

func TestSearchArchive(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(root, "bundle.zip")

	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"docs/readme.txt": "line\nfind the needle\n",
		"docs/other.md":   "needle too",
		"img/logo.png":    "needle",
		"inner.zip":       "needle",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	c := DefaultCriteria("needle")
	c.IncludeGlobs = "*.txt;*.md"
	set, err := newTestEngine(2).Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	assert.Empty(t, set.Results, "archives are opaque unless requested")

	c.IncludeArchive = true
	e := newTestEngine(2)
	set, err = e.Search(context.Background(), []string{root}, c)
	require.NoError(t, err)
	require.Equal(t, []string{"bundle.zip!docs/other.md", "bundle.zip!docs/readme.txt"}, displayPaths(root, set.Results))

	r := set.Results[1]
	assert.Equal(t, zipPath, r.FilePath)
	assert.True(t, r.ReadOnly(), "archive members are never rewritten")
	assert.Equal(t, 2, r.Matches[0].LineNumber)

	require.NoError(t, e.Materialize(context.Background(), r, LineOptions{Before: 1}))
	require.Len(t, r.Lines, 2)
	assert.True(t, r.Lines[0].IsContext)
	assert.Equal(t, "find the needle", r.Lines[1].Text)
}

func TestSearchExtractedDocument(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"mail.eml": "From: a@example.com\r\nSubject: Report\r\nContent-Type: text/plain\r\n\r\nThe needle is here.\r\n",
	})

	set, err := newTestEngine(1).Search(context.Background(), []string{root}, DefaultCriteria("needle"))
	require.NoError(t, err)
	require.Len(t, set.Results, 1)

	r := set.Results[0]
	assert.True(t, r.IsExtracted)
	assert.True(t, r.ReadOnly())
	assert.Contains(t, r.AdditionalInfo, "Report")
}

func TestSearchProgressReported(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "b.txt": "x", "c.txt": "y"})

	var calls atomic.Int64
	e := newTestEngine(2)
	e.OnProgress = func(stage string, processed, total int, _ string) {
		if stage == StageSearch {
			calls.Add(1)
			assert.LessOrEqual(t, processed, total)
		}
	}
	_, err := e.Search(context.Background(), []string{root}, DefaultCriteria("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load(), "one progress call per processed file")
}
