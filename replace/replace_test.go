package replace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/text/encoding/unicode"

	"find-replace/config"
	"find-replace/search"
)

func searchDir(t *testing.T, root string, c search.Criteria) []*search.GrepSearchResult {
	t.Helper()
	e := search.NewEngine(nil, search.NewDefaultPluginRegistry())
	e.Workers = 2
	set, err := e.Search(context.Background(), []string{root}, c)
	require.NoError(t, err, "search should succeed")
	return set.Results
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o640), "writing %s", name)
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "reading %s", path)
	return string(data)
}

func noBackups() *Replacer {
	return NewReplacer(&config.Settings{Workers: 2})
}

func TestReplaceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", []byte("colour one\ncolour two colour\n"))
	b := writeFile(t, dir, "b.txt", []byte("no match here\n"))
	c := writeFile(t, dir, "c.txt", []byte("Colour\n"))

	results := searchDir(t, dir, search.DefaultCriteria("colour"))
	require.Len(t, results, 2)

	r := noBackups()
	outcomes := r.Replace(context.Background(), results, "color")
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.NoError(t, o.Err, "replace %s", o.Path)
		assert.Empty(t, o.Backup)
	}
	assert.Equal(t, 3, outcomes[0].Replaced)
	assert.Equal(t, 1, outcomes[1].Replaced)

	assert.Equal(t, "color one\ncolor two color\n", readFile(t, a))
	assert.Equal(t, "no match here\n", readFile(t, b))
	assert.Equal(t, "color\n", readFile(t, c))

	info, err := os.Stat(a)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm(), "mode is kept")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files are left behind")
	assert.Equal(t, 0, r.locks.held(), "locks are released")
}

func TestZeroValueReplacer(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", []byte("colour\n"))
	results := searchDir(t, dir, search.DefaultCriteria("colour"))

	r := &Replacer{Backup: config.BackupSettings{Enabled: true, Suffix: ".orig"}}
	outcomes := r.Replace(context.Background(), results, "color")
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, "color\n", readFile(t, a))
	assert.Equal(t, "colour\n", readFile(t, outcomes[0].Backup))

	require.NoError(t, r.Undo(context.Background(), outcomes[0]))
	assert.Equal(t, "colour\n", readFile(t, a))
	assert.Equal(t, 0, r.locks.held())
}

func TestReplaceOnlyApprovedMatches(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("x x x\n"))

	results := searchDir(t, dir, search.DefaultCriteria("x"))
	require.Len(t, results, 1)
	require.Len(t, results[0].Matches, 3)
	results[0].Matches[1].ReplaceMatch = false

	outcomes := noBackups().Replace(context.Background(), results, "yy")
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, 2, outcomes[0].Replaced)
	assert.Equal(t, "yy x yy\n", readFile(t, path))

	for _, m := range results[0].Matches {
		m.ReplaceMatch = false
	}
	defs, refused := Definitions(results, "z")
	assert.Empty(t, defs, "results without approved matches are skipped")
	assert.Empty(t, refused)
}

func TestReplaceRegexGroups(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mail.txt", []byte("bob@example.com, ann@example.com\n"))

	c := search.DefaultCriteria(`(?P<user>\w+)@example\.com`)
	c.Type = search.TypeRegex
	results := searchDir(t, dir, c)

	outcomes := noBackups().Replace(context.Background(), results, "$user@example.org <$1>")
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, "bob@example.org <bob>, ann@example.org <ann>\n", readFile(t, path))
}

func TestReplaceKeepsEncoding(t *testing.T) {
	dir := t.TempDir()
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	raw, err := enc.NewEncoder().Bytes([]byte("smörgåsbord\nsmörgåsbord\n"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFE}, raw[:2], "fixture starts with a byte-order mark")
	path := writeFile(t, dir, "utf16.txt", raw)

	results := searchDir(t, dir, search.DefaultCriteria("smörgåsbord"))
	require.Len(t, results, 1)
	assert.Equal(t, "utf-16le", results[0].Encoding)
	assert.True(t, results[0].HasBOM)

	outcomes := noBackups().Replace(context.Background(), results, "buffet")
	require.NoError(t, outcomes[0].Err)

	want, err := enc.NewEncoder().Bytes([]byte("buffet\nbuffet\n"))
	require.NoError(t, err)
	assert.Equal(t, string(want), readFile(t, path), "encoding and byte-order mark are preserved")
}

func TestReplaceDetectsChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("keep the needle\n"))

	results := searchDir(t, dir, search.DefaultCriteria("needle"))
	require.Len(t, results, 1)

	require.NoError(t, os.WriteFile(path, []byte("someone edited this file\n"), 0o640))

	outcomes := noBackups().Replace(context.Background(), results, "pin")
	err := outcomes[0].Err
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReplaceWrite)
	assert.ErrorIs(t, err, ErrFileChanged)

	var we *ReplaceWriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, StageVerify, we.Stage)
	assert.Equal(t, "someone edited this file\n", readFile(t, path), "file is untouched")
}

func TestReplaceAtomicFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("old value\n"))
	results := searchDir(t, dir, search.DefaultCriteria("old"))

	r := NewReplacer(&config.Settings{Workers: 1, Backup: config.BackupSettings{Enabled: true, Suffix: ".bak"}})
	r.writeTemp = func(f *os.File, data []byte) error {
		if _, err := f.Write(data[:2]); err != nil {
			return err
		}
		return errors.New("disk full")
	}

	outcomes := r.Replace(context.Background(), results, "new")
	require.Error(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[0].Err, ErrReplaceWrite)
	assert.Contains(t, outcomes[0].Err.Error(), "disk full")

	assert.Equal(t, "old value\n", readFile(t, path), "original content is intact")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file and backup are removed")
	assert.Equal(t, "a.txt", entries[0].Name())
}

func TestReplaceBackupAndUndo(t *testing.T) {
	t.Run("suffix_next_to_file", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", []byte("alpha\n"))
		settings := config.BackupSettings{Enabled: true, Suffix: ".orig"}

		r := NewReplacer(&config.Settings{Backup: settings})
		outcomes := r.Replace(context.Background(), searchDir(t, dir, search.DefaultCriteria("alpha")), "beta")
		require.NoError(t, outcomes[0].Err)
		assert.Equal(t, path+".orig", outcomes[0].Backup)
		assert.Equal(t, "alpha\n", readFile(t, outcomes[0].Backup))
		assert.Equal(t, "beta\n", readFile(t, path))

		latest, err := LatestBackup(settings, path)
		require.NoError(t, err)
		assert.Equal(t, outcomes[0].Backup, latest)

		require.NoError(t, r.Undo(context.Background(), outcomes[0]))
		assert.Equal(t, "alpha\n", readFile(t, path))
		assert.NoFileExists(t, outcomes[0].Backup, "backup is consumed by undo")

		_, err = LatestBackup(settings, path)
		assert.ErrorIs(t, err, ErrNoBackup)
	})

	t.Run("backup_dir_keeps_latest", func(t *testing.T) {
		dir := t.TempDir()
		backups := filepath.Join(t.TempDir(), "bak")
		path := writeFile(t, dir, "a.txt", []byte("v1\n"))
		settings := config.BackupSettings{Enabled: true, Dir: backups, Suffix: ".bak"}

		r := NewReplacer(&config.Settings{Backup: settings})
		clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		r.now = func() time.Time { return clock }

		first := r.Replace(context.Background(), searchDir(t, dir, search.DefaultCriteria("v1")), "v2")
		require.NoError(t, first[0].Err)
		clock = clock.Add(time.Second)
		second := r.Replace(context.Background(), searchDir(t, dir, search.DefaultCriteria("v2")), "v3")
		require.NoError(t, second[0].Err)

		assert.True(t, strings.HasPrefix(second[0].Backup, backups), "backup lives in the backup dir")
		latest, err := LatestBackup(settings, path)
		require.NoError(t, err)
		assert.Equal(t, second[0].Backup, latest)
		assert.Equal(t, "v2\n", readFile(t, latest))
	})

	t.Run("undo_without_backup", func(t *testing.T) {
		err := noBackups().Undo(context.Background(), Outcome{Path: "a.txt"})
		assert.ErrorIs(t, err, ErrNoBackup)
	})
}

func TestReplaceRefusesReadOnlyResults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blob.dat", []byte("\x00needle\x00"))

	c := search.DefaultCriteria("needle")
	c.IncludeBinary = true
	results := searchDir(t, dir, c)
	require.Len(t, results, 1)
	require.True(t, results[0].IsHex)

	outcomes := noBackups().Replace(context.Background(), results, "pin")
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, ErrUnsupportedReplace)
	assert.Equal(t, "\x00needle\x00", readFile(t, filepath.Join(dir, "blob.dat")))
}

func TestReplaceCancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("x\n"))
	results := searchDir(t, dir, search.DefaultCriteria("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes := noBackups().Replace(ctx, results, "y")
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
	assert.Equal(t, "x\n", readFile(t, path))
}

func TestVerifyRejectsOverlap(t *testing.T) {
	text := "abcdef"
	_, err := verify(text, []*search.GrepMatch{
		{Offset: 0, Length: 4, Value: "abcd"},
		{Offset: 2, Length: 3, Value: "cde"},
	})
	assert.Error(t, err)

	sorted, err := verify(text, []*search.GrepMatch{
		{Offset: 0, Length: 1, Value: "a"},
		{Offset: 4, Length: 2, Value: "ef"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, sorted[0].Offset, "descending offsets")
}

func TestPathLocks(t *testing.T) {
	var l pathLocks
	var mu sync.Mutex
	inside := 0
	peak := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("./same/../same/file.txt")
			mu.Lock()
			inside++
			peak = max(peak, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak, "one writer per path")
	assert.Equal(t, 0, l.held(), "entries are dropped when unused")
}

func TestBackupPath(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 123, time.UTC)
	assert.Equal(t, "/x/a.txt.bak", backupPath(config.BackupSettings{}, "/x/a.txt", now))
	assert.Equal(t,
		filepath.Join("/b", "a.txt.20240506T070809.000000123.old"),
		backupPath(config.BackupSettings{Dir: "/b", Suffix: ".old"}, "/x/a.txt", now))
}
