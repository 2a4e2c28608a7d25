package search

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreStack(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("# comment\n*.tmp\n/only-root.txt\nlogs/\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, ".gitignore"), []byte("!keep.tmp\n"), 0o644))

	g := &ignoreStack{}
	g.push(root)

	tests := []struct {
		name  string
		path  string
		isDir bool
		want  bool
	}{
		{name: "glob_at_root", path: filepath.Join(root, "a.tmp"), want: true},
		{name: "glob_in_subdir", path: filepath.Join(root, "x", "b.tmp"), want: true},
		{name: "anchored_at_root", path: filepath.Join(root, "only-root.txt"), want: true},
		{name: "anchored_not_in_subdir", path: filepath.Join(sub, "only-root.txt"), want: false},
		{name: "dir_only_rule_on_dir", path: filepath.Join(root, "logs"), isDir: true, want: true},
		{name: "dir_only_rule_on_file", path: filepath.Join(root, "logs"), want: false},
		{name: "unmatched", path: filepath.Join(root, "main.go"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.ignored(tt.path, tt.isDir))
		})
	}

	t.Run("deeper_negation_wins", func(t *testing.T) {
		g.push(sub)
		defer g.pop()
		assert.False(t, g.ignored(filepath.Join(sub, "keep.tmp"), false))
		assert.True(t, g.ignored(filepath.Join(sub, "drop.tmp"), false))
	})

	t.Run("missing_file_pushes_empty_level", func(t *testing.T) {
		empty := t.TempDir()
		s := &ignoreStack{}
		s.push(empty)
		assert.Len(t, s.levels, 1)
		assert.False(t, s.ignored(filepath.Join(empty, "a.tmp"), false))
		s.pop()
		assert.Empty(t, s.levels)
	})
}
