package search

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"find-replace/config"
)

// candidate is one file handed from the walker to the workers, numbered in walk order
type candidate struct {
	seq  int
	path string
	rel  string
	info fs.FileInfo
	err  error
}

// fileWalker enumerates candidate files in a deterministic order:
// roots as given, entries of each directory sorted by name
type fileWalker struct {
	skipDirs       []string
	filter         *Filter
	recursive      bool
	gitignore      bool
	followSymlinks bool
}

func newFileWalker(q *Query, skipDirs []string) *fileWalker {
	c := q.criteria
	return &fileWalker{
		skipDirs:       skipDirs,
		filter:         q.filter,
		recursive:      c.IncludeSubfolders,
		gitignore:      c.UseGitignore,
		followSymlinks: c.FollowSymlinks,
	}
}

// walk calls emit for every file under roots until emit returns false or ctx ends
func (fw *fileWalker) walk(ctx context.Context, roots []string, emit func(candidate) bool) {
	for _, root := range roots {
		if ctx.Err() != nil {
			return
		}
		info, err := os.Stat(root)
		if err != nil {
			if !emit(candidate{path: root, err: accessError("stat", root, err)}) {
				return
			}
			continue
		}
		if !info.IsDir() {
			if !emit(candidate{path: root, rel: filepath.Base(root), info: info}) {
				return
			}
			continue
		}

		visited := map[string]bool{}
		if real, err := filepath.EvalSymlinks(root); err == nil {
			visited[real] = true
		}
		if !fw.walkDir(ctx, root, root, &ignoreStack{}, visited, emit) {
			return
		}
	}
}

func (fw *fileWalker) walkDir(ctx context.Context, root, dir string, ig *ignoreStack, visited map[string]bool, emit func(candidate) bool) bool {
	if fw.gitignore {
		ig.push(dir)
		defer ig.pop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("path", dir).Msg("cannot read directory")
		return emit(candidate{path: dir, err: accessError("read directory", dir, err)})
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return false
		}

		name := entry.Name()
		full := filepath.Join(dir, name)
		rel, _ := filepath.Rel(root, full)
		isDir := entry.IsDir()

		var info fs.FileInfo
		if entry.Type()&fs.ModeSymlink != 0 {
			if !fw.followSymlinks {
				continue
			}
			real, err := filepath.EvalSymlinks(full)
			if err != nil {
				continue
			}
			if info, err = os.Stat(real); err != nil {
				continue
			}
			isDir = info.IsDir()
		}

		if isDir {
			if !fw.recursive || config.ShouldSkipDirectory(name, fw.skipDirs) {
				continue
			}
			hidden, _ := fileAttributes(full)
			if fw.filter.SkipDir(name, rel, hidden) {
				continue
			}
			if fw.gitignore && ig.ignored(full, true) {
				continue
			}
			if fw.followSymlinks {
				real, err := filepath.EvalSymlinks(full)
				if err != nil || visited[real] {
					continue
				}
				visited[real] = true
			}
			if !fw.walkDir(ctx, root, full, ig, visited, emit) {
				return false
			}
			continue
		}

		if info == nil && !entry.Type().IsRegular() {
			continue
		}
		if fw.gitignore && ig.ignored(full, false) {
			continue
		}
		if info == nil {
			if info, err = entry.Info(); err != nil {
				if !emit(candidate{path: full, rel: rel, err: accessError("stat", full, err)}) {
					return false
				}
				continue
			}
		}
		if !emit(candidate{path: full, rel: rel, info: info}) {
			return false
		}
	}
	return true
}

// readFile loads a whole file, refusing files above limit bytes when limit > 0
func readFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, accessError("open", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, accessError("stat", path, err)
	}
	if limit > 0 && stat.Size() > limit {
		return nil, errors.Errorf("%s is %s, limit is %s: %w", path, FormatFileSize(stat.Size()), FormatFileSize(limit), ErrFileTooLarge)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, accessError("read", path, err)
	}
	dropPageCache(f)
	return data, nil
}
