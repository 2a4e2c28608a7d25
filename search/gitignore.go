package search

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignoreStack holds the .gitignore rules of every directory from the root down
type ignoreStack struct {
	levels []ignoreLevel
}

type ignoreLevel struct {
	dir   string
	rules []ignoreRule
}

type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

func (g *ignoreStack) push(dir string) {
	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		g.levels = append(g.levels, ignoreLevel{dir: dir})
		return
	}
	g.levels = append(g.levels, ignoreLevel{dir: dir, rules: parseIgnore(data)})
}

func (g *ignoreStack) pop() {
	if len(g.levels) > 0 {
		g.levels = g.levels[:len(g.levels)-1]
	}
}

func parseIgnore(data []byte) []ignoreRule {
	var rules []ignoreRule
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			r.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			r.anchored = true
			line = strings.TrimPrefix(line, "/")
		}
		if line == "" {
			continue
		}
		r.pattern = line
		rules = append(rules, r)
	}
	return rules
}

// ignored walks every level in order so deeper rules and later negations win
func (g *ignoreStack) ignored(path string, isDir bool) bool {
	ignored := false
	base := filepath.Base(path)
	for _, level := range g.levels {
		rel, err := filepath.Rel(level.dir, path)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		for _, r := range level.rules {
			if r.dirOnly && !isDir {
				continue
			}
			if r.match(base, rel) {
				ignored = !r.negate
			}
		}
	}
	return ignored
}

func (r ignoreRule) match(base, rel string) bool {
	if r.anchored || strings.Contains(r.pattern, "/") {
		m, _ := doublestar.Match(r.pattern, rel)
		return m
	}
	if m, _ := doublestar.Match(r.pattern, base); m {
		return true
	}
	m, _ := doublestar.Match("**/"+r.pattern, rel)
	return m
}
