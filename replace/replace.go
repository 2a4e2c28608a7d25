// Package replace rewrites files found by a search, one atomic rename per file.
package replace

import (
	"context"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"find-replace/config"
	"find-replace/search"
)

// ReplaceDef is one file's approved edits. It is consumed by a single Apply.
type ReplaceDef struct {
	Path        string
	Matches     []*search.GrepMatch
	Replacement string

	// Encoding and HasBOM are the values the search recorded
	Encoding string
	HasBOM   bool

	// Regexp expands $1 style templates in Replacement when set
	Regexp *regexp.Regexp
}

// Outcome is the result of rewriting one file
type Outcome struct {
	Path     string
	Replaced int
	Backup   string
	Err      error
}

// Replacer applies replacements. Files are processed in parallel; writes to
// the same path are serialized. The zero value replaces without backups.
type Replacer struct {
	Workers int
	Backup  config.BackupSettings

	locks pathLocks
	now   func() time.Time

	// writeTemp fills the temp file; replaced in tests to simulate failures
	writeTemp func(*os.File, []byte) error
}

// NewReplacer creates a replacer from settings; nil settings means no backups
func NewReplacer(settings *config.Settings) *Replacer {
	r := &Replacer{
		now:       time.Now,
		writeTemp: writeAll,
	}
	if settings != nil {
		r.Workers = settings.EffectiveWorkers()
		r.Backup = settings.Backup
	}
	return r
}

func (r *Replacer) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func (r *Replacer) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	workers, _ := config.GetPerformanceProfile(0)
	return workers
}

// Definitions turns search results into replace definitions. Results without approved
// matches are skipped; read-only results come back as failed outcomes.
func Definitions(results []*search.GrepSearchResult, replacement string) ([]ReplaceDef, []Outcome) {
	var defs []ReplaceDef
	var refused []Outcome
	for _, res := range results {
		approved := res.ApprovedMatches()
		if len(approved) == 0 {
			continue
		}
		if res.ReadOnly() {
			refused = append(refused, Outcome{
				Path: res.DisplayPath(),
				Err:  errors.Errorf("%s: %w", res.DisplayPath(), ErrUnsupportedReplace),
			})
			continue
		}
		def := ReplaceDef{
			Path:        res.FilePath,
			Matches:     approved,
			Replacement: replacement,
			Encoding:    res.Encoding,
			HasBOM:      res.HasBOM,
		}
		if q := res.Query(); q != nil && q.Type() == search.TypeRegex {
			def.Regexp = q.Regexp()
		}
		defs = append(defs, def)
	}
	return defs, refused
}

// Replace rewrites every result that has approved matches.
// Refused read-only results come first in the returned outcomes.
func (r *Replacer) Replace(ctx context.Context, results []*search.GrepSearchResult, replacement string) []Outcome {
	defs, refused := Definitions(results, replacement)
	return append(refused, r.Apply(ctx, defs)...)
}

// Apply rewrites the files named by defs. Outcomes are in defs order.
func (r *Replacer) Apply(ctx context.Context, defs []ReplaceDef) []Outcome {
	outcomes := make([]Outcome, len(defs))

	var g errgroup.Group
	g.SetLimit(r.workers())
	for i := range defs {
		g.Go(func() error {
			outcomes[i] = r.applyOne(ctx, defs[i])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *Replacer) applyOne(ctx context.Context, def ReplaceDef) Outcome {
	log := zerolog.Ctx(ctx)
	out := Outcome{Path: def.Path}

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	unlock := r.locks.lock(def.Path)
	defer unlock()

	n, backup, err := r.rewrite(def)
	if err != nil {
		out.Err = err
		log.Warn().Err(err).Str("path", def.Path).Msg("replace failed")
		return out
	}
	out.Replaced = n
	out.Backup = backup
	log.Debug().Str("path", def.Path).Int("matches", n).Str("backup", backup).Msg("replaced")
	return out
}

// rewrite runs with the path lock held
func (r *Replacer) rewrite(def ReplaceDef) (int, string, error) {
	if def.Encoding == "binary" {
		return 0, "", errors.Errorf("%s: %w", def.Path, ErrUnsupportedReplace)
	}

	info, err := os.Stat(def.Path)
	if err != nil {
		return 0, "", writeError(def.Path, StageRead, err)
	}
	raw, err := os.ReadFile(def.Path)
	if err != nil {
		return 0, "", writeError(def.Path, StageRead, err)
	}

	enc, err := search.EncodingFor(def.Encoding, def.HasBOM)
	if err != nil {
		return 0, "", writeError(def.Path, StageRead, err)
	}
	text, err := enc.Decode(raw)
	if err != nil {
		return 0, "", writeError(def.Path, StageRead, err)
	}

	matches, err := verify(text, def.Matches)
	if err != nil {
		return 0, "", writeError(def.Path, StageVerify, err)
	}

	updated := apply(text, matches, def.Replacement, def.Regexp)
	body, err := enc.Encode(updated)
	if err != nil {
		return 0, "", writeError(def.Path, StageEncode, err)
	}

	backup := ""
	if r.Backup.Enabled {
		backup = backupPath(r.Backup, def.Path, r.clock())
		if err := writeBackup(backup, raw, info.Mode().Perm()); err != nil {
			return 0, "", writeError(def.Path, StageBackup, err)
		}
	}

	write := r.writeTemp
	if write == nil {
		write = writeAll
	}
	if err := writeAtomic(def.Path, body, info.Mode().Perm(), write); err != nil {
		if backup != "" && backup != def.Path {
			os.Remove(backup)
		}
		return 0, "", err
	}
	return len(matches), backup, nil
}

// verify checks every match still sits at its offset and returns them in descending order
func verify(text string, matches []*search.GrepMatch) ([]*search.GrepMatch, error) {
	sorted := append([]*search.GrepMatch(nil), matches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset > sorted[j].Offset })

	for i, m := range sorted {
		if m.Offset < 0 || m.End() > len(text) || text[m.Offset:m.End()] != m.Value {
			return nil, errors.Errorf("match at offset %d: %w", m.Offset, ErrFileChanged)
		}
		if i > 0 && m.End() > sorted[i-1].Offset {
			return nil, errors.Errorf("matches at offsets %d and %d overlap", m.Offset, sorted[i-1].Offset)
		}
	}
	return sorted, nil
}

// apply substitutes matches, which must be in descending offset order
func apply(text string, matches []*search.GrepMatch, replacement string, re *regexp.Regexp) string {
	out := text
	for _, m := range matches {
		with := replacement
		if re != nil && len(m.Groups) >= 2 {
			with = string(re.ExpandString(nil, replacement, m.Value, m.Groups))
		}
		out = out[:m.Offset] + with + out[m.End():]
	}
	return out
}

// Undo restores the backup recorded in o and removes it
func (r *Replacer) Undo(ctx context.Context, o Outcome) error {
	if o.Backup == "" {
		return errors.Errorf("%s: %w", o.Path, ErrNoBackup)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := r.locks.lock(o.Path)
	defer unlock()

	info, err := os.Stat(o.Backup)
	if err != nil {
		return writeError(o.Path, StageRead, err)
	}
	data, err := os.ReadFile(o.Backup)
	if err != nil {
		return writeError(o.Path, StageRead, err)
	}
	if err := writeAtomic(o.Path, data, info.Mode().Perm(), writeAll); err != nil {
		return err
	}
	if err := os.Remove(o.Backup); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("backup", o.Backup).Msg("cannot remove backup")
	}
	zerolog.Ctx(ctx).Debug().Str("path", o.Path).Msg("restored")
	return nil
}
