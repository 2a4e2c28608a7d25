package search

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"find-replace/config"
)

// ProgressFunc is an optional callback to report progress like: processed, total, path.
// It may be called from several goroutines; total grows while discovery runs.
type ProgressFunc func(stage string, processed, total int, path string)

// Progress stages
const (
	StageDiscovery = "discovery"
	StageSearch    = "search"
)

// discoveryReportEvery is how many discovered files pass between discovery progress calls
const discoveryReportEvery = 500

// Engine runs searches over directory trees. Its fields are read when a search starts.
type Engine struct {
	Registry          *PluginRegistry
	Classifier        *Classifier
	Workers           int
	BufferSize        int
	HeavyConcurrency  int
	ExtractionTimeout time.Duration
	MaxFileSize       int64
	MaxLineLength     int
	SkipDirs          []string

	// Optional progress callback (nil if unused)
	OnProgress ProgressFunc
}

// NewEngine creates an engine from settings. A nil registry disables plugins.
func NewEngine(settings *config.Settings, registry *PluginRegistry) *Engine {
	if settings == nil {
		settings = &config.Settings{
			HeavyConcurrency:  config.DefaultHeavyConcurrency,
			ExtractionTimeout: config.DefaultExtractionTimeout,
			MaxFileSize:       config.DefaultMaxFileSize,
			MaxLineLength:     config.DefaultMaxLineLength,
			SkipDirs:          config.DefaultSkipDirs,
		}
	}
	workers, bufferSize := config.GetPerformanceProfile(0)
	if settings.Workers > 0 {
		workers = settings.Workers
	}
	return &Engine{
		Registry:          registry,
		Classifier:        NewClassifier(),
		Workers:           workers,
		BufferSize:        bufferSize,
		HeavyConcurrency:  settings.HeavyConcurrency,
		ExtractionTimeout: settings.ExtractionTimeout,
		MaxFileSize:       settings.MaxFileSize,
		MaxLineLength:     settings.MaxLineLength,
		SkipDirs:          settings.SkipDirs,
	}
}

func (e *Engine) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	workers, _ := config.GetPerformanceProfile(0)
	return workers
}

func (e *Engine) bufferSize() int {
	if e.BufferSize > 0 {
		return e.BufferSize
	}
	_, size := config.GetPerformanceProfile(0)
	return size
}

func (e *Engine) progress(stage string, processed, total int, path string) {
	if e.OnProgress != nil {
		e.OnProgress(stage, processed, total, path)
	}
}

// Stream is a running search. Results arrive in walk order.
type Stream struct {
	query   *Query
	out     chan *GrepSearchResult
	done    chan struct{}
	cancel  context.CancelFunc
	summary Summary
}

// Query returns the compiled query the stream runs
func (s *Stream) Query() *Query {
	return s.query
}

// Results yields results as they are released. Breaking out of the loop cancels the search.
func (s *Stream) Results() iter.Seq[*GrepSearchResult] {
	return func(yield func(*GrepSearchResult) bool) {
		for r := range s.out {
			if !yield(r) {
				s.cancel()
				go s.discard()
				return
			}
		}
	}
}

// Wait discards unread results, blocks until the search has stopped and returns its summary
func (s *Stream) Wait() Summary {
	s.discard()
	<-s.done
	s.cancel()
	return s.summary
}

// Cancel stops scheduling new files; Wait still reports what completed
func (s *Stream) Cancel() {
	s.cancel()
}

func (s *Stream) discard() {
	for range s.out {
	}
}

// Search runs a search to completion and collects every released result
func (e *Engine) Search(ctx context.Context, roots []string, c Criteria) (*ResultSet, error) {
	s, err := e.Stream(ctx, roots, c)
	if err != nil {
		return nil, err
	}
	set := &ResultSet{Query: s.Query()}
	for r := range s.Results() {
		set.Results = append(set.Results, r)
	}
	set.Summary = s.Wait()
	return set, nil
}

// Stream compiles c and starts a search in the background
func (e *Engine) Stream(ctx context.Context, roots []string, c Criteria) (*Stream, error) {
	q, err := c.Compile()
	if err != nil {
		return nil, err
	}
	return e.StreamQuery(ctx, roots, q)
}

// StreamQuery starts a search for an already compiled query
func (e *Engine) StreamQuery(ctx context.Context, roots []string, q *Query) (*Stream, error) {
	if q == nil {
		return nil, configError("query", nil, errors.New("query is nil"))
	}
	if len(roots) == 0 {
		return nil, configError("roots", roots, errors.New("no root paths given"))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		query:  q,
		out:    make(chan *GrepSearchResult, e.bufferSize()),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go e.run(ctx, append([]string(nil), roots...), q, s)
	return s, nil
}

func (e *Engine) run(ctx context.Context, roots []string, q *Query, s *Stream) {
	startTime := time.Now()
	log := zerolog.Ctx(ctx)
	heavy := NewConcurrencyManager(e.HeavyConcurrency)
	walker := newFileWalker(q, e.SkipDirs)

	tasks := make(chan candidate, e.bufferSize())
	reports := make(chan report, e.bufferSize())
	var discovered, processed atomic.Int64

	go func() {
		defer close(tasks)
		seq := 0
		walker.walk(ctx, roots, func(c candidate) bool {
			c.seq = seq
			seq++
			if n := discovered.Add(1); n%discoveryReportEvery == 0 {
				e.progress(StageDiscovery, 0, int(n), c.path)
			}
			select {
			case tasks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	var wg sync.WaitGroup
	for range e.workers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				if ctx.Err() != nil {
					return
				}
				rep, completed := e.process(ctx, q, heavy, t)
				if !completed {
					return
				}
				reports <- rep
				n := processed.Add(1)
				e.progress(StageSearch, int(n), int(discovered.Load()), t.path)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(reports)
	}()

	// Single collector: releases in walk order and tallies the summary
	var summary Summary
	keepZero := q.criteria.IncludeZeroMatches
	deliver := func(r report) {
		for _, res := range r.results {
			summary.FilesSearched++
			switch {
			case !res.Success:
				summary.FilesFailed++
			case res.MatchCount > 0:
				summary.FilesMatched++
				summary.TotalMatches += res.MatchCount
			}
			if res.MatchCount > 0 || !res.Success || keepZero {
				s.out <- res
			}
		}
	}

	buf := newReorderBuffer()
	for r := range reports {
		for _, ready := range buf.add(r) {
			deliver(ready)
		}
	}
	for _, r := range buf.drain() {
		deliver(r)
	}

	summary.Elapsed = time.Since(startTime)
	summary.Cancelled = ctx.Err() != nil
	s.summary = summary
	close(s.out)
	close(s.done)

	log.Debug().
		Int("searched", summary.FilesSearched).
		Int("matched", summary.FilesMatched).
		Int("failed", summary.FilesFailed).
		Int("matches", summary.TotalMatches).
		Dur("elapsed", summary.Elapsed).
		Bool("cancelled", summary.Cancelled).
		Msg("search finished")
}

func (e *Engine) classifier() *Classifier {
	if e.Classifier == nil {
		return NewClassifier()
	}
	return e.Classifier
}

// process handles one candidate. It returns false when cancellation interrupted the file.
func (e *Engine) process(ctx context.Context, q *Query, heavy *ConcurrencyManager, t candidate) (report, bool) {
	log := zerolog.Ctx(ctx)
	rep := report{seq: t.seq, path: t.path}

	if t.err != nil {
		res := &GrepSearchResult{FilePath: t.path, query: q}
		res.fail(t.err)
		log.Debug().Err(t.err).Str("path", t.path).Msg("cannot access")
		rep.results = append(rep.results, res)
		return rep, true
	}

	name := t.info.Name()
	hidden, system := fileAttributes(t.path)
	meta := FileMeta{
		Path:    t.path,
		RelPath: t.rel,
		Name:    name,
		Size:    t.info.Size(),
		ModTime: t.info.ModTime(),
		Hidden:  hidden,
		System:  system,
	}

	plugin, hasPlugin := e.Registry.Lookup(name)
	if hasPlugin && plugin.Container && q.criteria.IncludeArchive {
		return e.processArchive(ctx, q, heavy, t, meta)
	}

	if ok, reason := q.filter.Accepts(meta); !ok {
		log.Trace().Str("path", t.path).Str("reason", string(reason)).Msg("filtered")
		return rep, true
	}
	if !q.criteria.IncludeBinary && !hasPlugin && q.forced == nil && config.IsKnownBinary(name) {
		// the Classifier sample is enough to skip a likely binary file unread
		if cl, err := e.classifier().Classify(t.path); err == nil && cl.Binary {
			log.Trace().Str("path", t.path).Str("reason", string(RejectBinary)).Msg("filtered")
			return rep, true
		}
	}

	res := &GrepSearchResult{
		FilePath: t.path,
		FileSize: meta.Size,
		ModTime:  meta.ModTime,
		query:    q,
	}
	data, err := readFile(t.path, e.MaxFileSize)
	if err != nil {
		res.fail(err)
		log.Debug().Err(err).Str("path", t.path).Msg("cannot read")
		rep.results = append(rep.results, res)
		return rep, true
	}

	keep, err := e.searchContent(ctx, q, heavy, res, t.path, name, data)
	if err != nil {
		return rep, false
	}
	if keep {
		rep.results = append(rep.results, res)
	}
	return rep, true
}

// processArchive searches every accepted member of a zip container as a virtual file
func (e *Engine) processArchive(ctx context.Context, q *Query, heavy *ConcurrencyManager, t candidate, meta FileMeta) (report, bool) {
	log := zerolog.Ctx(ctx)
	rep := report{seq: t.seq, path: t.path}

	if ok, reason := q.filter.AcceptsContainer(meta); !ok {
		log.Trace().Str("path", t.path).Str("reason", string(reason)).Msg("filtered")
		return rep, true
	}

	data, err := readFile(t.path, e.MaxFileSize)
	if err == nil {
		var members []archiveMember
		if members, err = listArchive(data); err == nil {
			return e.searchMembers(ctx, q, heavy, t, members)
		}
	}
	res := &GrepSearchResult{FilePath: t.path, FileSize: meta.Size, ModTime: meta.ModTime, query: q}
	res.fail(err)
	log.Debug().Err(err).Str("path", t.path).Msg("cannot open archive")
	rep.results = append(rep.results, res)
	return rep, true
}

func (e *Engine) searchMembers(ctx context.Context, q *Query, heavy *ConcurrencyManager, t candidate, members []archiveMember) (report, bool) {
	log := zerolog.Ctx(ctx)
	path := t.path
	rep := report{seq: t.seq, path: path}

	for _, m := range members {
		if ctx.Err() != nil {
			return rep, false
		}
		base := m.base()
		meta := FileMeta{
			Path:    path + "!" + m.name,
			RelPath: m.name,
			Name:    base,
			Size:    m.size,
			ModTime: m.modTime,
			Hidden:  config.IsHiddenFile(base),
		}
		if ok, _ := q.filter.Accepts(meta); !ok {
			continue
		}
		if config.IsArchiveFile(base) {
			log.Debug().Str("path", meta.Path).Msg("nested archive skipped")
			continue
		}

		res := &GrepSearchResult{
			FilePath:      path,
			ArchiveMember: m.name,
			FileSize:      m.size,
			ModTime:       m.modTime,
			query:         q,
		}
		body, err := m.read(e.MaxFileSize)
		if err != nil {
			res.fail(err)
			rep.results = append(rep.results, res)
			continue
		}
		keep, err := e.searchContent(ctx, q, heavy, res, "", base, body)
		if err != nil {
			return rep, false
		}
		if keep {
			rep.results = append(rep.results, res)
		}
	}
	return rep, true
}

// searchContent extracts or decodes data and runs the matcher over it.
// It returns false when the content filter rejects the file; errors mean cancellation.
func (e *Engine) searchContent(ctx context.Context, q *Query, heavy *ConcurrencyManager, res *GrepSearchResult, diskPath, name string, data []byte) (bool, error) {
	text, ok, err := e.content(ctx, q, heavy, res, diskPath, name, data)
	if err != nil || !ok {
		return ok, err
	}
	if res.Err != nil {
		return true, nil
	}
	return true, e.match(ctx, q, res, text)
}

// content turns raw bytes into searchable text, recording how on res
func (e *Engine) content(ctx context.Context, q *Query, heavy *ConcurrencyManager, res *GrepSearchResult, diskPath, name string, data []byte) (string, bool, error) {
	log := zerolog.Ctx(ctx)

	if p, ok := e.Registry.Lookup(name); ok && !p.Container {
		var text, info string
		err := heavy.ExecuteWithTimeout(ctx, func() error {
			var err error
			text, info, err = p.Extract(diskPath, data)
			return err
		}, e.ExtractionTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			res.fail(errors.Errorf("%s plugin: %w", p.Name, err))
			log.Debug().Err(err).Str("path", res.DisplayPath()).Str("plugin", p.Name).Msg("extraction failed")
			return "", true, nil
		}
		res.IsExtracted = true
		res.Encoding = utf8Text.Name
		res.AdditionalInfo = info
		return text, true, nil
	}

	var cl Classification
	if q.forced != nil {
		cl = forcedClassification(data, q.forced, q.forcedAs)
	} else {
		cl = e.classifier().ClassifyBytes(data)
	}
	if ok, reason := q.filter.AcceptsContent(cl); !ok {
		ev := log.Trace()
		if cl.Ambiguous {
			ev = log.Debug().Err(ErrClassificationAmbiguous)
		}
		ev.Str("path", res.DisplayPath()).Str("reason", string(reason)).Msg("filtered")
		return "", false, nil
	}

	if cl.Binary {
		cl = rawBytes
		res.IsHex = true
	}
	res.Encoding = cl.Name
	res.HasBOM = cl.HasBOM()

	text, err := cl.Decode(data)
	if err != nil {
		res.fail(err)
		return "", true, nil
	}
	return text, true, nil
}

// match runs the query's matcher over text and stores the outcome on res
func (e *Engine) match(ctx context.Context, q *Query, res *GrepSearchResult, text string) error {
	matches, count, err := findMatches(ctx, q, res.DisplayPath(), text, q.criteria.CountOnly)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.fail(err)
		zerolog.Ctx(ctx).Debug().Err(err).Str("path", res.DisplayPath()).Msg("match failed")
		return nil
	}
	res.Success = true
	res.MatchCount = count
	res.Matches = matches
	return nil
}

// findMatches converts matcher spans to GrepMatches. countOnly skips building them.
func findMatches(ctx context.Context, q *Query, path, text string, countOnly bool) ([]*GrepMatch, int, error) {
	idx := newLineIndex(text)
	stopAfterFirst := q.criteria.StopAfterFirstMatch

	var matches []*GrepMatch
	count := 0
	err := q.matcher.FindMatches(ctx, text, func(sp Span) bool {
		count++
		if !countOnly {
			matches = append(matches, newMatch(path, idx, text, sp))
		}
		return !stopAfterFirst
	})
	if err != nil {
		return nil, 0, err
	}
	return matches, count, nil
}

func newMatch(path string, idx lineIndex, text string, sp Span) *GrepMatch {
	line := idx.lineOf(sp.Start)
	m := &GrepMatch{
		FilePath:      path,
		LineNumber:    line,
		StartLocation: sp.Start - idx.start(line),
		Offset:        sp.Start,
		Length:        sp.End - sp.Start,
		Value:         text[sp.Start:sp.End],
		ReplaceMatch:  true,
	}
	if len(sp.Groups) > 0 {
		m.Groups = make([]int, len(sp.Groups))
		for i, g := range sp.Groups {
			if g < 0 {
				m.Groups[i] = -1
			} else {
				m.Groups[i] = g - sp.Start
			}
		}
	}
	return m
}
