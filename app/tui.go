package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"find-replace/search"
)

// progressMsg is one engine progress report, shown as "Stage [count/total]: path"
type progressMsg struct {
	Stage string
	Count int
	Total int
	Path  string
}

// progressState holds the latest progress report; the engine writes it from worker goroutines
type progressState struct {
	mu     sync.Mutex
	latest progressMsg
	have   bool
}

func (p *progressState) update(stage string, processed, total int, path string) {
	p.mu.Lock()
	p.latest = progressMsg{Stage: stage, Count: processed, Total: total, Path: path}
	p.have = true
	p.mu.Unlock()
}

func (p *progressState) snapshot() (progressMsg, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.have
}

type progressTick struct{}

type searchResultMsg struct {
	results []*search.GrepSearchResult
	summary search.Summary
	err     error
}

type memUsageMsg struct {
	Text string
}

type model struct {
	ctx      context.Context
	cancel   context.CancelFunc
	engine   *search.Engine
	roots    []string
	criteria search.Criteria
	opts     search.LineOptions
	progress *progressState

	results       []*search.GrepSearchResult
	summary       search.Summary
	err           error
	currentPage   int
	contentScroll int

	started  time.Time
	quitting bool
	loading  bool

	// Window size
	width  int
	height int

	memUsageText string
	progressText string
}

// runTUI searches while showing progress, then pages through the results
func runTUI(ctx context.Context, engine *search.Engine, roots []string, c search.Criteria, opts search.LineOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &progressState{}
	engine.OnProgress = state.update

	m := model{
		ctx:      ctx,
		cancel:   cancel,
		engine:   engine,
		roots:    roots,
		criteria: c,
		opts:     opts,
		progress: state,
		started:  time.Now(),
		loading:  true,
	}
	final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() == nil {
		return err
	}
	if fm, ok := final.(model); ok && fm.err != nil {
		return fm.err
	}
	return nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(pollProgress(), m.runSearch(), memUsageTick())
}

func (m model) pages() int {
	return max(1, len(m.results))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}
		// paging keys wait for the search to finish
		if m.loading {
			return m, nil
		}

		switch msg.String() {
		case "enter", "n", "space", "right", "l":
			if m.currentPage < m.pages()-1 {
				m.currentPage++
				m.contentScroll = 0
			}
		case "p", "left", "h":
			if m.currentPage > 0 {
				m.currentPage--
				m.contentScroll = 0
			}
		case "home":
			m.currentPage = 0
			m.contentScroll = 0
		case "end":
			m.currentPage = m.pages() - 1
			m.contentScroll = 0
		case "up", "k":
			m.contentScroll = max(0, m.contentScroll-1)
		case "down", "j":
			m.contentScroll++
		case "pgup":
			m.contentScroll = max(0, m.contentScroll-5)
		case "pgdown":
			m.contentScroll += 5
		}
		return m, nil

	case searchResultMsg:
		m.results = msg.results
		m.summary = msg.summary
		m.err = msg.err
		m.loading = false
		return m, nil

	case memUsageMsg:
		m.memUsageText = msg.Text
		return m, memUsageTick()

	case progressTick:
		if !m.loading {
			return m, nil
		}
		if lp, ok := m.progress.snapshot(); ok {
			m.progressText = formatProgress(lp)
		}
		return m, pollProgress()
	}
	return m, nil
}

func formatProgress(p progressMsg) string {
	stage := p.Stage
	if stage != "" {
		stage = strings.ToUpper(stage[:1]) + stage[1:]
	}
	return fmt.Sprintf("%s [%d/%d]: %s", stage, p.Count, p.Total, p.Path)
}

func (m model) View() string {
	width := m.width
	height := m.height
	if width <= 0 {
		width = 120
	}
	if height <= 0 {
		height = 30
	}

	if m.quitting {
		return "Goodbye!\n"
	}

	var headerLines []string
	headerLines = append(headerLines, "")
	headerLines = append(headerLines, headerStyle.Render(fmt.Sprintf("find-replace v%s", version)))
	headerLines = append(headerLines, "")
	headerLines = append(headerLines, subHeaderStyle.Render(fmt.Sprintf("🔍 Searching (%s): %q", m.criteria.Type, m.criteria.Pattern)))

	targetStyled := lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	headerLines = append(headerLines, targetStyled.Render(wrapTextWithIndent("📁 Target: ", strings.Join(m.roots, ", "), width-4)))

	engineStyled := lipgloss.NewStyle().Foreground(lipgloss.Color("#bb9af7"))
	headerLines = append(headerLines, engineStyled.Render(fmt.Sprintf("⚙️ Engine: Workers %d%s", m.engine.Workers, m.memUsageText)))

	// Elapsed search time, frozen after completion
	elapsed := time.Since(m.started)
	if !m.loading {
		elapsed = m.summary.Elapsed
	}
	stats := fmt.Sprintf("⏱️ Searched: %.2fs • Matched: %s files • %s matches",
		elapsed.Seconds(), search.FormatNumber(m.summary.FilesMatched), search.FormatNumber(m.summary.TotalMatches))
	if m.summary.Cancelled {
		stats += " • cancelled"
	}
	headerLines = append(headerLines, lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68")).Render(stats))

	searchInfo := strings.Join(headerLines, "\n")
	headerHeight := strings.Count(searchInfo, "\n") + 1

	parts := []string{searchInfo}
	if m.loading {
		txt := "⏳ Processing"
		if m.progressText != "" {
			txt = "⏳ " + m.progressText
		}
		parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("#7dcfff")).Render(txt))
	} else {
		// blank progress row so the box does not move
		parts = append(parts, "")
	}

	var boxContent string
	switch {
	case m.loading:
		boxContent = "Searching..."
	case m.err != nil:
		boxContent = errorStyle.Render(m.err.Error())
	case len(m.results) == 0:
		boxContent = "No results found."
	default:
		boxContent = m.renderResult(m.results[m.currentPage], width)
	}

	// header, progress, footer and the box border
	contentHeight := max(1, height-headerHeight-1-1-4)
	lines := strings.Split(boxContent, "\n")
	maxStart := max(0, len(lines)-contentHeight)
	start := min(m.contentScroll, maxStart)
	end := min(start+contentHeight, len(lines))
	window := strings.Join(lines[start:end], "\n")
	parts = append(parts, appStyle.Width(width-4).Height(contentHeight).Render(window))

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Align(lipgloss.Center).
		Render("🔚 'q' quit • n/ENTER: next • p: previous • j/k: scroll")
	parts = append(parts, footer)

	return strings.Join(parts, "\n")
}

func (m model) renderResult(r *search.GrepSearchResult, width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s (%s)\n", r.DisplayPath(), search.FormatFileSize(r.FileSize))
	if r.AdditionalInfo != "" {
		b.WriteString(subHeaderStyle.Render(r.AdditionalInfo) + "\n")
	}
	b.WriteString("\n")
	if !r.Success {
		b.WriteString(errorStyle.Render(r.ErrorMessage) + "\n")
	}
	inner := max(10, width-4-6)
	for _, line := range r.Lines {
		if line.LineNumber <= 0 {
			b.WriteString(separatorStyle.Render("--") + "\n")
			continue
		}
		label := lineNumberStyle.Render(fmt.Sprintf("%5d ", line.LineNumber))
		b.WriteString(wrapTextWithIndent(label, highlight(line), inner) + "\n")
	}
	fmt.Fprintf(&b, "\nResult %d of %d", m.currentPage+1, len(m.results))
	return b.String()
}

// Background search command
func (m model) runSearch() tea.Cmd {
	return func() tea.Msg {
		set, err := m.engine.Search(m.ctx, m.roots, m.criteria)
		if err != nil {
			return searchResultMsg{err: err}
		}
		for _, r := range set.Results {
			if r.Success && r.MatchCount > 0 && !m.criteria.CountOnly {
				_ = m.engine.Materialize(m.ctx, r, m.opts)
			}
		}
		return searchResultMsg{results: set.Results, summary: set.Summary}
	}
}

func wrapTextWithIndent(prefix, text string, width int) string {
	prefixWidth := lipgloss.Width(prefix)
	indent := strings.Repeat(" ", prefixWidth)
	wrapped := lipgloss.NewStyle().Width(max(1, width-prefixWidth)).Render(text)
	return prefix + strings.ReplaceAll(wrapped, "\n", "\n"+indent)
}

func memUsageTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		mem, cpu := sampleMemoryAndCPU()
		return memUsageMsg{Text: fmt.Sprintf(" • Heap %5.1f MB • Total %5.1f MB • CPU %5.1f%%", float64(mem.heap)/(1024*1024), float64(mem.rss)/(1024*1024), cpu)}
	})
}

func pollProgress() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(time.Time) tea.Msg {
		return progressTick{}
	})
}
