package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/log"

	"lifter/internal/cfg"
	"lifter/internal/lifter/styles"
	"lifter/internal/report"
)

type viewMode int

const (
	viewSummary viewMode = iota
	viewBlocks
	viewListing
)

type blockItem struct {
	id         cfg.BlockID
	start, end uint64
	symbol     string
	insts      int
	invalid    bool
	filterTerm string
}

func (i blockItem) Title() string       { return fmt.Sprintf("%x  %s", i.start, i.symbol) }
func (i blockItem) FilterValue() string { return i.filterTerm }
func (i blockItem) Description() string { return "" }

type blockDelegate struct{}

func (d blockDelegate) Height() int                               { return 1 }
func (d blockDelegate) Spacing() int                              { return 0 }
func (d blockDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d blockDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(blockItem)
	if !ok {
		return
	}

	indicator, addrStyle := " ", styles.Address
	if index == m.Index() {
		indicator, addrStyle = ">", styles.Selected
	}

	line := fmt.Sprintf(" %s  %s  %s",
		indicator,
		addrStyle.Render(fmt.Sprintf("%x..%x", i.start, i.end)),
		styles.Muted.Render(fmt.Sprintf("%3d", i.insts)))
	if i.symbol != "" {
		line += "  " + styles.Symbol.Render(i.symbol)
	}
	if i.invalid {
		line += "  " + styles.Invalid.Render("invalid exit")
	}
	fmt.Fprint(w, line)
}

type exploredMsg struct {
	graph *cfg.Graph
	stats cfg.Stats
	err   error
}

func exploreCmd(s *session, c Config, logger *log.Logger) tea.Cmd {
	return func() tea.Msg {
		g, stats, err := explore(s, c, logger)
		return exploredMsg{graph: g, stats: stats, err: err}
	}
}

type model struct {
	summary viewport.Model
	blocks  list.Model
	listing viewport.Model
	spinner spinner.Model
	mode    viewMode

	session *session
	config  Config
	logger  *log.Logger

	graph     *cfg.Graph
	report    report.Report
	err       error
	exploring bool

	width  int
	height int
}

func newModel(s *session, c Config, logger *log.Logger) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	lvp := viewport.New()
	lvp.SetWidth(80)
	lvp.SetHeight(24)

	blocks := list.New([]list.Item{}, blockDelegate{}, 80, 24)
	blocks.SetShowStatusBar(false)
	blocks.SetFilteringEnabled(true)
	blocks.Title = "Blocks"
	blocks.Styles.Title = styles.Title
	blocks.SetShowHelp(true)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := model{
		summary:   vp,
		blocks:    blocks,
		listing:   lvp,
		spinner:   sp,
		mode:      viewSummary,
		session:   s,
		config:    c,
		logger:    logger,
		exploring: true,
		width:     80,
		height:    24,
	}
	m.updateSummary()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		exploreCmd(m.session, m.config, m.logger),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case exploredMsg:
		m.exploring = false
		m.err = msg.err
		if msg.err == nil {
			m.graph = msg.graph
			m.report = report.Build(msg.graph, m.session.reportOptions(msg.stats, false))
			m.updateBlocks()
		}
		m.updateSummary()
		return m, nil

	case spinner.TickMsg:
		if !m.exploring {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateSummary()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.summary.SetWidth(msg.Width)
			m.summary.SetHeight(msg.Height - 2)
			m.listing.SetWidth(msg.Width)
			m.listing.SetHeight(msg.Height - 2)
			m.blocks.SetWidth(msg.Width)
			m.blocks.SetHeight(msg.Height - 2)
			m.updateSummary()
		}

	case tea.KeyMsg:
		key := msg.String()
		if m.mode == viewBlocks && m.blocks.FilterState() == list.Filtering {
			// The filter input gets every key except quit.
			if key == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		if next, cmd, ok := m.handleKey(key); ok {
			return next, cmd
		}
	}

	switch m.mode {
	case viewBlocks:
		m.blocks, cmd = m.blocks.Update(msg)
	case viewListing:
		m.listing, cmd = m.listing.Update(msg)
	default:
		m.summary, cmd = m.summary.Update(msg)
	}
	return m, cmd
}

// handleKey applies a navigation key. It reports false for keys the
// active view should receive instead.
func (m model) handleKey(key string) (model, tea.Cmd, bool) {
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit, true
	case "s":
		m.mode = viewSummary
		return m, nil, true
	case "b":
		if m.graph != nil {
			m.mode = viewBlocks
		}
		return m, nil, true
	case "l":
		if m.graph != nil {
			m.showListing(nil)
		}
		return m, nil, true
	case "enter":
		if m.mode != viewBlocks {
			return m, nil, false
		}
		if item, ok := m.blocks.SelectedItem().(blockItem); ok {
			m.showListing(m.graph.Block(item.id))
		}
		return m, nil, true
	case "esc":
		if m.mode != viewListing {
			return m, nil, false
		}
		m.mode = viewBlocks
		return m, nil, true
	case "tab":
		if m.graph == nil {
			return m, nil, true
		}
		switch m.mode {
		case viewSummary:
			m.mode = viewBlocks
		case viewBlocks:
			m.showListing(nil)
		case viewListing:
			m.mode = viewSummary
		}
		return m, nil, true
	}
	return m, nil, false
}

// showListing switches to the listing of blk, or of the whole graph when
// blk is nil.
func (m *model) showListing(blk *cfg.Block) {
	opts := m.session.listingOptions()
	var content string
	if blk != nil {
		content = report.BlockListing(m.graph, blk, opts)
	} else {
		content = report.Listing(m.graph, opts)
	}
	m.listing.SetContent(strings.TrimSuffix(content, "\n"))
	m.listing.GotoTop()
	m.mode = viewListing
}

func (m *model) updateBlocks() {
	blocks := m.graph.Blocks()
	items := make([]list.Item, 0, len(blocks))
	for _, b := range blocks {
		item := blockItem{
			id:      b.ID(),
			start:   b.Entry(),
			end:     b.End(),
			insts:   b.Len(),
			invalid: b.IsInvalid(),
		}
		if m.session.symbols != nil {
			item.symbol = m.session.symbols.Label(b.Entry())
		}
		item.filterTerm = fmt.Sprintf("%x %s", item.start, item.symbol)
		items = append(items, item)
	}
	m.blocks.SetItems(items)
	m.blocks.Title = fmt.Sprintf("Blocks (%d total)", len(items))
}

func (m *model) updateSummary() {
	var markdown string
	switch {
	case m.err != nil:
		markdown = fmt.Sprintf("# lifter\n\n- **Input:** `%s`\n\nExploration failed: %s\n", m.session.input, m.err)
	case m.exploring:
		markdown = fmt.Sprintf("# lifter\n\n- **Input:** `%s`\n- **Arch:** %s\n\n%s Exploring from 0x%x...\n",
			m.session.input, m.session.arch.Name, m.spinner.View(), m.session.entry)
	default:
		markdown = report.Markdown(m.report)
	}

	width := m.width
	if width == 0 {
		width = 80
	}
	renderer, err := styles.GetMarkdownRenderer(width-2, m.config.Theme)
	if err != nil {
		m.summary.SetContent(markdown)
		return
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		rendered = markdown
	}
	m.summary.SetContent(strings.TrimSuffix(rendered, "\n"))
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewBlocks:
		content = m.blocks.View()
	case viewListing:
		content = m.listing.View()
	default:
		content = m.summary.View()
	}

	var menu string
	switch {
	case m.graph == nil:
		menu = " Q: quit "
	case m.mode == viewBlocks:
		menu = " Enter: block listing • /: filter • L: full listing • S: summary • Q: quit "
	case m.mode == viewListing:
		menu = " Esc: blocks • S: summary • Tab: cycle • Q: quit "
	default:
		menu = " B: blocks • L: listing • Tab: cycle • Q: quit "
	}
	return content + "\n" + styles.StatusBar.Width(m.width).Render(menu)
}
