package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"evmil/internal/evmil/styles"
	"evmil/internal/ui/colorize"
)

type viewMode int

const (
	viewListing viewMode = iota
	viewBlocks
	viewSummary
)

type blockItem struct {
	info     BlockInfo
	findings int
}

func (i blockItem) Title() string {
	return fmt.Sprintf("block_%d  %04x-%04x", i.info.ID, i.info.Start, i.info.End)
}

func (i blockItem) FilterValue() string {
	return fmt.Sprintf("block_%d %x", i.info.ID, i.info.Start)
}

func (i blockItem) Description() string { return i.info.State }

// Custom item delegate for the blocks list
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(blockItem)
	if !ok {
		return
	}

	indicator := " "
	titleStyle := styles.Normal
	if index == m.Index() {
		indicator = ">"
		titleStyle = styles.Selected
	}
	if !i.info.Reachable {
		titleStyle = styles.Unreached
	}

	var notes []string
	if !i.info.Reachable {
		notes = append(notes, "unreachable")
	}
	if i.findings > 0 {
		notes = append(notes, fmt.Sprintf("%d findings", i.findings))
	}
	str := fmt.Sprintf(" %s  %s  %s", indicator, titleStyle.Render(i.Title()), strings.Join(notes, ", "))
	fmt.Fprint(w, str)
}

type model struct {
	listing  viewport.Model
	blocks   list.Model
	summary  viewport.Model
	spinner  spinner.Model
	mode     viewMode
	name     string
	code     []byte
	cfa      bool
	report   *report
	blockRow map[int]int // block id -> line of its header in the listing
	width    int
	height   int
}

type reportMsg struct {
	report report
}

func analyzeCmd(name string, code []byte, cfa bool) tea.Cmd {
	return func() tea.Msg {
		return reportMsg{report: analyze(name, code, cfa)}
	}
}

func newModel(name string, code []byte, cfa bool) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	blocks := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	blocks.SetShowStatusBar(false)
	blocks.SetFilteringEnabled(true)
	blocks.Title = "Blocks"
	blocks.Styles.Title = styles.Title

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	summary := viewport.New()
	summary.SetWidth(80)
	summary.SetHeight(24)

	m := model{
		listing: vp,
		blocks:  blocks,
		summary: summary,
		spinner: s,
		mode:    viewListing,
		name:    name,
		code:    code,
		cfa:     cfa,
		width:   80,
		height:  24,
	}
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		analyzeCmd(m.name, m.code, m.cfa),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case reportMsg:
		r := msg.report
		m.report = &r
		m.updateBlocksList()
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		if m.report != nil {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateContent()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.listing.SetWidth(msg.Width)
			m.listing.SetHeight(msg.Height - 2)
			m.blocks.SetWidth(msg.Width)
			m.blocks.SetHeight(msg.Height - 2)
			m.summary.SetWidth(msg.Width)
			m.summary.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		if m.mode == viewBlocks && m.blocks.FilterState() == list.Filtering {
			// the list owns every key except quit while filtering
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "l":
			m.mode = viewListing
			return m, nil
		case "b":
			if m.report != nil {
				m.mode = viewBlocks
			}
			return m, nil
		case "s":
			if m.report != nil {
				m.mode = viewSummary
			}
			return m, nil
		case "enter":
			if m.mode == viewBlocks {
				if item, ok := m.blocks.SelectedItem().(blockItem); ok {
					m.mode = viewListing
					m.listing.SetYOffset(m.blockRow[item.info.ID])
				}
			}
			return m, nil
		case "tab":
			if m.report != nil {
				m.mode = (m.mode + 1) % 3
			}
			return m, nil
		case "shift+tab":
			if m.report != nil {
				m.mode = (m.mode + 2) % 3
			}
			return m, nil
		}
	}

	switch m.mode {
	case viewBlocks:
		m.blocks, cmd = m.blocks.Update(msg)
	case viewSummary:
		m.summary, cmd = m.summary.Update(msg)
	default:
		m.listing, cmd = m.listing.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewBlocks:
		content = m.blocks.View()
	case viewSummary:
		content = m.summary.View()
	default:
		content = m.listing.View()
	}

	menu := " Q: quit "
	if m.report != nil {
		names := []string{"L: listing", "B: blocks", "S: summary"}
		names[m.mode] = styles.ActiveMode.Render(names[m.mode])
		menu = " " + strings.Join(names, " • ") + " • Tab: cycle • Q: quit "
		if m.mode == viewBlocks {
			menu = " Enter: show block •" + menu
		}
	}
	return content + "\n" + styles.MenuBar.Width(m.width).Render(menu)
}

func (m *model) updateBlocksList() {
	counts := map[int]int{}
	for _, f := range m.report.findings {
		counts[f.Block]++
	}
	items := make([]list.Item, 0, len(m.report.blocks))
	for _, b := range m.report.blocks {
		items = append(items, blockItem{info: b, findings: counts[b.ID]})
	}
	m.blocks.SetItems(items)

	m.blockRow = map[int]int{}
	for row, ai := range m.report.listing {
		if _, seen := m.blockRow[ai.Block]; !seen {
			m.blockRow[ai.Block] = row
		}
	}
}

func (m *model) updateContent() {
	width := m.width
	if width == 0 {
		width = 80
	}

	if m.report == nil {
		m.listing.SetContent(fmt.Sprintf("\n  %s Analysing %s (%d bytes)...", m.spinner.View(), m.name, len(m.code)))
		return
	}

	listing := m.report.listingText()
	if !colorize.Disabled() {
		listing = colorize.Listing(listing)
	}
	m.listing.SetContent(strings.TrimSuffix(listing, "\n"))
	m.summary.SetContent(strings.TrimSuffix(styles.RenderMarkdown(summaryMarkdown(*m.report), width-2), "\n"))
}

// summaryMarkdown describes a report: header facts, findings and the
// block table.
func summaryMarkdown(r report) string {
	var sb strings.Builder
	sb.WriteString("# evmil\n\n```\n")
	fmt.Fprintf(&sb, "; %s\n; %d bytes\n; %s\n", r.name, r.size, r.codeHash.Hex())
	sb.WriteString("```\n\n")

	sb.WriteString("## Findings\n\n")
	if len(r.findings) == 0 {
		sb.WriteString("*none*\n\n")
	}
	for _, f := range r.findings {
		fmt.Fprintf(&sb, "- `%#06x` **%s** %s\n", f.PC, f.Kind, f.Comment)
	}
	if len(r.findings) > 0 {
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "## Blocks (%d of %d reachable)\n\n", r.reachableBlocks(), len(r.blocks))
	sb.WriteString("| Block | Range | Entry state |\n|---|---|---|\n")
	for _, b := range r.blocks {
		state := b.State
		if !b.Reachable {
			state = "unreachable"
		}
		fmt.Fprintf(&sb, "| block_%d | `%04x-%04x` | %s |\n", b.ID, b.Start, b.End, strings.ReplaceAll(state, "|", "\\|"))
	}
	return sb.String()
}
