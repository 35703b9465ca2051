package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/explainit/pkg/models"
)

// treeNode is one concept as the panel knows it.
type treeNode struct {
	key       string
	parentKey string
	name      string
	status    models.NodeStatus
	children  []string
}

// TreePanel shows the concept tree with a status icon per node.
type TreePanel struct {
	nodes        map[string]*treeNode
	rootKey      string
	orphans      []string
	spinner      spinner.Model
	scrollOffset int
	width        int
	height       int
	focused      bool

	// Styles
	pendingStyle lipgloss.Style
	doneStyle    lipgloss.Style
	failedStyle  lipgloss.Style
	nameStyle    lipgloss.Style
	titleStyle   lipgloss.Style
}

// NewTreePanel creates an empty TreePanel.
func NewTreePanel() *TreePanel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	return &TreePanel{
		nodes:   make(map[string]*treeNode),
		spinner: s,

		pendingStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		doneStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		failedStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		nameStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),
	}
}

// Tick starts the spinner.
func (p *TreePanel) Tick() tea.Msg {
	return p.spinner.Tick()
}

// Upsert records a node or updates its status. A parent that has not been
// seen yet gets a placeholder so children never go missing.
func (p *TreePanel) Upsert(key, parentKey, name string, status models.NodeStatus) {
	if key == "" {
		return
	}

	n, ok := p.nodes[key]
	if !ok {
		n = &treeNode{key: key}
		p.nodes[key] = n
	}
	n.name = name
	n.status = status

	if ok && n.parentKey == parentKey {
		return
	}
	if ok {
		p.detach(n)
	}
	n.parentKey = parentKey
	p.attach(n)
}

func (p *TreePanel) attach(n *treeNode) {
	if n.parentKey == "" {
		if p.rootKey == "" || p.rootKey == n.key {
			p.rootKey = n.key
			return
		}
		p.orphans = append(p.orphans, n.key)
		return
	}

	parent, ok := p.nodes[n.parentKey]
	if !ok {
		parent = &treeNode{key: n.parentKey, name: n.parentKey, status: models.NodeStatusPending}
		p.nodes[n.parentKey] = parent
		p.attach(parent)
	}
	for _, c := range parent.children {
		if c == n.key {
			return
		}
	}
	parent.children = append(parent.children, n.key)
}

func (p *TreePanel) detach(n *treeNode) {
	if n.parentKey == "" {
		if p.rootKey == n.key {
			p.rootKey = ""
		}
		p.orphans = remove(p.orphans, n.key)
		return
	}
	if parent, ok := p.nodes[n.parentKey]; ok {
		parent.children = remove(parent.children, n.key)
	}
}

func remove(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

// Reset drops every node.
func (p *TreePanel) Reset() {
	p.nodes = make(map[string]*treeNode)
	p.rootKey = ""
	p.orphans = nil
	p.scrollOffset = 0
}

// Counts returns the number of nodes per status.
func (p *TreePanel) Counts() map[models.NodeStatus]int {
	counts := make(map[models.NodeStatus]int)
	for _, n := range p.nodes {
		counts[n.status]++
	}
	return counts
}

// Len returns the number of nodes.
func (p *TreePanel) Len() int {
	return len(p.nodes)
}

// SetSize updates the panel dimensions.
func (p *TreePanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// SetFocused sets whether this panel has keyboard focus.
func (p *TreePanel) SetFocused(focused bool) {
	p.focused = focused
}

// Update handles spinner ticks and scrolling.
func (p *TreePanel) Update(msg tea.Msg) (*TreePanel, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd
	case tea.KeyMsg:
		if !p.focused {
			return p, nil
		}
		switch msg.String() {
		case "up", "k":
			if p.scrollOffset > 0 {
				p.scrollOffset--
			}
		case "down", "j":
			if p.scrollOffset < len(p.lines())-p.visibleLines() {
				p.scrollOffset++
			}
		case "g":
			p.scrollOffset = 0
		}
	}
	return p, nil
}

func (p *TreePanel) visibleLines() int {
	lines := p.height - 3 // title and borders
	if lines < 1 {
		lines = 1
	}
	return lines
}

// lines renders the tree depth-first, root first and orphans last.
func (p *TreePanel) lines() []string {
	var out []string
	var walk func(key string, prefix string, last bool, top bool)
	walk = func(key string, prefix string, last bool, top bool) {
		n, ok := p.nodes[key]
		if !ok {
			return
		}
		branch, next := "", ""
		if !top {
			branch, next = "├─ ", "│  "
			if last {
				branch, next = "└─ ", "   "
			}
		}
		out = append(out, prefix+branch+p.icon(n.status)+" "+p.label(n))
		for i, c := range n.children {
			walk(c, prefix+next, i == len(n.children)-1, false)
		}
	}

	if p.rootKey != "" {
		walk(p.rootKey, "", true, true)
	}
	for _, key := range p.orphans {
		walk(key, "", true, true)
	}
	return out
}

func (p *TreePanel) label(n *treeNode) string {
	if n.status == models.NodeStatusFailed {
		return p.failedStyle.Render(n.name)
	}
	return p.nameStyle.Render(n.name)
}

func (p *TreePanel) icon(status models.NodeStatus) string {
	switch status {
	case models.NodeStatusInProgress:
		return p.spinner.View()
	case models.NodeStatusDone:
		return p.doneStyle.Render("✓")
	case models.NodeStatusFailed:
		return p.failedStyle.Render("✗")
	default:
		return p.pendingStyle.Render("○")
	}
}

// View renders the tree panel.
func (p *TreePanel) View() string {
	var b strings.Builder

	title := "Concepts"
	if p.focused {
		title = "[Concepts]"
	}
	b.WriteString(p.titleStyle.Render(title))
	b.WriteString("\n")

	lines := p.lines()
	if len(lines) == 0 {
		b.WriteString(p.pendingStyle.Italic(true).Render("  Waiting for the first concept"))
	} else {
		start := p.scrollOffset
		if start > len(lines) {
			start = len(lines)
		}
		end := start + p.visibleLines()
		if end > len(lines) {
			end = len(lines)
		}
		b.WriteString(strings.Join(lines[start:end], "\n"))
	}

	borderColor := lipgloss.Color("240")
	if p.focused {
		borderColor = lipgloss.Color("63")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Width(max(p.width-2, 0)).
		Height(max(p.height-2, 0)).
		Render(b.String())
}
