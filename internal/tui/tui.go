// Package tui provides a Bubble Tea viewer for rendered activity logs.
// Each second-level markdown section becomes a tab.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	// Active tab: bright, underlined
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	// Inactive tab: muted
	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	// Separator between tabs
	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	// Section heading inside a tab
	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	// Step headings inside a trace ("### 1. [Read]")
	stepStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	// "**Input:**" style field labels
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// Quoted excerpt lines
	quoteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Document parsing ─────────────────

// Section is one "## " block of a rendered log.
type Section struct {
	Title string
	Body  string
}

// Document is a rendered log split into tabbable sections.
type Document struct {
	Title    string
	Sections []Section
}

// Parse splits a rendered markdown log on its second-level headings. A
// document without any becomes a single untitled section, so the viewer
// always has at least one tab.
func Parse(markdown string) *Document {
	doc := &Document{}
	var current *Section
	var body strings.Builder

	flush := func() {
		if current != nil {
			current.Body = strings.TrimSpace(body.String())
			doc.Sections = append(doc.Sections, *current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(markdown, "\n") {
		switch {
		case strings.HasPrefix(line, "# ") && doc.Title == "" && current == nil:
			doc.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		case strings.HasPrefix(line, "## "):
			flush()
			current = &Section{Title: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
		case current != nil:
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()

	if len(doc.Sections) == 0 {
		doc.Sections = []Section{{Title: "Log", Body: strings.TrimSpace(markdown)}}
	}
	return doc
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the log viewer.
type Model struct {
	doc       *Document
	filename  string
	activeTab int
	viewports []viewport.Model
	width     int
	height    int
	ready     bool
}

// New creates a viewer model for the given document and source filename.
func New(doc *Document, filename string) Model {
	return Model{doc: doc, filename: filepath.Base(filename)}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	tabs := len(m.doc.Sections)
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabs
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabs) % tabs
		case "1", "2", "3", "4", "5", "6", "7", "8", "9":
			if n := int(key[0] - '1'); n < tabs {
				m.activeTab = n
			}
		default:
			if m.ready {
				var cmd tea.Cmd
				m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
				return m, cmd
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	// ── Row 1: title bar ──────────────────────────────────────────────────────
	heading := m.doc.Title
	if heading == "" {
		heading = m.filename
	}
	title := titleStyle.Width(m.width).Render("  tasktrail  " + heading)

	// ── Row 2: tab bar ────────────────────────────────────────────────────────
	var tabParts []string
	for i, section := range m.doc.Sections {
		label := fmt.Sprintf(" %d %s ", i+1, section.Title)
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < len(m.doc.Sections)-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	// ── Row 3…N-1: scrollable content ────────────────────────────────────────
	content := m.viewports[m.activeTab].View()

	// ── Row N: status / hint bar ──────────────────────────────────────────────
	hint := fmt.Sprintf("  ←/→ tab  ↑/↓ scroll  1-%d jump  q quit", len(m.doc.Sections))
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewports = make([]viewport.Model, len(m.doc.Sections))
	for i, section := range m.doc.Sections {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(renderSection(section))
		m.viewports[i] = vp
	}
}

// ── Section rendering ─────────────────────────────────────────────────────────

// renderSection styles one section body line by line. Fenced code blocks
// are dimmed wholesale; markdown markers outside them pick their style.
func renderSection(section Section) string {
	var sb strings.Builder
	sb.WriteString("\n" + sectionHeader.Render("  "+section.Title) + "\n\n")

	inFence := false
	for _, line := range strings.Split(section.Body, "\n") {
		switch {
		case strings.HasPrefix(line, "```"):
			inFence = !inFence
			sb.WriteString(dimStyle.Render("  "+line) + "\n")
		case inFence:
			sb.WriteString(dimStyle.Render("  "+line) + "\n")
		case strings.HasPrefix(line, "### "):
			sb.WriteString(stepStyle.Render("  "+strings.TrimPrefix(line, "### ")) + "\n")
		case strings.HasPrefix(line, "**"):
			sb.WriteString(labelStyle.Render("  "+line) + "\n")
		case strings.HasPrefix(line, "> "):
			sb.WriteString(quoteStyle.Render("  "+line) + "\n")
		case line == "---":
			sb.WriteString(dimStyle.Render("  "+strings.Repeat("─", 40)) + "\n")
		default:
			sb.WriteString("  " + line + "\n")
		}
	}
	return sb.String()
}

// Run starts the viewer for the given document.
func Run(doc *Document, filename string) error {
	p := tea.NewProgram(New(doc, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
