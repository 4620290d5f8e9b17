// Package tui provides a Bubble Tea TUI that follows a watched directory.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/TohruskyDev/FinalDream/internal/gallery"
	"github.com/TohruskyDev/FinalDream/internal/watcher"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	kindAddedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindRemovedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabGallery tabID = iota
	tabActivity
	tabSummary
	tabCount
)

var tabNames = [tabCount]string{"Gallery", "Activity", "Summary"}

// maxActivity bounds the in-memory event log.
const maxActivity = 500

// EventMsg carries a watcher event into the program. Send it after the
// event has been applied to the gallery.
type EventMsg struct {
	Event watcher.Event
	At    time.Time
}

type activityEntry struct {
	at    time.Time
	event watcher.Event
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	dir       string
	gallery   *gallery.Gallery
	started   time.Time
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool

	oldestFirst bool
	cursor      int

	activity []activityEntry // newest last
	added    int
	removed  int
}

// New creates a TUI model showing g for the watched dir.
func New(dir string, g *gallery.Gallery) Model {
	return Model{
		dir:     dir,
		gallery: g,
		started: time.Now(),
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabGallery {
				m.oldestFirst = !m.oldestFirst
				m.cursor = 0
				m.refresh(tabGallery)
				m.viewports[tabGallery].GotoTop()
			}
			return m, nil
		case "up", "k":
			if m.activeTab == tabGallery {
				if m.cursor > 0 {
					m.cursor--
					m.refresh(tabGallery)
				}
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabGallery {
				if m.cursor < m.gallery.Len()-1 {
					m.cursor++
					m.refresh(tabGallery)
				}
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case EventMsg:
		at := msg.At
		if at.IsZero() {
			at = time.Now()
		}
		m.activity = append(m.activity, activityEntry{at: at, event: msg.Event})
		if len(m.activity) > maxActivity {
			m.activity = m.activity[len(m.activity)-maxActivity:]
		}
		switch msg.Event.Kind {
		case watcher.Added:
			m.added++
		case watcher.Removed:
			m.removed++
		}
		if n := m.gallery.Len(); m.cursor >= n {
			m.cursor = max(n-1, 0)
		}
		if m.ready {
			for t := tabID(0); t < tabCount; t++ {
				m.refresh(t)
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

	title := titleStyle.Width(m.width).Render("  finaldream  " + m.dir)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == tabGallery {
			label = fmt.Sprintf(" %d %s (%d) ", i+1, tabNames[i], m.gallery.Len())
		}
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-3 jump  q quit"
	if m.activeTab == tabGallery {
		order := "newest first"
		if m.oldestFirst {
			order = "oldest first"
		}
		hint = "  ←/→ tab  ↑/↓ select  s sort (" + order + ")  q quit"
	}
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
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) refresh(t tabID) {
	m.viewports[t].SetContent(m.renderTab(t))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabGallery:
		return m.renderGallery()
	case tabActivity:
		return m.renderActivity()
	case tabSummary:
		return m.renderSummary()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m *Model) images() []gallery.Image {
	if m.oldestFirst {
		return m.gallery.Oldest()
	}
	return m.gallery.Images()
}

func (m *Model) renderGallery() string {
	images := m.images()
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Images (%d)", len(images))))
	if len(images) == 0 {
		sb.WriteString(dimStyle.Render("  (no images yet)") + "\n")
		return sb.String()
	}
	for i, img := range images {
		ts := timeStyle.Render(img.ModTime().Format("2006-01-02 15:04:05"))
		row := fmt.Sprintf("  %s  %s", ts, relPath(img.Path, m.dir))
		if i == m.cursor {
			row = selectedRowStyle.Width(max(m.width-2, 1)).Render(row)
		}
		sb.WriteString(row + "\n")
	}
	return sb.String()
}

func (m *Model) renderActivity() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Activity (%d)", len(m.activity))))
	if len(m.activity) == 0 {
		sb.WriteString(dimStyle.Render("  (no changes since start)") + "\n")
		return sb.String()
	}
	for i := len(m.activity) - 1; i >= 0; i-- {
		a := m.activity[i]
		ts := timeStyle.Render(a.at.Format("15:04:05"))
		badge := kindAddedStyle.Render(fmt.Sprintf("  %-8s", "ADDED"))
		if a.event.Kind == watcher.Removed {
			badge = kindRemovedStyle.Render(fmt.Sprintf("  %-8s", "REMOVED"))
		}
		sb.WriteString(ts + badge + "  " + relPath(a.event.Path, m.dir) + "\n")
	}
	return sb.String()
}

func (m *Model) renderSummary() string {
	var sb strings.Builder
	sb.WriteString(heading("Watch Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	row("Directory:", m.dir)
	row("Started:", m.started.Format("2006-01-02 15:04:05 MST"))

	sb.WriteString(heading("Counts"))
	row("Images:", fmt.Sprintf("%d", m.gallery.Len()))
	row("Added:", fmt.Sprintf("%d", m.added))
	row("Removed:", fmt.Sprintf("%d", m.removed))
	if latest, ok := m.gallery.Latest(); ok {
		row("Latest:", filepath.Base(latest.Path))
	}
	return sb.String()
}

// relPath shows path relative to dir when it lives inside it.
func relPath(path, dir string) string {
	if dir == "" {
		return path
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if strings.HasPrefix(path, prefix) {
		return path[len(prefix):]
	}
	return path
}

// NewProgram returns a full-screen program for m. Feed it EventMsg values
// with Program.Send.
func NewProgram(m Model, opts ...tea.ProgramOption) *tea.Program {
	return tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
}
