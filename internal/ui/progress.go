package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"heapkit/internal/stress"
)

type progressModel struct {
	title   string
	events  <-chan stress.Event
	spinner spinner.Model
	prog    progress.Model
	workers []workerItem
	rounds  int
	ops     int
	// ops completed by finished rounds; running rounds are summed from workers.
	finishedOps int
	finished    int
	failed      int
	lastErr     error
	width       int
	done        bool
}

type workerItem struct {
	status string
	ev     stress.Event
}

type eventMsg stress.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders stress run
// progress, one line per worker, until events is closed.
func NewProgressModel(title string, workers, rounds, ops int, events <-chan stress.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76 // Default width

	items := make([]workerItem, workers)
	for i := range items {
		items[i].status = "idle"
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		workers: items,
		rounds:  rounds,
		ops:     ops,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(stress.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.workers) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := fmt.Sprintf("%s (%d/%d rounds)", m.title, m.finished, m.rounds)
	if m.failed > 0 {
		header = fmt.Sprintf("%s, %d failed", header, m.failed)
	}
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 12
	lineWidth := m.width - statusWidth - 4
	if lineWidth < 20 {
		lineWidth = 20
	}

	for i, w := range m.workers {
		statusStyled := styleStatus(w.status).Render(fmt.Sprintf("%12s", w.status))
		detail := fmt.Sprintf("worker %d", i)
		if w.status != "idle" {
			detail = fmt.Sprintf("worker %d: round %d %s %d/%d ops", i, w.ev.Round, w.ev.Strategy, w.ev.Ops, w.ev.Total)
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", statusStyled, truncate(detail, lineWidth)))
	}
	if m.lastErr != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
		b.WriteString("\n  ")
		b.WriteString(errStyle.Render(truncate(m.lastErr.Error(), m.width-4)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev stress.Event) tea.Cmd {
	if ev.Worker < 0 || ev.Worker >= len(m.workers) {
		return nil
	}
	w := &m.workers[ev.Worker]
	w.ev = ev
	switch {
	case ev.Done && ev.Err != nil:
		w.status = "error"
		m.failed++
		m.finished++
		m.finishedOps += ev.Ops
		m.lastErr = ev.Err
	case ev.Done:
		w.status = "done"
		m.finished++
		m.finishedOps += ev.Ops
	default:
		w.status = ev.Strategy.String()
	}
	return m.prog.SetPercent(m.percent())
}

// percent estimates completion from finished rounds plus the ops of rounds
// still running.
func (m *progressModel) percent() float64 {
	total := m.rounds * m.ops
	if total <= 0 {
		return 0
	}
	done := m.finishedOps
	for _, w := range m.workers {
		if w.status != "done" && w.status != "error" && w.status != "idle" {
			done += w.ev.Ops
		}
	}
	return min(1, float64(done)/float64(total))
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "refcount", "tracing":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
