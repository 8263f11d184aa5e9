package migrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	StageInit  = "init"
	StageUsers = "users"
	StageChats = "chats"
	StageStats = "stats"
)

type progressMsg struct {
	stage   string
	current int
	total   int
	message string
}

type completeMsg struct {
	result *Result
}

type errorMsg struct {
	err error
}

type progressModel struct {
	stage     string
	spinner   spinner.Model
	progress  progress.Model
	current   int
	total     int
	message   string
	result    *Result
	startTime time.Time
	done      bool
	err       error
	width     int
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			MarginBottom(1)

	stageStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			MarginLeft(2)

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF0000"))

	statStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			MarginLeft(2)
)

func newProgressModel() progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	return progressModel{
		stage:     StageInit,
		spinner:   s,
		progress:  progress.New(progress.WithDefaultGradient()),
		startTime: time.Now(),
		width:     80,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 4
		return m, nil

	case progressMsg:
		m.stage = msg.stage
		m.current = msg.current
		m.total = msg.total
		m.message = msg.message
		return m, nil

	case completeMsg:
		m.result = msg.result
		m.done = true
		return m, tea.Quit

	case errorMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("✗ Import failed: %v\n", m.err))
		}

		elapsed := time.Since(m.startTime).Round(time.Second)
		result := strings.Builder{}
		result.WriteString(successStyle.Render("✓ Legacy import completed!\n\n"))
		if m.result != nil {
			result.WriteString(statStyle.Render(fmt.Sprintf("  Batch: %s\n", m.result.Batch)))
			result.WriteString(statStyle.Render(fmt.Sprintf("  Users: %d\n", m.result.Users)))
			result.WriteString(statStyle.Render(fmt.Sprintf("  Chats: %d\n", m.result.Chats)))
			result.WriteString(statStyle.Render(fmt.Sprintf("  Plugin stats: %d\n", m.result.Stats)))
			result.WriteString(statStyle.Render(fmt.Sprintf("  Repaired fields: %d\n", m.result.Repaired)))
		}
		result.WriteString(statStyle.Render(fmt.Sprintf("  Time elapsed: %s\n", elapsed)))
		return result.String()
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("Legacy Database Import"))
	s.WriteString("\n\n")

	var stageText string
	switch m.stage {
	case StageInit:
		stageText = "Reading legacy database..."
	case StageUsers:
		stageText = "Importing users"
	case StageChats:
		stageText = "Importing chats"
	case StageStats:
		stageText = "Importing plugin stats"
	}

	s.WriteString(m.spinner.View() + " ")
	s.WriteString(stageStyle.Render(stageText))
	s.WriteString("\n\n")

	if m.total > 0 {
		percent := float64(m.current) / float64(m.total)
		s.WriteString(m.progress.ViewAs(percent))
		fmt.Fprintf(&s, " %d/%d\n\n", m.current, m.total)
	}

	if m.message != "" {
		s.WriteString(messageStyle.Render(m.message))
		s.WriteString("\n")
	}

	elapsed := time.Since(m.startTime).Round(time.Second)
	s.WriteString("\n")
	s.WriteString(messageStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)))

	s.WriteString("\n\n")
	s.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Render("Press Ctrl+C to cancel"))

	return s.String()
}

func runWithProgress(importFunc func(progress func(stage string, current, total int, message string)) (*Result, error)) error {
	p := tea.NewProgram(newProgressModel())

	var importErr error
	go func() {
		res, err := importFunc(func(stage string, current, total int, message string) {
			p.Send(progressMsg{
				stage:   stage,
				current: current,
				total:   total,
				message: message,
			})
		})
		if err != nil {
			importErr = err
			p.Send(errorMsg{err: err})
		} else {
			p.Send(completeMsg{result: res})
		}
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	return importErr
}
