// Package tui provides the terminal dashboard for CleanSpace.
package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// refreshInterval is how often the dashboard polls the daemon.
const refreshInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	input        textinput.Model
	viewport     viewport.Model
	suggestions  *Suggestions
	width        int
	height       int
	mode         string // "status", "queue", "sim"
	daemonOnline bool
	status       *StatusView
	snapshot     *SnapshotView
	pending      []PendingItem
	session      *SessionView
	message      string
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: /sync | /offline | /start <mission> | !plant_tree <parcel> | /tick <s>"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		viewport:    viewport.New(80, 20),
		suggestions: NewSuggestions(),
		mode:        "status",
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.refresh(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else {
				a.viewport.LineUp(1)
			}

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else {
				a.viewport.LineDown(1)
			}

		case "tab":
			if a.suggestions.IsVisible() {
				if selected := a.suggestions.Selected(); selected != nil {
					a.input.SetValue(a.suggestions.prefix + selected.Text + " ")
					a.input.CursorEnd()
					a.suggestions.Update("")
				}
				return a, nil
			}
			a.mode = nextMode(a.mode)
			a.syncViewport()

		case "enter":
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(cmd)
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width - 4
		a.viewport.Height = max(5, msg.Height-12)
		a.syncViewport()

	case refreshedMsg:
		a.daemonOnline = msg.online
		a.status = msg.status
		a.snapshot = msg.snapshot
		a.pending = msg.pending
		a.session = msg.session
		a.syncViewport()

	case tickMsg:
		return a, tea.Batch(a.refresh(), a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		if msg.mode != "" {
			a.mode = msg.mode
		}
		return a, a.refresh()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

func nextMode(mode string) string {
	switch mode {
	case "status":
		return "queue"
	case "queue":
		return "sim"
	default:
		return "status"
	}
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	netStatus := onlineStyle.Render("● ONLINE")
	if a.status != nil && a.status.Offline {
		netStatus = offlineStyle.Render("○ OFFLINE")
	}
	queued := 0
	if a.status != nil {
		queued = a.status.QueuedCount
	}

	header := titleStyle.Render("🌍 CleanSpace")
	header += "  " + daemonStatus + "  " + netStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d queued]", queued))
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	if a.status != nil && a.status.Message != "" {
		style := lipgloss.NewStyle().Foreground(mutedColor)
		if a.status.Offline {
			style = lipgloss.NewStyle().Foreground(warningColor)
		}
		b.WriteString(style.Render(" "+a.status.Message) + "\n")
	}

	b.WriteString(panelStyle.Render(a.viewport.View()))

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(primaryColor)
		if strings.HasPrefix(a.message, "Error") || strings.HasPrefix(a.message, "Rejected") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	status := fmt.Sprintf(" View: %s | Tab:switch | ↑↓:scroll | /:commands | !:actions | Ctrl+C:quit", strings.ToUpper(a.mode))
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) syncViewport() {
	var content string
	switch a.mode {
	case "queue":
		content = renderQueue(a.pending)
	case "sim":
		content = renderSession(a.session)
	default:
		content = renderStatus(a.status, a.snapshot)
	}
	a.viewport.SetContent(content)
}

type refreshedMsg struct {
	online   bool
	status   *StatusView
	snapshot *SnapshotView
	pending  []PendingItem
	session  *SessionView
}

type tickMsg time.Time

type commandResultMsg struct {
	message string
	mode    string
}

type errMsg struct {
	err error
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh loads every panel. Individual failures leave that panel empty.
func (a *App) refresh() tea.Cmd {
	return func() tea.Msg {
		msg := refreshedMsg{online: a.client.Health()}
		if !msg.online {
			return msg
		}
		msg.status, _ = a.client.Status()
		msg.snapshot, _ = a.client.Snapshot()
		msg.pending, _ = a.client.Pending()
		msg.session, _ = a.client.Session()
		return msg
	}
}

func (a *App) executeCommand(input string) tea.Cmd {
	return func() tea.Msg {
		msg, err := a.run(input)
		if err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				return commandResultMsg{message: "Rejected: " + rej.Error()}
			}
			return errMsg{err}
		}
		res := commandResultMsg{message: msg}
		if fields := strings.Fields(strings.TrimPrefix(input, "/")); len(fields) > 0 && fields[0] == "start" {
			res.mode = "sim"
		}
		return res
	}
}

// run executes one command line and returns the result message.
func (a *App) run(input string) (string, error) {
	if strings.HasPrefix(input, "!") {
		parts := strings.Fields(strings.TrimPrefix(input, "!"))
		if len(parts) == 0 {
			return "", fmt.Errorf("usage: !<action> <parcel>")
		}
		parcel := ""
		if len(parts) > 1 {
			parcel = parts[1]
		}
		st, err := a.client.ApplyAction(parts[0], parcel)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✓ Applied %s, AQI now %d", parts[0], st.CurrentAQI), nil
	}

	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return "", fmt.Errorf("empty command")
	}

	switch parts[0] {
	case "sync":
		res, err := a.client.Sync()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✓ Synced %d, failed %d, dropped %d", len(res.Succeeded), len(res.Failed), len(res.Dropped)), nil

	case "online", "offline":
		st, err := a.client.SetOnline(parts[0] == "online")
		if err != nil {
			return "", err
		}
		return st.Message, nil

	case "start":
		mission := ""
		if len(parts) > 1 {
			mission = parts[1]
		}
		st, err := a.client.StartSession(mission)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✓ Session started: AQI %d, target %d", st.CurrentAQI, st.TargetAQI), nil

	case "tick":
		secs := 10.0
		if len(parts) > 1 {
			v, err := strconv.ParseFloat(parts[1], 64)
			if err != nil || v <= 0 {
				return "", fmt.Errorf("usage: tick <seconds>")
			}
			secs = v
		}
		st, err := a.client.Tick(secs)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✓ %s: AQI %d, health %.0f", st.Phase, st.CurrentAQI, st.Health), nil

	case "achieve":
		if len(parts) < 2 {
			return "", fmt.Errorf("usage: achieve <achievement_id>")
		}
		id, err := a.client.Enqueue("achievement", map[string]string{"achievement_id": parts[1]})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✓ Queued achievement %s", shortID(id)), nil

	case "refresh":
		return "✓ Refreshed", nil

	default:
		return "", fmt.Errorf("unknown command: %s", parts[0])
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
