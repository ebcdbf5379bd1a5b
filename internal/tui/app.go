// Package tui is the bubbletea terminal UI for the playback engine.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/tessro/encore/internal/core"
	"github.com/tessro/encore/internal/tail"
	"github.com/tessro/encore/internal/tui/components"
	"github.com/tessro/encore/internal/tui/styles"
)

// Panel represents which panel is focused
type Panel int

const (
	PanelNowPlaying Panel = iota
	PanelQueue
	PanelConnection
	PanelHistory
	panelCount
)

const (
	seekStep    = 5.0
	volumeStep  = 0.05
	maxHistory  = 50
	maxNotices  = 20
	errorLinger = 5 * time.Second
)

// DefaultRefreshRate is how often the progress display is redrawn.
const DefaultRefreshRate = time.Second

// Controller is the engine surface the UI drives.
type Controller interface {
	Snapshot() core.PlaybackState
	Offline() bool
	RequestCommand(cmd core.Command) error
}

// Options configures the UI.
type Options struct {
	Controller Controller
	// Events is the tail watcher's output. It may be nil.
	Events      <-chan tail.Event
	Profile     string
	Device      string
	RefreshRate time.Duration
	Theme       string
	Clock       clock.Clock
}

// Model is the bubbletea model for the UI.
type Model struct {
	ctrl        Controller
	feed        <-chan tail.Event
	clock       clock.Clock
	refreshRate time.Duration
	profile     string
	device      string

	state   core.PlaybackState
	offline bool
	history []components.HistoryEntry
	notices []components.Notice

	focusedPanel Panel
	nowPlaying   *components.NowPlaying
	queueView    *components.Queue
	connView     *components.Connection
	historyView  *components.History

	keys     keyMap
	help     help.Model
	showHelp bool

	width  int
	height int

	lastError   error
	errorExpiry time.Time

	quitting bool
}

// NewModel creates a new TUI model
func NewModel(opts Options) Model {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	rate := opts.RefreshRate
	if rate <= 0 {
		rate = DefaultRefreshRate
	}
	return Model{
		ctrl:         opts.Controller,
		feed:         opts.Events,
		clock:        clk,
		refreshRate:  rate,
		profile:      opts.Profile,
		device:       opts.Device,
		state:        opts.Controller.Snapshot(),
		offline:      opts.Controller.Offline(),
		focusedPanel: PanelNowPlaying,
		nowPlaying:   components.NewNowPlaying(),
		queueView:    components.NewQueue(),
		connView:     components.NewConnection(),
		historyView:  components.NewHistory(),
		keys:         defaultKeyMap(),
		help:         help.New(),
	}
}

// Messages
type tickMsg time.Time
type eventMsg tail.Event
type feedClosedMsg struct{}
type errMsg error

// Commands
func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitForEvent() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	feed := m.feed
	return func() tea.Msg {
		e, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(e)
	}
}

// request runs a command off the update loop; the engine applies it
// optimistically so the next refresh shows the result.
func (m Model) request(cmd core.Command) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.RequestCommand(cmd); err != nil {
			return errMsg(err)
		}
		return tickMsg(time.Time{})
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.waitForEvent())
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		m.refresh()
		if time.Time(msg).IsZero() {
			// Follow-up to a command, not a scheduled tick
			return m, nil
		}
		return m, m.tick()

	case eventMsg:
		m.refresh()
		m.record(tail.Event(msg))
		return m, m.waitForEvent()

	case feedClosedMsg:
		m.feed = nil
		return m, nil

	case errMsg:
		m.setError(msg)
		return m, nil
	}

	return m, nil
}

func (m *Model) refresh() {
	m.state = m.ctrl.Snapshot()
	m.offline = m.ctrl.Offline()
	if m.lastError != nil && !m.clock.Now().Before(m.errorExpiry) {
		m.lastError = nil
	}
}

func (m *Model) setError(err error) {
	m.lastError = err
	m.errorExpiry = m.clock.Now().Add(errorLinger)
}

// record folds a tail event into history and notices.
func (m *Model) record(e tail.Event) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = m.clock.Now()
	}

	switch e.Type {
	case tail.EventItemComplete, tail.EventItemSkip:
		if e.Previous == nil || !e.Previous.HasItem() {
			return
		}
		entry := components.HistoryEntry{
			ItemID:   e.Previous.ItemID,
			Title:    e.Previous.Title,
			Creator:  e.Previous.Creator,
			PlayedAt: ts,
			Skipped:  e.Type == tail.EventItemSkip,
		}
		// Add to front, keep max entries
		m.history = append([]components.HistoryEntry{entry}, m.history...)
		if len(m.history) > maxHistory {
			m.history = m.history[:maxHistory]
		}
		return

	case tail.EventCommandFailed, tail.EventAudioFailed:
		m.setError(errors.New(e.Detail))

	case tail.EventConnected:
		if e.Detail != "" {
			m.profile = e.Detail
		}
	case tail.EventDisconnected:
	default:
		return
	}

	notice := components.Notice{
		Time:   ts.Format("15:04"),
		Text:   tail.NewFormatter(tail.WithEmoji(false)).Format(e),
		Failed: e.Type != tail.EventConnected,
	}
	m.notices = append([]components.Notice{notice}, m.notices...)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[:maxNotices]
	}
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	// Help overlay
	if m.showHelp {
		switch msg.String() {
		case "?", "esc", "q":
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.FocusNext):
		m.focusedPanel = (m.focusedPanel + 1) % panelCount
		return m, nil
	case key.Matches(msg, m.keys.FocusPrev):
		m.focusedPanel = (m.focusedPanel + panelCount - 1) % panelCount
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		return m, m.request(core.Command{Action: core.ActionPlayPause})
	case key.Matches(msg, m.keys.Next):
		return m, m.request(core.Command{Action: core.ActionNext})
	case key.Matches(msg, m.keys.Prev):
		return m, m.request(core.Command{Action: core.ActionPrevious})
	case key.Matches(msg, m.keys.Shuffle):
		return m, m.request(core.Command{Action: core.ActionShuffleCycle})
	case key.Matches(msg, m.keys.Repeat):
		return m, m.request(core.Command{Action: core.ActionRepeatCycle})
	case key.Matches(msg, m.keys.SeekBack):
		return m, m.seek(-seekStep)
	case key.Matches(msg, m.keys.SeekForward):
		return m, m.seek(seekStep)
	case key.Matches(msg, m.keys.VolumeUp):
		return m, m.volume(volumeStep)
	case key.Matches(msg, m.keys.VolumeDown):
		return m, m.volume(-volumeStep)
	}

	// Panel-specific keys
	if m.focusedPanel == PanelQueue {
		switch {
		case key.Matches(msg, m.keys.ScrollDown):
			m.queueView.ScrollDown()
		case key.Matches(msg, m.keys.ScrollUp):
			m.queueView.ScrollUp()
		}
	}

	return m, nil
}

// seek moves the position by delta from the engine's current state.
func (m Model) seek(delta float64) tea.Cmd {
	st := m.ctrl.Snapshot()
	if !st.HasItem() {
		return nil
	}
	target := max(st.Position+delta, 0)
	if st.Duration > 0 {
		target = min(target, st.Duration)
	}
	return m.request(core.Command{Action: core.ActionSeek, Value: target})
}

func (m Model) volume(delta float64) tea.Cmd {
	st := m.ctrl.Snapshot()
	return m.request(core.Command{Action: core.ActionVolume, Value: lo.Clamp(st.Volume+delta, 0, 1)})
}

// View renders the UI
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.width == 0 {
		return "Loading..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	// Left: Now Playing (top), Queue (bottom)
	// Right: Connection (top), History (bottom)
	leftWidth := m.width * 60 / 100
	rightWidth := m.width - leftWidth - 2
	topHeight := m.height * 40 / 100
	bottomHeight := m.height - topHeight - 2

	nowPlaying := m.nowPlaying.Render(m.state, leftWidth-2, topHeight-2, m.focusedPanel == PanelNowPlaying)
	queueView := m.queueView.Render(core.NewQueue(m.state.Queue, m.state.ItemID), leftWidth-2, bottomHeight-2, m.focusedPanel == PanelQueue)
	connView := m.connView.Render(components.ConnectionInfo{
		Profile: m.profile,
		Device:  m.device,
		Offline: m.offline,
		Notices: m.notices,
	}, rightWidth-2, topHeight-2, m.focusedPanel == PanelConnection)
	historyView := m.historyView.Render(m.history, m.clock.Now(), rightWidth-2, bottomHeight-2, m.focusedPanel == PanelHistory)

	leftCol := lipgloss.JoinVertical(lipgloss.Left, nowPlaying, queueView)
	rightCol := lipgloss.JoinVertical(lipgloss.Left, connView, historyView)

	main := lipgloss.JoinHorizontal(lipgloss.Top, leftCol, rightCol)

	return lipgloss.JoinVertical(lipgloss.Left, main, m.renderStatusBar())
}

func (m Model) renderStatusBar() string {
	status := m.help.ShortHelpView(m.keys.ShortHelp())

	switch {
	case m.lastError != nil:
		status = styles.Failed.Render("Error: " + m.lastError.Error())
	case m.offline:
		status = styles.Paused.Render("offline") + "  " + status
	}

	return lipgloss.NewStyle().
		Width(m.width).
		Padding(0, 1).
		Render(status)
}

func (m Model) renderHelp() string {
	title := styles.Highlight.Render("encore - Keyboard Shortcuts")
	body := m.help.FullHelpView(m.keys.FullHelp())
	hint := styles.Dim.Render("Press ? or Esc to close")

	content := lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", hint))

	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(styles.BorderStyle.Render(content))
}

// Run starts the TUI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	styles.ApplyTheme(opts.Theme)

	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
