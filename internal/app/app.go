package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/logbook-notify/internal/channel"
	"github.com/nhle/logbook-notify/internal/delivery"
	"github.com/nhle/logbook-notify/internal/events"
	"github.com/nhle/logbook-notify/internal/keys"
	"github.com/nhle/logbook-notify/internal/session"
	appsync "github.com/nhle/logbook-notify/internal/sync"
	"github.com/nhle/logbook-notify/internal/theme"
	"github.com/nhle/logbook-notify/internal/ui"
	"github.com/nhle/logbook-notify/internal/ui/command"
	helpview "github.com/nhle/logbook-notify/internal/ui/help"
	inboxview "github.com/nhle/logbook-notify/internal/ui/inbox"
	"github.com/nhle/logbook-notify/internal/ui/toast"
)

// actionTimeout bounds a single REST action started from the UI.
const actionTimeout = 15 * time.Second

// signalBuffer is the number of background signals queued for the UI.
const signalBuffer = 64

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewInbox ViewState = iota
	ViewHelp
	ViewCommand
)

// eventMsg carries a dispatcher event into the Bubble Tea runtime.
type eventMsg events.Event

// sessionEndedMsg is sent once when the session ends.
type sessionEndedMsg struct {
	reason session.Reason
}

type startedMsg struct{}

type startFailedMsg struct {
	err error
}

// actionDoneMsg reports the outcome of a user-triggered REST action.
type actionDoneMsg struct {
	action string
	err    error
}

type logoutDoneMsg struct {
	err error
}

// Options are the optional collaborators of the root model.
type Options struct {
	// Toasts is drained into the toast overlay. It should be the same
	// bridge the delivery client was built with.
	Toasts *toast.Bridge
	// Logout forgets the stored token. The session is ended afterwards.
	Logout func() error
	// Now drives relative timestamps in the inbox list.
	Now func() time.Time
}

// Model is the root Bubble Tea model that manages view routing, layout
// and the delivery client.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	client       *delivery.Client
	keys         *keys.KeyMap
	inbox        inboxview.Model
	helpView     helpview.Model
	commandView  command.Model
	toasts       toast.Model
	bridge       *toast.Bridge
	signals      chan tea.Msg
	logout       func() error
	cancels      []func()
	ready        bool

	unreadCount   int
	connState     channel.State
	sessionEnded  bool
	statusMessage string
	statusIsError bool
}

// New creates the root model for client. Dispatcher events and the end of
// the session are forwarded to the UI from here on.
func New(client *delivery.Client, opts Options) Model {
	k := keys.DefaultKeyMap()
	signals := make(chan tea.Msg, signalBuffer)

	cancels := []func(){
		client.Events().Subscribe(nil, func(ev events.Event) {
			select {
			case signals <- eventMsg(ev):
			default:
				// A queued event already triggers a full refresh.
			}
		}),
		client.Session().OnEnd(func(reason session.Reason) {
			go func() { signals <- sessionEndedMsg{reason: reason} }()
		}),
	}

	return Model{
		currentView: ViewInbox,
		client:      client,
		keys:        k,
		inbox:       inboxview.New(k, opts.Now, 80, 22),
		helpView:    helpview.New(k, 80, 22),
		commandView: command.New(80, 22),
		toasts:      toast.New(80),
		bridge:      opts.Toasts,
		signals:     signals,
		logout:      opts.Logout,
		cancels:     cancels,
	}
}

// Init starts the delivery client and begins draining background signals.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.startClient(), m.waitForSignal()}
	if m.bridge != nil {
		cmds = append(cmds, m.bridge.Wait())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.inbox.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		m.toasts.SetWidth(contentWidth)
		return m, nil

	case tea.FocusMsg:
		m.client.Window().SetVisible(true)
		return m, nil

	case tea.BlurMsg:
		m.client.Window().SetVisible(false)
		return m, nil

	case startedMsg:
		return m, m.refreshInbox()

	case startFailedMsg:
		m.setError(fmt.Sprintf("Could not start: %v", msg.err))
		return m, nil

	case eventMsg:
		cmd := m.handleEvent(events.Event(msg))
		return m, tea.Batch(cmd, m.waitForSignal())

	case sessionEndedMsg:
		m.sessionEnded = true
		m.connState = channel.Disconnected
		if msg.reason == session.ReasonUnauthorized {
			m.setError("Session expired. Run `logbook-notify login` to sign in again.")
		} else {
			m.setInfo(fmt.Sprintf("Signed out (%s).", msg.reason))
		}
		return m, m.waitForSignal()

	case toast.Msg:
		cmds := []tea.Cmd{m.toasts.Push(msg)}
		if m.bridge != nil {
			cmds = append(cmds, m.bridge.Wait())
		}
		return m, tea.Batch(cmds...)

	case actionDoneMsg:
		if msg.err != nil {
			m.setError(fmt.Sprintf("%s failed: %v", msg.action, msg.err))
		} else {
			m.clearStatus()
		}
		return m, m.refreshInbox()

	case logoutDoneMsg:
		if msg.err != nil {
			m.setError(fmt.Sprintf("logout failed: %v", msg.err))
			return m, nil
		}
		m.shutdown()
		return m, tea.Quit

	case inboxview.MarkReadMsg:
		return m, m.markRead(msg.ID)

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(string(msg))

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		if m.currentView == ViewCommand {
			if key.Matches(msg, m.keys.Back) {
				m.currentView = m.previousView
				return m, nil
			}
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.currentView == ViewInbox {
				return m.quit()
			}

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.clearStatus()
			return m, nil

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			m.helpView.SetDiagnostics(m.diagnostics())
			return m, nil

		case key.Matches(msg, m.keys.Command):
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()

		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh()

		case key.Matches(msg, m.keys.MarkAllRead):
			return m, m.markAllRead()
		}
	}

	if _, ok := msg.(tea.KeyMsg); !ok {
		m.toasts, _ = m.toasts.Update(msg)
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewInbox:
		m.inbox, cmd = m.inbox.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	badge := ""
	if m.unreadCount > 0 {
		badge = unreadBadge(m.unreadCount)
	}
	header := m.layout.RenderHeader("Logbook", badge, m.syncStatus())
	content := m.renderContent()

	hints, isError := m.keyHints(), false
	if m.statusMessage != "" && m.currentView == ViewInbox {
		hints, isError = m.statusMessage, m.statusIsError
	}
	statusBar := m.layout.RenderStatusBar(hints, isError)

	return m.layout.RenderWithFrame(header, content, m.toasts.View(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewInbox:
		return m.inbox.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

func (m *Model) handleEvent(ev events.Event) tea.Cmd {
	switch ev.Category {
	case events.CategoryConnection:
		if s, ok := ev.Payload.(channel.State); ok {
			m.connState = s
		}
		return nil
	default:
		return m.refreshInbox()
	}
}

// refreshInbox copies the inbox contents into the list view.
func (m *Model) refreshInbox() tea.Cmd {
	store := m.client.Inbox()
	m.unreadCount = store.UnreadCount()
	if m.currentView == ViewHelp {
		m.helpView.SetDiagnostics(m.diagnostics())
	}
	return m.inbox.SetNotifications(store.List())
}

// syncStatus returns a short string describing the delivery state.
func (m Model) syncStatus() string {
	if m.sessionEnded {
		return theme.ConnectionStyle(false, true).Render("⚠ signed out")
	}
	switch m.connState {
	case channel.Connected:
		return theme.ConnectionStyle(true, false).Render("● live")
	case channel.Connecting:
		return "◌ connecting"
	}

	status := m.client.Poller().Status()
	switch status.State {
	case appsync.SyncRunning:
		return "syncing..."
	case appsync.SyncError:
		return theme.ConnectionStyle(false, true).
			Render(fmt.Sprintf("⚠ offline, retry in %s", status.Interval))
	}
	if status.Running {
		return fmt.Sprintf("○ polling every %s", status.Interval)
	}
	return "idle"
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	default:
		return "q quit | ? help | enter mark read | A mark all read | r refresh | : command"
	}
}

func (m Model) diagnostics() helpview.Diagnostics {
	status := m.client.Poller().Status()
	ch := m.client.Channel()
	return helpview.Diagnostics{
		Connection:   ch.State().String(),
		ClientID:     ch.ClientID(),
		LastPong:     ch.LastPong(),
		PollInterval: status.Interval,
		LastSync:     status.LastSync,
		PollError:    status.Error,
	}
}

func (m *Model) setError(s string) {
	m.statusMessage = s
	m.statusIsError = true
}

func (m *Model) setInfo(s string) {
	m.statusMessage = s
	m.statusIsError = false
}

func (m *Model) clearStatus() {
	if m.sessionEnded {
		return
	}
	m.statusMessage = ""
	m.statusIsError = false
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.shutdown()
	return m, tea.Quit
}

// Close drops the model's dispatcher subscription and session listener.
// It is safe to call more than once.
func (m Model) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
}

func (m Model) shutdown() {
	m.Close()
	m.client.Stop()
}

func (m Model) waitForSignal() tea.Cmd {
	ch := m.signals
	return func() tea.Msg {
		return <-ch
	}
}

func (m Model) startClient() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		if err := c.Start(context.Background()); err != nil {
			return startFailedMsg{err: err}
		}
		return startedMsg{}
	}
}

func (m Model) markRead(id int64) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{action: "mark read", err: c.MarkRead(ctx, id)}
	}
}

func (m Model) markAllRead() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{action: "mark all read", err: c.MarkAllRead(ctx)}
	}
}

func (m Model) refresh() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := c.Refresh(ctx)
		if errors.Is(err, appsync.ErrNotRunning) {
			err = errors.New("not connected")
		}
		return actionDoneMsg{action: "refresh", err: err}
	}
}

func (m Model) doLogout() tea.Cmd {
	c := m.client
	logout := m.logout
	return func() tea.Msg {
		if logout != nil {
			if err := logout(); err != nil {
				return logoutDoneMsg{err: err}
			}
		}
		c.Session().End(session.ReasonLogout)
		return logoutDoneMsg{}
	}
}

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	switch cmd {
	case command.Refresh:
		return m.refresh()
	case command.MarkAllRead:
		return m.markAllRead()
	case command.Help:
		m.previousView = ViewInbox
		m.currentView = ViewHelp
		m.helpView.SetDiagnostics(m.diagnostics())
		return nil
	case command.Logout:
		return m.doLogout()
	case command.Quit:
		m.shutdown()
		return tea.Quit
	default:
		m.setError(fmt.Sprintf("unknown command %q", cmd))
		return nil
	}
}

func unreadBadge(n int) string {
	if n > 99 {
		return "99+ unread"
	}
	return fmt.Sprintf("%d unread", n)
}
