// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for chatup.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// Sending is split in two: the user's line is echoed inside Update, the
// network round trip runs in a tea.Cmd and reports back with sendFinishedMsg.

package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/kingrea/chatup/internal/api"
	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/history"
	"github.com/kingrea/chatup/internal/manager"
	"github.com/kingrea/chatup/internal/pipeline"
	"github.com/kingrea/chatup/internal/presenter"
)

// focusArea is the pane receiving key presses.
type focusArea int

const (
	focusInput   focusArea = iota // message composer
	focusSidebar                  // history list
)

type toastKind int

const (
	toastInfo toastKind = iota
	toastError
)

const (
	defaultToastTTL = 4 * time.Second
	logPanelLines   = 8
	welcomeText     = "Welcome! Ask me anything to start a new chat."
)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithContext sets the context used for every background command.
func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// WithMarkdown toggles glamour rendering of replies.
func WithMarkdown(enabled bool) AppOption {
	return func(a *App) {
		a.markdown = enabled
	}
}

// WithToastTTL sets how long notifications stay visible.
func WithToastTTL(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.toastTTL = d
		}
	}
}

// WithRefreshDelay overrides the pause before the post-reply history refresh.
func WithRefreshDelay(d time.Duration) AppOption {
	return func(a *App) {
		if d >= 0 {
			a.refreshDelay = d
		}
	}
}

// WithStaticCursor disables cursor blinking.
func WithStaticCursor() AppOption {
	return func(a *App) {
		a.staticCursor = true
	}
}

type historyLoadedMsg struct {
	reason string
	err    error
}

type sendFinishedMsg struct {
	pending pipeline.Pending
	result  pipeline.Result
}

type deleteFinishedMsg struct {
	outcome presenter.DeleteOutcome
	err     error
}

type logoutFinishedMsg struct {
	err error
}

type toastExpiredMsg struct {
	gen int
}

// deletePrompt is the open confirmation modal.
type deletePrompt struct {
	id    string
	label string
}

// entryItem adapts a presenter entry to the list widget.
type entryItem struct {
	entry presenter.Entry
}

func (i entryItem) Title() string {
	if i.entry.Active {
		return "● " + i.entry.Label
	}
	return i.entry.Label
}

func (i entryItem) Description() string {
	stamp := i.entry.Timestamp.Local().Format("Jan 2 15:04")
	if i.entry.Preview == "" {
		return stamp
	}
	return stamp + " · " + i.entry.Preview
}

func (i entryItem) FilterValue() string { return i.entry.Label }

// App is the main application model
type App struct {
	mgr      *manager.Manager
	pipeline *pipeline.Pipeline
	sink     *uiSink
	logger   *zap.Logger
	ctx      context.Context

	markdown     bool
	renderer     *glamour.TermRenderer
	toastTTL     time.Duration
	refreshDelay time.Duration
	staticCursor bool

	sidebar    list.Model
	transcript viewport.Model
	input      textarea.Model
	spinner    spinner.Model
	focus      focusArea
	width      int
	height     int

	viewingID   string
	messages    []conversation.Message
	showWelcome bool
	typingID    string
	inFlight    int

	confirming *deletePrompt
	toast      string
	toastKind  toastKind
	toastGen   int
	statusMsg  string
	loggedOut  bool
}

// NewApp creates the chat UI for a manager that is logged in and started.
func NewApp(mgr *manager.Manager, opts ...AppOption) (*App, error) {
	if mgr == nil || !mgr.LoggedIn() {
		return nil, manager.ErrNotLoggedIn
	}
	a := &App{
		mgr:          mgr,
		sink:         &uiSink{},
		logger:       mgr.Logger().Named("tui"),
		ctx:          context.Background(),
		markdown:     mgr.Config().Settings.UI.RenderMarkdown,
		toastTTL:     defaultToastTTL,
		refreshDelay: mgr.Config().RefreshDelay(),
		showWelcome:  true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	p, err := mgr.NewPipeline(a.sink, a.sink, a.sink)
	if err != nil {
		return nil, err
	}
	a.pipeline = p

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("#5B8DEF")).
		BorderForeground(lipgloss.Color("#5B8DEF"))
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("#AAAAAA")).
		BorderForeground(lipgloss.Color("#5B8DEF"))
	a.sidebar = list.New(nil, delegate, 30, 20)
	a.sidebar.Title = "History"
	a.sidebar.SetShowStatusBar(false)
	a.sidebar.SetFilteringEnabled(false)
	a.sidebar.SetShowHelp(false)
	a.sidebar.KeyMap.Quit.SetEnabled(false)
	a.sidebar.Styles.Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))

	a.input = textarea.New()
	a.input.Placeholder = "Type a message..."
	a.input.ShowLineNumbers = false
	a.input.CharLimit = 4000
	a.input.SetHeight(3)
	a.input.KeyMap.InsertNewline.SetEnabled(false)
	if a.staticCursor {
		a.input.Cursor.SetMode(cursor.CursorStatic)
	}
	a.input.Focus()

	a.transcript = viewport.New(60, 20)

	a.spinner = spinner.New()
	a.spinner.Spinner = spinner.Dot
	a.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))

	if a.markdown {
		if renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80)); err == nil {
			a.renderer = renderer
		} else {
			a.logger.Warn("markdown renderer unavailable", zap.Error(err))
		}
	}

	a.rebuildSidebar()
	a.syncTranscript()
	return a, nil
}

// LoggedOut reports whether the program ended through logout.
func (a *App) LoggedOut() bool {
	return a.loggedOut
}

func (a *App) logInfo(format string, args ...any) {
	if journal := a.mgr.Journal(); journal != nil {
		journal.Info(format, args...)
	}
}

func (a *App) logWarn(format string, args ...any) {
	if journal := a.mgr.Journal(); journal != nil {
		journal.Warn(format, args...)
	}
}

func (a *App) logError(format string, args ...any) {
	if journal := a.mgr.Journal(); journal != nil {
		journal.Error(format, args...)
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.loadHistoryCmd("startup")}
	if !a.staticCursor {
		cmds = append(cmds, textarea.Blink)
	}
	return tea.Batch(cmds...)
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()
		return a, nil

	case historyLoadedMsg:
		return a.handleHistoryLoaded(msg)

	case sendFinishedMsg:
		return a.handleSendFinished(msg)

	case deleteFinishedMsg:
		return a.handleDeleteFinished(msg)

	case logoutFinishedMsg:
		if msg.err != nil {
			return a, a.showToast(toastError, "Logout failed: "+msg.err.Error())
		}
		a.loggedOut = true
		return a, tea.Quit

	case toastExpiredMsg:
		if msg.gen == a.toastGen {
			a.toast = ""
		}
		return a, nil

	case spinner.TickMsg:
		if a.typingID == "" {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if a.confirming != nil {
			return a.handleConfirmKey(msg)
		}
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "tab":
			a.toggleFocus()
			return a, nil
		case "ctrl+n":
			return a.newChat()
		case "ctrl+r":
			a.statusMsg = "Refreshing history..."
			return a, a.loadHistoryCmd("manual")
		case "ctrl+l":
			return a, a.logoutCmd()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			a.transcript, cmd = a.transcript.Update(msg)
			return a, cmd
		}
		if a.focus == focusSidebar {
			return a.handleSidebarKey(msg)
		}
		if msg.String() == "enter" {
			return a.submit()
		}
	}

	var cmd tea.Cmd
	if a.focus == focusInput {
		a.input, cmd = a.input.Update(msg)
	}
	return a, cmd
}

func (a *App) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if item, ok := a.sidebar.SelectedItem().(entryItem); ok {
			return a.selectConversation(item.entry.ID)
		}
		return a, nil
	case "n":
		return a.newChat()
	case "d", "delete":
		if item, ok := a.sidebar.SelectedItem().(entryItem); ok {
			return a.requestDelete(item.entry.ID)
		}
		return a, nil
	case "esc":
		a.toggleFocus()
		return a, nil
	}
	var cmd tea.Cmd
	a.sidebar, cmd = a.sidebar.Update(msg)
	return a, cmd
}

func (a *App) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y", "enter":
		a.statusMsg = "Deleting " + a.confirming.label + "..."
		return a, a.deleteCmd()
	case "n", "N", "esc":
		a.mgr.Presenter().CancelDelete()
		a.confirming = nil
		return a, nil
	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) toggleFocus() {
	if a.focus == focusInput {
		a.focus = focusSidebar
		a.input.Blur()
		return
	}
	a.focus = focusInput
	a.input.Focus()
}

func (a *App) focusInput() {
	a.focus = focusInput
	a.input.Focus()
}

// submit echoes the composed line and starts the round trip.
func (a *App) submit() (tea.Model, tea.Cmd) {
	text := a.input.Value()
	a.input.Reset()
	if strings.TrimSpace(text) == "" {
		return a, nil
	}
	pending := a.pipeline.Begin(a.ctx, text)
	if pending.Skipped {
		return a, nil
	}
	if pending.ConversationID != a.viewingID {
		a.viewingID = pending.ConversationID
		a.messages = nil
	}
	a.showWelcome = false
	a.inFlight++
	cmds := a.applySink()
	a.rebuildSidebar()
	if pending.Created {
		a.logInfo("Started chat %q", conversation.TitleFrom(text))
	}
	cmds = append(cmds, a.spinner.Tick, a.completeCmd(pending))
	return a, tea.Batch(cmds...)
}

func (a *App) handleSendFinished(msg sendFinishedMsg) (tea.Model, tea.Cmd) {
	if a.inFlight > 0 {
		a.inFlight--
	}
	cmds := a.applySink()
	if a.viewingID == msg.pending.ConversationID && msg.result.ConversationID != "" {
		a.viewingID = msg.result.ConversationID
	}
	// A queued send on an adopted draft replies under the server id.
	if a.viewingID == msg.result.ConversationID {
		if conv, ok := a.mgr.State().Cache().Get(a.viewingID); ok {
			a.messages = append([]conversation.Message(nil), conv.Messages...)
			a.renderTranscript()
		}
	}
	a.rebuildSidebar()
	if msg.result.Stage == pipeline.StageFailed {
		a.logError("Send failed: %v", msg.result.Err)
		cmds = append(cmds, a.showToast(toastError, "Couldn't reach the chat service"))
	} else {
		a.logInfo("Reply received")
	}
	if err := a.mgr.Touch(a.ctx); err != nil {
		a.logger.Warn("touch session", zap.Error(err))
	}
	return a, tea.Batch(cmds...)
}

func (a *App) handleHistoryLoaded(msg historyLoadedMsg) (tea.Model, tea.Cmd) {
	a.statusMsg = ""
	if msg.err != nil {
		a.logWarn("History load (%s) failed: %v", msg.reason, msg.err)
		return a, a.showToast(toastError, "Couldn't load history: "+api.Message(msg.err, "the chat service is unreachable"))
	}
	a.rebuildSidebar()
	if a.inFlight == 0 {
		a.syncTranscript()
	}
	if msg.reason != "refresh" {
		a.logInfo("History loaded · %d chats", a.mgr.State().Cache().Len())
	}
	return a, nil
}

func (a *App) handleDeleteFinished(msg deleteFinishedMsg) (tea.Model, tea.Cmd) {
	a.confirming = nil
	a.statusMsg = ""
	if msg.err != nil {
		a.logError("Delete %s failed: %v", msg.outcome.ID, msg.err)
		return a, a.showToast(toastError, api.Message(msg.err, "Failed to delete chat"))
	}
	if msg.outcome.WasActive || msg.outcome.ID == a.viewingID {
		a.viewingID = ""
		a.messages = nil
		a.showWelcome = true
		a.renderTranscript()
	}
	a.rebuildSidebar()
	a.logInfo("Deleted chat %s", msg.outcome.ID)
	return a, a.showToast(toastInfo, "Chat deleted")
}

func (a *App) selectConversation(id string) (tea.Model, tea.Cmd) {
	sel, err := a.mgr.Presenter().Select(a.ctx, id)
	if err != nil {
		return a, a.showToast(toastError, "Couldn't open chat: "+err.Error())
	}
	a.viewingID = sel.ConversationID
	a.messages = append([]conversation.Message(nil), sel.Messages...)
	a.showWelcome = sel.ShowWelcome
	a.renderTranscript()
	a.rebuildSidebar()
	a.focusInput()
	return a, nil
}

func (a *App) newChat() (tea.Model, tea.Cmd) {
	sel, err := a.mgr.Presenter().NewChat(a.ctx)
	if err != nil {
		return a, a.showToast(toastError, "Couldn't start a new chat: "+err.Error())
	}
	a.viewingID = ""
	a.messages = nil
	a.showWelcome = sel.ShowWelcome
	a.renderTranscript()
	a.rebuildSidebar()
	a.focusInput()
	return a, nil
}

func (a *App) requestDelete(id string) (tea.Model, tea.Cmd) {
	conv, err := a.mgr.Presenter().RequestDelete(id)
	if err != nil {
		return a, a.showToast(toastError, "Couldn't delete chat: "+err.Error())
	}
	a.confirming = &deletePrompt{id: conv.ID, label: conv.Label()}
	return a, nil
}

// applySink moves pipeline side effects into the model.
func (a *App) applySink() []tea.Cmd {
	var cmds []tea.Cmd
	for _, ev := range a.sink.drain() {
		switch ev.kind {
		case sinkAppend:
			if ev.conversationID == a.viewingID {
				a.messages = append(a.messages, ev.message)
				a.showWelcome = false
			}
		case sinkTypingOn:
			a.typingID = ev.conversationID
		case sinkTypingOff:
			if a.typingID == ev.conversationID {
				a.typingID = ""
			}
		case sinkRefresh:
			cmds = append(cmds, a.refreshCmd())
		}
	}
	a.renderTranscript()
	return cmds
}

// syncTranscript shows whatever the active pointer names.
func (a *App) syncTranscript() {
	active, ok := a.mgr.State().Active()
	if !ok {
		a.viewingID = ""
		a.messages = nil
		a.showWelcome = true
		a.renderTranscript()
		return
	}
	conv, ok := a.mgr.State().Cache().Get(active)
	if !ok {
		return
	}
	a.viewingID = active
	a.messages = append([]conversation.Message(nil), conv.Messages...)
	a.showWelcome = len(conv.Messages) == 0
	a.renderTranscript()
}

func (a *App) rebuildSidebar() {
	entries := a.mgr.Presenter().Entries()
	items := make([]list.Item, 0, len(entries))
	selected := -1
	for i, entry := range entries {
		items = append(items, entryItem{entry: entry})
		if entry.ID == a.viewingID {
			selected = i
		}
	}
	prev := a.sidebar.Index()
	a.sidebar.SetItems(items)
	switch {
	case selected >= 0 && a.focus == focusInput:
		a.sidebar.Select(selected)
	case prev < len(items):
		a.sidebar.Select(prev)
	case len(items) > 0:
		a.sidebar.Select(len(items) - 1)
	}
}

func (a *App) showToast(kind toastKind, text string) tea.Cmd {
	a.toast = text
	a.toastKind = kind
	a.toastGen++
	gen := a.toastGen
	return tea.Tick(a.toastTTL, func(time.Time) tea.Msg {
		return toastExpiredMsg{gen: gen}
	})
}

func (a *App) completeCmd(pending pipeline.Pending) tea.Cmd {
	p := a.pipeline
	ctx := a.ctx
	return func() tea.Msg {
		return sendFinishedMsg{pending: pending, result: p.Complete(ctx, pending)}
	}
}

func (a *App) loadHistoryCmd(reason string) tea.Cmd {
	syncer := a.mgr.Synchronizer()
	user := a.mgr.User().Email
	ctx := a.ctx
	return func() tea.Msg {
		_, err := syncer.LoadHistory(ctx, user)
		return historyLoadedMsg{reason: reason, err: err}
	}
}

func (a *App) refreshCmd() tea.Cmd {
	syncer := a.mgr.Synchronizer()
	user := a.mgr.User().Email
	ctx := a.ctx
	delay := a.refreshDelay
	logger := a.logger
	return func() tea.Msg {
		err := syncer.RefreshAfter(ctx, user, delay)
		if errors.Is(err, history.ErrSuperseded) {
			logger.Debug("history refresh coalesced")
			return nil
		}
		return historyLoadedMsg{reason: "refresh", err: err}
	}
}

func (a *App) deleteCmd() tea.Cmd {
	pres := a.mgr.Presenter()
	ctx := a.ctx
	return func() tea.Msg {
		outcome, err := pres.ConfirmDelete(ctx)
		return deleteFinishedMsg{outcome: outcome, err: err}
	}
}

func (a *App) logoutCmd() tea.Cmd {
	mgr := a.mgr
	ctx := a.ctx
	return func() tea.Msg {
		return logoutFinishedMsg{err: mgr.Logout(ctx)}
	}
}

func (a *App) layout() {
	width := a.width
	if width <= 0 {
		width = 100
	}
	height := a.height
	if height <= 0 {
		height = 30
	}
	sidebarWidth := max(24, width/3)
	mainWidth := max(20, width-sidebarWidth-4)
	bodyHeight := max(6, height-logPanelLines-10)
	a.sidebar.SetSize(sidebarWidth-4, bodyHeight+5)
	a.input.SetWidth(mainWidth - 4)
	a.transcript.Width = mainWidth - 4
	a.transcript.Height = bodyHeight
	if a.markdown {
		if renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(max(20, mainWidth-8))); err == nil {
			a.renderer = renderer
		}
	}
	a.renderTranscript()
}

func (a *App) renderTranscript() {
	var b strings.Builder
	if a.showWelcome && len(a.messages) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render(welcomeText))
		b.WriteString("\n")
	}
	for _, msg := range a.messages {
		b.WriteString(a.renderMessage(msg))
		b.WriteString("\n")
	}
	a.transcript.SetContent(b.String())
	a.transcript.GotoBottom()
}

func (a *App) renderMessage(msg conversation.Message) string {
	label := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render("You")
	if msg.Sender != conversation.SenderUser {
		label = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).Render("Assistant")
	}
	stamp := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render(msg.Timestamp.Local().Format("15:04"))
	body := msg.Text
	if msg.Sender != conversation.SenderUser && a.renderer != nil {
		if rendered, err := a.renderer.Render(msg.Text); err == nil {
			body = strings.TrimSpace(rendered)
		}
	} else if a.transcript.Width > 0 {
		body = lipgloss.NewStyle().Width(a.transcript.Width).Render(body)
	}
	return fmt.Sprintf("%s %s\n%s\n", label, stamp, body)
}

func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	sidebarWidth := max(24, width/3)
	mainWidth := max(20, width-sidebarWidth-4)

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		Render("◆ CHATUP")
	user := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("  " + a.mgr.User().Email)

	border := func(focused bool) lipgloss.Style {
		color := lipgloss.Color("#444444")
		if focused {
			color = lipgloss.Color("#5B8DEF")
		}
		return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(color).Padding(0, 1)
	}

	left := border(a.focus == focusSidebar).Width(sidebarWidth - 2).Render(a.sidebar.View())
	typing := ""
	if a.typingID != "" && a.typingID == a.viewingID {
		typing = a.spinner.View() + " Assistant is typing..."
	}
	main := lipgloss.JoinVertical(lipgloss.Left,
		a.transcript.View(),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Render(typing),
		a.input.View(),
	)
	right := border(a.focus == focusInput).Width(mainWidth - 2).Render(main)
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	if a.confirming != nil {
		body = a.renderConfirm(width)
	}

	sections := []string{header + user, body}
	if toast := a.renderToast(); toast != "" {
		sections = append(sections, toast)
	}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	sections = append(sections, a.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) renderConfirm(width int) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).Render("Delete chat?")
	body := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).
		Render(fmt.Sprintf("%q will be removed from the server.\n\n[y] delete   [n] keep", a.confirming.label))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#FF6B6B")).
		Padding(1, 2).
		Render(title + "\n\n" + body)
	return lipgloss.PlaceHorizontal(width, lipgloss.Center, box)
}

func (a *App) renderToast() string {
	if a.toast == "" {
		return ""
	}
	color := lipgloss.Color("#5B8DEF")
	if a.toastKind == toastError {
		color = lipgloss.Color("#FF6B6B")
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(a.toast)
}

func (a *App) renderLogPanel() string {
	journal := a.mgr.Journal()
	if journal == nil {
		return ""
	}
	lines, total := journal.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(journal.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d)", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) renderFooter() string {
	hint := "enter send · tab history · ctrl+n new · ctrl+r reload · ctrl+l logout · ctrl+c quit"
	if a.focus == focusSidebar {
		hint = "enter open · n new · d delete · tab compose · ctrl+c quit"
	}
	if a.statusMsg != "" {
		hint = a.statusMsg + "  " + hint
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render(hint)
}
