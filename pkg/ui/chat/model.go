package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"botserver/pkg/bus"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const (
	roleUser    = "user"
	roleBot     = "bot"
	roleSuggest = "suggest"
	roleError   = "error"
)

// RuntimeInfo is shown in the console header.
type RuntimeInfo struct {
	Bot     string
	Dialogs []string
	Cache   string
}

type chatMessage struct {
	role    string
	content string
}

type replyMsg struct {
	reply bus.OutboundMessage
	err   error
}

type bootTickMsg struct{}

type model struct {
	ctx          context.Context
	sendFn       SendFunc
	mode         mode
	oneShotInput string

	theme       theme
	spinner     spinner.Model
	input       textinput.Model
	viewport    viewport.Model
	messages    []chatMessage
	suggestions []bus.Suggestion
	width       int
	height      int
	isReady     bool
	isLoading   bool
	lastErr     string
	booting     bool
	bootStep    int
	followLog   bool
	runtime     RuntimeInfo
	replies     int
}

func newModel(ctx context.Context, sendFn SendFunc, runMode mode, text string, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say something to the bot..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:          ctx,
		sendFn:       sendFn,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(text),
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     vp,
		width:        100,
		height:       28,
		booting:      runMode == modeInteractive,
		followLog:    true,
		runtime:      info,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot && m.oneShotInput != "" {
		return m.send(m.oneShotInput)
	}

	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.mode == modeInteractive && !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting || m.mode == modeOneShot {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if m.isLoading {
			return m, nil
		}

		if value, ok := m.suggestionShortcut(typed); ok {
			return m, m.send(value)
		}

		if typed.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if isExitCommand(text) {
				return m, tea.Quit
			}

			m.input.SetValue("")
			return m, m.send(text)
		}
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case replyMsg:
		m.applyReply(typed)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
	}

	return m, cmd
}

// send records the user's line and starts the request.
func (m *model) send(text string) tea.Cmd {
	m.lastErr = ""
	m.suggestions = nil
	m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)
	return tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.sendFn, text))
}

func (m *model) applyReply(msg replyMsg) {
	m.isLoading = false
	if msg.err != nil {
		m.lastErr = msg.err.Error()
		m.messages = append(m.messages, chatMessage{role: roleError, content: msg.err.Error()})
		m.refreshViewport(false)
		return
	}

	m.lastErr = ""
	m.replies++
	texts := msg.reply.Messages
	if len(texts) == 0 && strings.TrimSpace(msg.reply.Content) != "" {
		texts = []string{msg.reply.Content}
	}
	for _, text := range texts {
		m.messages = append(m.messages, chatMessage{role: roleBot, content: text})
	}

	m.suggestions = msg.reply.Suggestions
	if len(m.suggestions) > 0 {
		m.messages = append(m.messages, chatMessage{role: roleSuggest, content: formatSuggestions(m.suggestions)})
	}
	m.refreshViewport(false)
}

// suggestionShortcut maps a digit typed into an empty input to the matching
// pending suggestion.
func (m *model) suggestionShortcut(msg tea.KeyMsg) (string, bool) {
	if len(m.suggestions) == 0 || m.input.Value() != "" {
		return "", false
	}

	key := msg.String()
	if len(key) != 1 || key[0] < '1' || key[0] > '9' {
		return "", false
	}

	index := int(key[0] - '1')
	if index >= len(m.suggestions) {
		return "", false
	}
	return m.suggestions[index].Value, true
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("📟 Bot Console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"bot:%s · dialogs:%s · cache:%s · turns:%d · replies:%d",
		displayOrNA(m.runtime.Bot),
		displayOrNA(strings.Join(m.runtime.Dialogs, ",")),
		displayOrNA(m.runtime.Cache),
		conversationTurns(m.messages),
		m.replies,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  1-9 pick option  ·  PgUp/PgDn scroll  ·  🛑 Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ waiting for the bot...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 last message failed - try again")
	}

	parts := []string{header, meta, line, m.theme.viewport.Width(m.width - 2).Render(m.viewport.View()), status}
	parts = append(parts,
		m.theme.inputLabel.Render("👤 You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) resizeComponents() {
	w := max(m.width-6, 50)
	h := m.height - 10
	if m.mode == modeOneShot {
		h = m.height - 6
	}
	h = max(h, 8)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.messages))
	for _, item := range m.messages {
		sections = append(sections, m.renderMessage(item, m.viewport.Width))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(m.viewport.TotalLineCount()-m.viewport.Height, 0)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderMessage(item chatMessage, width int) string {
	body := strings.TrimSpace(item.content)
	switch item.role {
	case roleUser:
		return m.renderCard(m.theme.userTitle.Render("▛▚ [ 👤 ] ▞▜"), m.theme.userBox.Width(width).Render(body))
	case roleBot:
		return m.renderCard(m.theme.botTitle.Render("▛▚ [ 🤖 ] ▞▜"), m.theme.botBox.Width(width).Render(body))
	case roleSuggest:
		return m.renderCard(m.theme.suggestTitle.Render("▛▚ [OPTIONS] ▞▜"), m.theme.suggestBox.Width(width).Render(body))
	default:
		return m.renderCard(m.theme.errorTitle.Render("▛▚ [ERROR] ▞▜"), m.theme.errorBox.Width(width).Render(body))
	}
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	parts := []string{m.renderCard(
		m.theme.userTitle.Render("▛▚ [SENT] ▞▜"),
		m.theme.userBox.Width(contentWidth).Render(m.oneShotInput),
	)}

	if m.isLoading {
		parts = append(parts, m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ waiting for the bot...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	for _, item := range m.messages {
		if item.role == roleUser {
			continue
		}
		parts = append(parts, m.renderMessage(item, contentWidth))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("📟 Bot Console")
	meta := m.theme.headerMeta.Render("loading " + displayOrNA(m.runtime.Bot))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := range count {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ bot ready, say hello"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

// handleViewportMouse scrolls on wheel events and reports whether it did.
func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] reading bot manifest",
		"[BOOT] compiling dialogs",
		"[BOOT] opening wait cache",
		"[BOOT] attaching local channel",
	}
}

func sendCmd(ctx context.Context, sendFn SendFunc, text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := sendFn(ctx, text)
		return replyMsg{reply: reply, err: err}
	}
}

func formatSuggestions(suggestions []bus.Suggestion) string {
	lines := make([]string, 0, len(suggestions))
	for i, suggestion := range suggestions {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, suggestion.Text))
	}
	return strings.Join(lines, "\n")
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == roleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
