// Package tui is the terminal chat client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stratsync-chat/internal/artifact"
	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/usecase"
)

type mode int

const (
	modeInput mode = iota
	modeSelect
)

// ChatService is the part of the use case layer the client drives.
type ChatService interface {
	SendMessage(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	Messages(ctx context.Context, conversationID string) ([]domain.Message, error)
	Summarize(ctx context.Context, conversationID, messageID string) (usecase.SummaryOutput, error)
	PrintSummary(ctx context.Context, conversationID string) (usecase.SummaryOutput, error)
	GenerateOffer(ctx context.Context, conversationID, messageID string) (usecase.OfferOutput, error)
	ExportCSV(ctx context.Context, conversationID, messageID string) (usecase.CSVOutput, error)
}

type Model struct {
	ctx       context.Context
	svc       ChatService
	opener    artifact.Opener
	convID    string
	exportDir string

	messages []domain.Message
	// pendingQuery is shown until the service has recorded the user's text.
	pendingQuery string
	sending      bool
	// acting maps a message id to the action running on it.
	acting map[string]string

	summaryFor     string
	summaryPreview string

	cursor int
	mode   mode
	notice string
	status string

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int
	quitting bool
}

type Options struct {
	ConversationID string
	ExportDir      string
	Opener         artifact.Opener
}

// NewModel builds the client for one conversation. Work started by the
// client runs under ctx.
func NewModel(ctx context.Context, svc ChatService, opts Options) Model {
	in := textinput.New()
	in.Placeholder = "Ask about your data..."
	in.CharLimit = 2000
	in.Focus()

	m := Model{
		ctx:       ctx,
		svc:       svc,
		opener:    opts.Opener,
		convID:    opts.ConversationID,
		exportDir: opts.ExportDir,
		acting:    make(map[string]string),
		input:     in,
		viewport:  viewport.New(120, 26),
		width:     120,
		height:    30,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.refresh()
		return m, nil

	case sentMsg:
		m.sending = false
		m.pendingQuery = ""
		if msg.convID != "" {
			m.convID = msg.convID
		}
		m.applyResult(msg.result)
		if msg.err == nil {
			m.cursor = len(m.messages) - 1
		}
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil

	case actionDoneMsg:
		delete(m.acting, msg.messageID)
		m.applyResult(msg.result)
		if msg.err == nil {
			switch msg.action {
			case actionSummarize:
				m.summaryFor = msg.messageID
				m.summaryPreview = previewHTML(msg.html)
				m.status = "Summary ready. Press p to print or save as PDF."
			case actionOffer:
				if msg.notice != "" {
					m.notice = msg.notice
				} else {
					m.status = "Offer added."
				}
			case actionCSV:
				m.status = "Saved " + msg.path
			case actionPrint:
				m.status = "Opened summary for printing."
			}
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		if m.notice != "" {
			m.notice = ""
			return m, nil
		}
		switch m.mode {
		case modeSelect:
			return m.updateSelect(msg)
		default:
			return m.updateInput(msg)
		}
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		query := m.input.Value()
		if strings.TrimSpace(query) == "" {
			return m, nil
		}
		if m.sending {
			m.notice = "Please wait for the current response."
			return m, nil
		}
		m.input.SetValue("")
		m.sending = true
		m.pendingQuery = query
		m.status = ""
		m.refresh()
		m.viewport.GotoBottom()
		return m, sendCmd(m.ctx, m.svc, m.convID, query)

	case "tab":
		if len(m.messages) == 0 {
			return m, nil
		}
		m.input.Blur()
		m.mode = modeSelect
		if m.cursor >= len(m.messages) || m.cursor < 0 {
			m.cursor = len(m.messages) - 1
		}
		m.refresh()
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateSelect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "esc":
		m.mode = modeInput
		m.refresh()
		return m, m.input.Focus()

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.refresh()
		return m, nil

	case "down", "j":
		if m.cursor < len(m.messages)-1 {
			m.cursor++
		}
		m.refresh()
		return m, nil

	case "p":
		return m, printCmd(m.ctx, m.svc, m.opener, m.convID)
	}

	target, ok := m.selected()
	if !ok {
		return m, nil
	}

	var action string
	switch msg.String() {
	case "s":
		action = actionSummarize
	case "o":
		action = actionOffer
	case "c":
		return m, exportCmd(m.ctx, m.svc, m.convID, target.ID, m.exportDir)
	default:
		return m, nil
	}

	switch {
	case target.Sender != domain.SenderAssistant:
		return m, nil
	case m.acting[target.ID] != "":
		m.notice = "An action is already running for this message."
		return m, nil
	case action == actionSummarize && (target.IsError || !target.CanSummarize):
		m.notice = "This response cannot be summarized."
		return m, nil
	case action == actionOffer && target.IsError:
		m.notice = "Offers cannot be generated for an error response."
		return m, nil
	}

	m.acting[target.ID] = action
	m.refresh()
	if action == actionSummarize {
		return m, summarizeCmd(m.ctx, m.svc, m.convID, target.ID)
	}
	return m, offerCmd(m.ctx, m.svc, m.convID, target.ID)
}

func (m Model) selected() (domain.Message, bool) {
	if m.cursor < 0 || m.cursor >= len(m.messages) {
		return domain.Message{}, false
	}
	return m.messages[m.cursor], true
}

// applyResult installs a refreshed log and turns a failure into a notice.
// A cancelled context means the client is shutting down; nothing is shown.
func (m *Model) applyResult(r result) {
	if r.messages != nil {
		m.messages = r.messages
	}
	if r.err == nil || errors.Is(r.err, context.Canceled) {
		return
	}
	var (
		ucErr    *usecase.Error
		writeErr csvWriteError
	)
	switch {
	case errors.As(r.err, &ucErr):
		m.notice = ucErr.Notice()
		return
	case errors.As(r.err, &writeErr):
		m.notice = "Failed to download CSV."
		return
	case errors.Is(r.err, errNoPrintable):
		m.notice = "No HTML summary available to print/save as PDF."
		return
	}
	m.notice = fmt.Sprintf("Something went wrong: %v", r.err)
}

// refresh re-renders the conversation into the viewport.
func (m *Model) refresh() {
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-4, 3)

	var b strings.Builder
	if len(m.messages) == 0 && m.pendingQuery == "" {
		b.WriteString(dimStyle.Render("  Ask a question to get started.") + "\n")
	}
	for i, msg := range m.messages {
		marked := m.mode == modeSelect && i == m.cursor
		b.WriteString(renderMessage(msg, marked, m.acting[msg.ID], m.width))
		if msg.ID == m.summaryFor && m.summaryPreview != "" {
			box := summaryBoxStyle.Width(max(m.width-6, 20)).Render("Summary\n" + m.summaryPreview)
			b.WriteString(lipgloss.NewStyle().MarginLeft(2).Render(box) + "\n")
		}
		b.WriteString("\n")
	}
	if m.pendingQuery != "" {
		b.WriteString(renderMessage(domain.Message{Sender: domain.SenderUser, Content: m.pendingQuery}, false, "", m.width))
		b.WriteString("\n" + dimStyle.Render("  Thinking...") + "\n")
	}
	m.viewport.SetContent(b.String())
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("StratSync Chat") + dimStyle.Render("  "+m.convID) + "\n")

	if m.notice != "" {
		box := noticeStyle.Render(m.notice + "\n\n" + helpStyle.Render("press any key"))
		b.WriteString(lipgloss.Place(m.width, max(m.height-3, 5), lipgloss.Center, lipgloss.Center, box))
		b.WriteString("\n")
	} else {
		b.WriteString(m.viewport.View() + "\n")
	}

	if m.status != "" {
		b.WriteString(statusBarStyle.Render(m.status) + "\n")
	} else {
		b.WriteString("\n")
	}

	switch m.mode {
	case modeSelect:
		b.WriteString(helpStyle.Render("  ↑/↓: select  s: summarize  o: offer  c: csv  p: print  Tab: back"))
	default:
		b.WriteString(m.input.View())
	}
	return b.String()
}

// ConversationID is the id of the conversation shown, once one exists.
func (m Model) ConversationID() string {
	return m.convID
}
