package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"stratsync-chat/internal/artifact"
	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/usecase"
)

const (
	actionSummarize = "summarizing"
	actionOffer     = "generating offer"
	actionCSV       = "csv"
	actionPrint     = "print"
)

var errNoPrintable = errors.New("tui: summary has no printable file")

// result carries the conversation log as it stood after an operation.
type result struct {
	messages []domain.Message
	err      error
}

type sentMsg struct {
	result
	convID string
}

type actionDoneMsg struct {
	result
	action    string
	messageID string
	html      string
	notice    string
	path      string
}

// reload fetches the log. A reload failure does not mask the operation's
// own error.
func reload(ctx context.Context, svc ChatService, convID string, err error) result {
	if convID == "" {
		return result{err: err}
	}
	msgs, lerr := svc.Messages(ctx, convID)
	if err == nil {
		err = lerr
	}
	return result{messages: msgs, err: err}
}

func sendCmd(ctx context.Context, svc ChatService, convID, query string) tea.Cmd {
	return func() tea.Msg {
		out, err := svc.SendMessage(ctx, usecase.SendInput{Query: query, ConversationID: convID})
		if out.ConversationID != "" {
			convID = out.ConversationID
		}
		return sentMsg{result: reload(ctx, svc, convID, err), convID: convID}
	}
}

func summarizeCmd(ctx context.Context, svc ChatService, convID, messageID string) tea.Cmd {
	return func() tea.Msg {
		out, err := svc.Summarize(ctx, convID, messageID)
		return actionDoneMsg{
			result:    reload(ctx, svc, convID, err),
			action:    actionSummarize,
			messageID: messageID,
			html:      out.HTML,
		}
	}
}

func offerCmd(ctx context.Context, svc ChatService, convID, messageID string) tea.Cmd {
	return func() tea.Msg {
		out, err := svc.GenerateOffer(ctx, convID, messageID)
		return actionDoneMsg{
			result:    reload(ctx, svc, convID, err),
			action:    actionOffer,
			messageID: messageID,
			notice:    out.Notice,
		}
	}
}

func exportCmd(ctx context.Context, svc ChatService, convID, messageID, dir string) tea.Cmd {
	return func() tea.Msg {
		done := actionDoneMsg{action: actionCSV, messageID: messageID}
		out, err := svc.ExportCSV(ctx, convID, messageID)
		if err == nil {
			done.path, err = artifact.WriteCSV(dir, out.FileName, out.Content)
			if err != nil {
				err = csvWriteError{err}
			}
		}
		done.result = result{err: err}
		return done
	}
}

func printCmd(ctx context.Context, svc ChatService, opener artifact.Opener, convID string) tea.Cmd {
	return func() tea.Msg {
		done := actionDoneMsg{action: actionPrint}
		out, err := svc.PrintSummary(ctx, convID)
		switch {
		case err != nil:
		case out.Location == "" || opener == nil:
			err = errNoPrintable
		default:
			err = opener.Open(out.Location)
		}
		done.result = result{err: err}
		return done
	}
}

// csvWriteError is a failure to save an export that the service produced.
type csvWriteError struct{ err error }

func (e csvWriteError) Error() string { return e.err.Error() }
func (e csvWriteError) Unwrap() error { return e.err }
