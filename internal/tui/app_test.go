package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/jsonx"
	"stratsync-chat/internal/usecase"
)

type fakeService struct {
	log     []domain.Message
	sendErr error
	summary usecase.SummaryOutput
	offer   usecase.OfferOutput
	csv     usecase.CSVOutput
	actErr  error

	sent      []usecase.SendInput
	summaries []string
}

func (f *fakeService) SendMessage(_ context.Context, in usecase.SendInput) (usecase.SendOutput, error) {
	f.sent = append(f.sent, in)
	if f.sendErr != nil {
		return usecase.SendOutput{}, f.sendErr
	}
	cid := in.ConversationID
	if cid == "" {
		cid = "conv-new"
	}
	q := domain.Message{ID: "1", ConversationID: cid, Sender: domain.SenderUser, Content: in.Query}
	r := domain.Message{ID: "2", ConversationID: cid, Sender: domain.SenderAssistant, Content: "Sales were up."}
	f.log = append(f.log, q, r)
	return usecase.SendOutput{ConversationID: cid, Question: q, Reply: r}, nil
}

func (f *fakeService) Messages(context.Context, string) ([]domain.Message, error) {
	return append([]domain.Message(nil), f.log...), nil
}

func (f *fakeService) Summarize(_ context.Context, _, mid string) (usecase.SummaryOutput, error) {
	f.summaries = append(f.summaries, mid)
	return f.summary, f.actErr
}

func (f *fakeService) PrintSummary(context.Context, string) (usecase.SummaryOutput, error) {
	return f.summary, f.actErr
}

func (f *fakeService) GenerateOffer(context.Context, string, string) (usecase.OfferOutput, error) {
	return f.offer, f.actErr
}

func (f *fakeService) ExportCSV(context.Context, string, string) (usecase.CSVOutput, error) {
	return f.csv, f.actErr
}

type fakeOpener struct {
	opened []string
}

func (o *fakeOpener) Open(path string) error {
	o.opened = append(o.opened, path)
	return nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	return m
}

func tableRow(brand string) *jsonx.Object {
	o := jsonx.NewObject()
	o.Set("brand", brand)
	return o
}

func seeded(svc *fakeService, opts Options) Model {
	m := NewModel(context.Background(), svc, opts)
	m.messages = svc.log
	return m
}

func TestSend_AppendsExchange(t *testing.T) {
	svc := &fakeService{}
	m := NewModel(context.Background(), svc, Options{})
	m.input.SetValue("How did sales do?")

	m, cmd := update(t, m, key("enter"))
	require.True(t, m.sending)
	require.Equal(t, "How did sales do?", m.pendingQuery)
	require.Empty(t, m.input.Value())

	m = run(t, m, cmd)
	require.False(t, m.sending)
	require.Empty(t, m.pendingQuery)
	require.Equal(t, "conv-new", m.ConversationID())
	require.Len(t, m.messages, 2)
	require.Equal(t, 1, m.cursor)
	require.Equal(t, []usecase.SendInput{{Query: "How did sales do?"}}, svc.sent)
	require.Contains(t, m.View(), "Sales were up.")
}

func TestSend_BlankInputIgnored(t *testing.T) {
	svc := &fakeService{}
	m := NewModel(context.Background(), svc, Options{})
	m.input.SetValue("   ")

	m, cmd := update(t, m, key("enter"))
	require.Nil(t, cmd)
	require.False(t, m.sending)
	require.Empty(t, svc.sent)
}

func TestSend_WhilePendingShowsNotice(t *testing.T) {
	svc := &fakeService{}
	m := NewModel(context.Background(), svc, Options{})
	m.sending = true
	m.input.SetValue("again")

	m, cmd := update(t, m, key("enter"))
	require.Nil(t, cmd)
	require.NotEmpty(t, m.notice)

	m, _ = update(t, m, key("x"))
	require.Empty(t, m.notice)
	require.Equal(t, "again", m.input.Value())
}

func TestSend_ErrorBecomesNotice(t *testing.T) {
	svc := &fakeService{sendErr: &usecase.Error{Code: usecase.ErrorBusy, Reason: "response_pending"}}
	m := NewModel(context.Background(), svc, Options{ConversationID: "c1"})
	m.input.SetValue("q")

	m, cmd := update(t, m, key("enter"))
	m = run(t, m, cmd)
	require.Equal(t, "Please wait for the current request to finish.", m.notice)
	require.Contains(t, m.View(), "press any key")
}

func TestSend_CancelledShowsNothing(t *testing.T) {
	svc := &fakeService{sendErr: context.Canceled}
	m := NewModel(context.Background(), svc, Options{ConversationID: "c1"})
	m.input.SetValue("q")

	m, cmd := update(t, m, key("enter"))
	m = run(t, m, cmd)
	require.Empty(t, m.notice)
}

func TestSelectMode_Navigation(t *testing.T) {
	svc := &fakeService{log: []domain.Message{
		{ID: "1", Sender: domain.SenderUser, Content: "q"},
		{ID: "2", Sender: domain.SenderAssistant, Content: "a"},
	}}
	m := seeded(svc, Options{ConversationID: "c1"})

	m, _ = update(t, m, key("tab"))
	require.Equal(t, modeSelect, m.mode)
	require.Equal(t, 1, m.cursor)

	m, _ = update(t, m, key("k"))
	require.Equal(t, 0, m.cursor)
	m, _ = update(t, m, key("up"))
	require.Equal(t, 0, m.cursor)
	m, _ = update(t, m, key("j"))
	require.Equal(t, 1, m.cursor)

	m, _ = update(t, m, key("esc"))
	require.Equal(t, modeInput, m.mode)
}

func TestSelectMode_TabIgnoredWithoutMessages(t *testing.T) {
	m := NewModel(context.Background(), &fakeService{}, Options{})
	m, _ = update(t, m, key("tab"))
	require.Equal(t, modeInput, m.mode)
}

func TestSummarize_ShowsPreview(t *testing.T) {
	svc := &fakeService{
		log: []domain.Message{
			{ID: "2", Sender: domain.SenderAssistant, Table: []*jsonx.Object{tableRow("A")}, CanSummarize: true},
		},
		summary: usecase.SummaryOutput{MessageID: "2", HTML: "<h1>Quarterly</h1><p>Sales rose.</p>"},
	}
	m := seeded(svc, Options{ConversationID: "c1"})
	m, _ = update(t, m, key("tab"))

	m, cmd := update(t, m, key("s"))
	require.Equal(t, actionSummarize, m.acting["2"])

	m = run(t, m, cmd)
	require.Empty(t, m.acting)
	require.Equal(t, []string{"2"}, svc.summaries)
	require.Equal(t, "2", m.summaryFor)
	require.Equal(t, "Quarterly Sales rose.", m.summaryPreview)
	require.Empty(t, m.notice)
}

func TestSummarize_RefusedLocally(t *testing.T) {
	cases := map[string]domain.Message{
		"error entry":  {ID: "2", Sender: domain.SenderAssistant, Content: "Error: x", IsError: true},
		"text entry":   {ID: "2", Sender: domain.SenderAssistant, Content: "plain"},
		"user message": {ID: "2", Sender: domain.SenderUser, Content: "q", CanSummarize: true},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &fakeService{log: []domain.Message{msg}}
			m := seeded(svc, Options{ConversationID: "c1"})
			m, _ = update(t, m, key("tab"))

			m, cmd := update(t, m, key("s"))
			require.Nil(t, cmd)
			require.Empty(t, m.acting)
			require.Empty(t, svc.summaries)
		})
	}
}

func TestSummarize_SecondRequestWhileRunning(t *testing.T) {
	svc := &fakeService{log: []domain.Message{
		{ID: "2", Sender: domain.SenderAssistant, Table: []*jsonx.Object{tableRow("A")}, CanSummarize: true},
	}}
	m := seeded(svc, Options{ConversationID: "c1"})
	m, _ = update(t, m, key("tab"))
	m, _ = update(t, m, key("s"))

	m, cmd := update(t, m, key("s"))
	require.Nil(t, cmd)
	require.Equal(t, "An action is already running for this message.", m.notice)
}

func TestOffer_NoticeWhenNotTabular(t *testing.T) {
	svc := &fakeService{
		log:   []domain.Message{{ID: "2", Sender: domain.SenderAssistant, Content: "a"}},
		offer: usecase.OfferOutput{Notice: "Offer generated but response was not tabular."},
	}
	m := seeded(svc, Options{ConversationID: "c1"})
	m, _ = update(t, m, key("tab"))

	m, cmd := update(t, m, key("o"))
	require.Equal(t, actionOffer, m.acting["2"])
	m = run(t, m, cmd)
	require.Equal(t, "Offer generated but response was not tabular.", m.notice)
	require.Empty(t, m.acting)
}

func TestExportCSV_WritesFile(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{
		log: []domain.Message{{ID: "2", Sender: domain.SenderAssistant, Table: []*jsonx.Object{tableRow("A")}}},
		csv: usecase.CSVOutput{FileName: "stratsync_table_2.csv", Content: "brand\r\n\"A\""},
	}
	m := seeded(svc, Options{ConversationID: "c1", ExportDir: dir})
	m, _ = update(t, m, key("tab"))

	m, cmd := update(t, m, key("c"))
	m = run(t, m, cmd)

	path := filepath.Join(dir, "stratsync_table_2.csv")
	require.Equal(t, "Saved "+path, m.status)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "brand\r\n\"A\"", string(got))
}

func TestExportCSV_WriteFailure(t *testing.T) {
	svc := &fakeService{
		log: []domain.Message{{ID: "2", Sender: domain.SenderAssistant, Table: []*jsonx.Object{tableRow("A")}}},
		csv: usecase.CSVOutput{FileName: "bad/name.csv", Content: "x"},
	}
	m := seeded(svc, Options{ConversationID: "c1", ExportDir: t.TempDir()})
	m, _ = update(t, m, key("tab"))

	m, cmd := update(t, m, key("c"))
	m = run(t, m, cmd)
	require.Equal(t, "Failed to download CSV.", m.notice)
}

func TestPrint_OpensLocation(t *testing.T) {
	opener := &fakeOpener{}
	svc := &fakeService{
		log:     []domain.Message{{ID: "2", Sender: domain.SenderAssistant, Content: "a"}},
		summary: usecase.SummaryOutput{MessageID: "2", HTML: "<p>x</p>", Location: "/tmp/summary.html"},
	}
	m := seeded(svc, Options{ConversationID: "c1", Opener: opener})
	m, _ = update(t, m, key("tab"))

	m, cmd := update(t, m, key("p"))
	m = run(t, m, cmd)
	require.Equal(t, []string{"/tmp/summary.html"}, opener.opened)
	require.Empty(t, m.notice)
}

func TestPrint_WithoutLocation(t *testing.T) {
	svc := &fakeService{
		log:     []domain.Message{{ID: "2", Sender: domain.SenderAssistant, Content: "a"}},
		summary: usecase.SummaryOutput{MessageID: "2", HTML: "<p>x</p>"},
	}
	m := seeded(svc, Options{ConversationID: "c1", Opener: &fakeOpener{}})
	m, _ = update(t, m, key("tab"))

	m, cmd := update(t, m, key("p"))
	m = run(t, m, cmd)
	require.Equal(t, "No HTML summary available to print/save as PDF.", m.notice)
}

func TestUnexpectedErrorNotice(t *testing.T) {
	svc := &fakeService{
		log:    []domain.Message{{ID: "2", Sender: domain.SenderAssistant, Content: "a"}},
		actErr: errors.New("disk on fire"),
	}
	m := seeded(svc, Options{ConversationID: "c1"})
	m, _ = update(t, m, key("tab"))

	m, cmd := update(t, m, key("o"))
	m = run(t, m, cmd)
	require.Equal(t, "Something went wrong: disk on fire", m.notice)
}

func TestCtrlCQuits(t *testing.T) {
	m := NewModel(context.Background(), &fakeService{}, Options{})
	m, cmd := update(t, m, key("ctrl+c"))
	require.NotNil(t, cmd)
	require.Equal(t, tea.QuitMsg{}, cmd())
	require.Empty(t, m.View())
}
