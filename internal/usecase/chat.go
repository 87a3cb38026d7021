package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratsync-chat/internal/csvexport"
	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/jsonx"
	"stratsync-chat/internal/normalize"
	"stratsync-chat/internal/summary"
)

const (
	defaultMaxQueryLen = 2000
	jsonContentType    = "application/json"
	offerNotTabular    = "Offer generated but response was not tabular."
)

type QueryAPI interface {
	ProcessQuery(ctx context.Context, query string) (domain.RawResponse, error)
	GenerateSummary(ctx context.Context, query, data string) (domain.RawResponse, error)
	GenerateOffer(ctx context.Context, query, data string) (domain.RawResponse, error)
}

type ConversationStore interface {
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	GetMessage(ctx context.Context, conversationID, messageID string) (domain.Message, bool, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	PatchMessage(ctx context.Context, conversationID, messageID string, patch domain.MessagePatch) (bool, error)
	PutSummary(ctx context.Context, s domain.Summary) error
	GetSummary(ctx context.Context, conversationID string) (domain.Summary, bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type responseBodier interface {
	ResponseBody() string
}

// ChatService runs the conversation: sending queries and the follow-up
// actions on individual messages.
type ChatService struct {
	api         QueryAPI
	store       ConversationStore
	live        *summary.Live
	logger      *slog.Logger
	maxQueryLen int

	mu      sync.Mutex
	sending map[string]struct{}
	acting  map[string]struct{}
}

type SendInput struct {
	Query          string
	ConversationID string
}

type SendOutput struct {
	ConversationID string
	Question       domain.Message
	Reply          domain.Message
}

type SummaryOutput struct {
	MessageID string
	HTML      string
	// Location is where the printable summary can be opened, if anywhere.
	Location string
}

type OfferOutput struct {
	Offer  *domain.Message
	Notice string
}

type CSVOutput struct {
	FileName string
	Content  string
}

func NewChatService(api QueryAPI, store ConversationStore, sink summary.Sink, maxQueryLen int, logger *slog.Logger) (*ChatService, error) {
	if api == nil {
		return nil, errors.New("usecase: query api must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if maxQueryLen <= 0 {
		maxQueryLen = defaultMaxQueryLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		api:         api,
		store:       store,
		live:        summary.NewLive(sink),
		logger:      logger,
		maxQueryLen: maxQueryLen,
		sending:     make(map[string]struct{}),
		acting:      make(map[string]struct{}),
	}, nil
}

// SendMessage appends the user's query, sends it, and appends exactly one
// assistant reply. A failed request becomes an error reply rather than an
// error return.
func (s *ChatService) SendMessage(ctx context.Context, in SendInput) (SendOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_query", nil).
			withNotice("Please enter a question.")
	}
	if len(query) > s.maxQueryLen {
		return SendOutput{}, newError(ErrorInvalidInput, "query_too_long", nil).
			withNotice("Questions are limited to %d characters.", s.maxQueryLen)
	}
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	if !s.claim(s.sending, convID) {
		return SendOutput{}, newError(ErrorBusy, "response_pending", nil)
	}
	defer s.release(s.sending, convID)

	question, err := s.store.AppendMessage(ctx, domain.Message{
		ConversationID: convID,
		Sender:         domain.SenderUser,
		Content:        in.Query,
	})
	if err != nil {
		return SendOutput{}, newError(ErrorInternal, "store_write_error", err)
	}

	resp, err := s.api.ProcessQuery(ctx, query)
	if ctx.Err() != nil {
		return SendOutput{}, fmt.Errorf("usecase: SendMessage: %w", ctx.Err())
	}

	var reply domain.Message
	if err != nil {
		s.logger.Warn("query failed", "conversation_id", convID, "err", err)
		reply = errorReply(convID, query, err)
	} else {
		reply = assistantReply(convID, query, normalize.Normalize(resp.Body, resp.ContentType))
	}

	stored, err := s.store.AppendMessage(ctx, reply)
	if errors.Is(err, domain.ErrMessageTooLarge) && !reply.IsError {
		s.logger.Warn("reply too large to store", "conversation_id", convID, "table_rows", len(reply.Table), "err", err)
		stored, err = s.store.AppendMessage(ctx, errorReply(convID, query, err))
	}
	if err != nil {
		return SendOutput{}, newError(ErrorInternal, "store_write_error", err)
	}
	reply = stored
	s.logger.Info("query answered",
		"conversation_id", convID,
		"message_id", reply.ID,
		"is_error", reply.IsError,
		"table_rows", len(reply.Table),
	)
	return SendOutput{ConversationID: convID, Question: question, Reply: reply}, nil
}

func assistantReply(convID, query string, res normalize.Result) domain.Message {
	msg := domain.Message{
		ConversationID: convID,
		Sender:         domain.SenderAssistant,
		Context:        &domain.RequestContext{Query: query, Response: res.Value, Raw: res.Parsed},
	}
	switch res.Kind {
	case normalize.KindTabular:
		msg.Table = res.Rows
		msg.CanSummarize = true
		// The rows are kept once. The envelope only repeats them.
		msg.Context.Raw = nil
		if sameRows(res.Value, res.Rows) {
			msg.Context.Response = nil
		}
	case normalize.KindText:
		msg.Content = res.Text
		msg.CanSummarize = res.CanSummarize
	default:
		msg.Content = res.Raw
	}
	return msg
}

// sameRows reports whether v is exactly the values rows were built from.
func sameRows(v any, rows []*jsonx.Object) bool {
	switch v := v.(type) {
	case *jsonx.Object:
		return len(rows) == 1 && rows[0] == v
	case []any:
		if len(v) != len(rows) {
			return false
		}
		for i, item := range v {
			if obj, ok := item.(*jsonx.Object); !ok || obj != rows[i] {
				return false
			}
		}
		return true
	}
	return false
}

func errorReply(convID, query string, err error) domain.Message {
	return domain.Message{
		ConversationID: convID,
		Sender:         domain.SenderAssistant,
		Content:        "Error: " + failureReason(err),
		Context:        &domain.RequestContext{Query: query},
		IsError:        true,
	}
}

// failureReason describes a failed request in the form shown to the user:
// the status and body for rejected requests, otherwise the root cause of the
// transport failure.
func failureReason(err error) string {
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		reason := fmt.Sprintf("HTTP %d", statusErr.HTTPStatusCode())
		var bodier responseBodier
		if errors.As(err, &bodier) && strings.TrimSpace(bodier.ResponseBody()) != "" {
			reason += ": " + strings.TrimSpace(bodier.ResponseBody())
		}
		return reason
	}
	if reason := strings.TrimSpace(rootCause(err).Error()); reason != "" {
		return reason
	}
	return "Please try again."
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// AppendMessage assigns the next id of the conversation to msg and appends it.
func (s *ChatService) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) (domain.Message, error) {
	msg.ConversationID = conversationID
	out, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, newError(ErrorInternal, "store_write_error", err)
	}
	return out, nil
}

// PatchMessage merges patch into a message. Unknown ids are ignored.
func (s *ChatService) PatchMessage(ctx context.Context, conversationID, messageID string, patch domain.MessagePatch) error {
	if _, err := s.store.PatchMessage(ctx, conversationID, messageID, patch); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}

// Messages returns the conversation log in order.
func (s *ChatService) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorInternal, "store_read_error", err)
	}
	return msgs, nil
}

// Summarize asks the service for an HTML report of a message and makes it
// the conversation's current summary.
func (s *ChatService) Summarize(ctx context.Context, conversationID, messageID string) (SummaryOutput, error) {
	msg, err := s.actionTarget(ctx, conversationID, messageID)
	if err != nil {
		return SummaryOutput{}, err
	}
	if msg.IsError || !msg.CanSummarize {
		return SummaryOutput{}, newError(ErrorInvalidInput, "not_summarizable", nil).
			withNotice("This response cannot be summarized.")
	}

	key := actionKey(conversationID, messageID)
	if !s.claim(s.acting, key) {
		return SummaryOutput{}, newError(ErrorBusy, "action_pending", nil)
	}
	defer s.release(s.acting, key)

	payload := summary.SelectPayload(msg)
	resp, err := s.api.GenerateSummary(ctx, payload.Query, payload.Data)
	if ctx.Err() != nil {
		return SummaryOutput{}, fmt.Errorf("usecase: Summarize: %w", ctx.Err())
	}
	if err != nil {
		return SummaryOutput{}, upstreamError("summary", err).
			withNotice("Failed to generate summary: %s", failureReason(err))
	}
	html := summary.Render(resp.Body)

	res, err := s.live.Acquire(conversationID, html)
	if err != nil {
		return SummaryOutput{}, newError(ErrorInternal, "summary_resource_error", err).
			withNotice("Failed to prepare the summary for printing.")
	}
	// The new resource goes live only after both writes succeed.
	summarized := true
	if _, err := s.store.PatchMessage(ctx, conversationID, messageID, domain.MessagePatch{WasSummarized: &summarized}); err != nil {
		s.discard(res)
		return SummaryOutput{}, newError(ErrorInternal, "store_write_error", err)
	}
	if err := s.store.PutSummary(ctx, domain.Summary{
		ConversationID: conversationID,
		MessageID:      messageID,
		HTML:           html,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		s.discard(res)
		previous := msg.WasSummarized
		if _, rerr := s.store.PatchMessage(ctx, conversationID, messageID, domain.MessagePatch{WasSummarized: &previous}); rerr != nil {
			s.logger.Error("failed to restore summarized flag", "conversation_id", conversationID, "message_id", messageID, "err", rerr)
		}
		return SummaryOutput{}, newError(ErrorInternal, "store_write_error", err)
	}
	s.live.Install(conversationID, res)

	s.logger.Info("summary generated", "conversation_id", conversationID, "message_id", messageID)
	return SummaryOutput{MessageID: messageID, HTML: html, Location: res.Location()}, nil
}

// PrintSummary returns the current summary so it can be printed or saved as
// a PDF.
func (s *ChatService) PrintSummary(ctx context.Context, conversationID string) (SummaryOutput, error) {
	sum, found, err := s.store.GetSummary(ctx, conversationID)
	if err != nil {
		return SummaryOutput{}, newError(ErrorInternal, "store_read_error", err)
	}
	if !found || strings.TrimSpace(sum.HTML) == "" {
		return SummaryOutput{}, newError(ErrorNotFound, "no_summary", nil).
			withNotice("No HTML summary available to print/save as PDF.")
	}
	out := SummaryOutput{MessageID: sum.MessageID, HTML: sum.HTML}
	if res, ok := s.live.Get(conversationID); ok {
		out.Location = res.Location()
	}
	return out, nil
}

// GenerateOffer asks the service for an offer on the fixed product catalog.
// A tabular offer is appended as a new assistant message.
func (s *ChatService) GenerateOffer(ctx context.Context, conversationID, messageID string) (OfferOutput, error) {
	msg, err := s.actionTarget(ctx, conversationID, messageID)
	if err != nil {
		return OfferOutput{}, err
	}
	if msg.IsError {
		return OfferOutput{}, newError(ErrorInvalidInput, "error_message", nil).
			withNotice("Offers cannot be generated for an error response.")
	}

	key := actionKey(conversationID, messageID)
	if !s.claim(s.acting, key) {
		return OfferOutput{}, newError(ErrorBusy, "action_pending", nil)
	}
	defer s.release(s.acting, key)

	resp, err := s.api.GenerateOffer(ctx, summary.Query(msg), catalogJSON())
	if ctx.Err() != nil {
		return OfferOutput{}, fmt.Errorf("usecase: GenerateOffer: %w", ctx.Err())
	}
	if err != nil {
		return OfferOutput{}, upstreamError("offer", err).
			withNotice("Failed to generate offer: %s", failureReason(err))
	}

	res := normalize.NormalizeOffer(resp.Body, jsonContentType)
	var parsed any = res.Parsed
	if parsed == nil {
		parsed = string(resp.Body)
	}
	if _, err := s.store.PatchMessage(ctx, conversationID, messageID, domain.MessagePatch{OfferResponse: parsed}); err != nil {
		return OfferOutput{}, newError(ErrorInternal, "store_write_error", err)
	}

	if res.Kind != normalize.KindTabular {
		s.logger.Info("offer not tabular", "conversation_id", conversationID, "message_id", messageID)
		return OfferOutput{Notice: offerNotTabular}, nil
	}

	offerCtx := msg.Context.Clone()
	offerCtx.OfferResponse = parsed
	offer, err := s.store.AppendMessage(ctx, domain.Message{
		ConversationID: conversationID,
		Sender:         domain.SenderAssistant,
		Table:          res.Rows,
		Context:        offerCtx,
		CanSummarize:   len(res.Rows) > 0,
		GeneratedOffer: true,
	})
	if err != nil {
		return OfferOutput{}, newError(ErrorInternal, "store_write_error", err)
	}
	s.logger.Info("offer generated",
		"conversation_id", conversationID,
		"message_id", messageID,
		"offer_message_id", offer.ID,
	)
	return OfferOutput{Offer: &offer}, nil
}

// ExportCSV renders a message's table as CSV. It never changes state.
func (s *ChatService) ExportCSV(ctx context.Context, conversationID, messageID string) (CSVOutput, error) {
	msg, err := s.actionTarget(ctx, conversationID, messageID)
	if err != nil {
		return CSVOutput{}, err
	}
	content, err := csvexport.ToCSV(csvexport.MessageRows(msg))
	if errors.Is(err, csvexport.ErrNoRows) {
		return CSVOutput{}, newError(ErrorInvalidInput, "no_table_data", err).
			withNotice("No table data available to download as CSV.")
	}
	if err != nil {
		return CSVOutput{}, newError(ErrorInternal, "csv_error", err).
			withNotice("Failed to download CSV.")
	}
	return CSVOutput{FileName: csvexport.FileName(messageID), Content: content}, nil
}

// Close releases every live summary resource.
func (s *ChatService) Close() error {
	return s.live.Close()
}

func (s *ChatService) discard(res summary.Resource) {
	if err := res.Release(); err != nil {
		s.logger.Warn("failed to release summary resource", "location", res.Location(), "err", err)
	}
}

func (s *ChatService) actionTarget(ctx context.Context, conversationID, messageID string) (domain.Message, error) {
	msg, found, err := s.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return domain.Message{}, newError(ErrorInternal, "store_read_error", err)
	}
	if !found {
		return domain.Message{}, newError(ErrorNotFound, "message_not_found", nil)
	}
	return msg, nil
}

func (s *ChatService) claim(pending map[string]struct{}, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := pending[key]; busy {
		return false
	}
	pending[key] = struct{}{}
	return true
}

func (s *ChatService) release(pending map[string]struct{}, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(pending, key)
}

func actionKey(conversationID, messageID string) string {
	return conversationID + "/" + messageID
}

func upstreamError(action string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, action+"_rate_limited", err)
	}
	return newError(ErrorUpstream, action+"_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
