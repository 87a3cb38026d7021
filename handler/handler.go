package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	SendMessage(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	Messages(ctx context.Context, conversationID string) ([]domain.Message, error)
	Summarize(ctx context.Context, conversationID, messageID string) (usecase.SummaryOutput, error)
	PrintSummary(ctx context.Context, conversationID string) (usecase.SummaryOutput, error)
	GenerateOffer(ctx context.Context, conversationID, messageID string) (usecase.OfferOutput, error)
	ExportCSV(ctx context.Context, conversationID, messageID string) (usecase.CSVOutput, error)
}

type Handler struct {
	uc ChatUseCase
}

type sendRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId,omitempty"`
}

type sendResponse struct {
	ConversationID string         `json:"conversationId"`
	Message        domain.Message `json:"message"`
	Reply          domain.Message `json:"reply"`
}

type messagesResponse struct {
	ConversationID string           `json:"conversationId"`
	Messages       []domain.Message `json:"messages"`
}

type summaryResponse struct {
	MessageID string `json:"messageId"`
	HTML      string `json:"html"`
}

type offerResponse struct {
	Offer  *domain.Message `json:"offer,omitempty"`
	Notice string          `json:"notice,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// route is a parsed request path. Segment values are empty when the path
// does not carry them.
type route struct {
	name           string
	conversationID string
	messageID      string
}

func NewHandler(uc ChatUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

// Handle dispatches an API Gateway proxy request to the chat use case.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	logger := slog.Default().With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	r, ok := matchRoute(req.HTTPMethod, req.Path)
	if !ok {
		return jsonResponse(http.StatusNotFound, corrID, errorResponse{
			Error:   string(usecase.ErrorNotFound),
			Reason:  "route_not_found",
			Message: "Not found.",
		}), nil
	}

	var (
		resp events.APIGatewayProxyResponse
		err  error
	)
	switch r.name {
	case "send":
		resp, err = h.send(ctx, corrID, req.Body)
	case "messages":
		var msgs []domain.Message
		msgs, err = h.uc.Messages(ctx, r.conversationID)
		if msgs == nil {
			msgs = []domain.Message{}
		}
		resp = jsonResponse(http.StatusOK, corrID, messagesResponse{ConversationID: r.conversationID, Messages: msgs})
	case "summarize":
		var out usecase.SummaryOutput
		out, err = h.uc.Summarize(ctx, r.conversationID, r.messageID)
		resp = jsonResponse(http.StatusOK, corrID, summaryResponse{MessageID: out.MessageID, HTML: out.HTML})
	case "print":
		var out usecase.SummaryOutput
		out, err = h.uc.PrintSummary(ctx, r.conversationID)
		resp = rawResponse(http.StatusOK, corrID, "text/html; charset=utf-8", out.HTML)
	case "offer":
		var out usecase.OfferOutput
		out, err = h.uc.GenerateOffer(ctx, r.conversationID, r.messageID)
		resp = jsonResponse(http.StatusOK, corrID, offerResponse{Offer: out.Offer, Notice: out.Notice})
	case "csv":
		var out usecase.CSVOutput
		out, err = h.uc.ExportCSV(ctx, r.conversationID, r.messageID)
		resp = rawResponse(http.StatusOK, corrID, "text/csv; charset=utf-8", out.Content)
		resp.Headers["Content-Disposition"] = fmt.Sprintf("attachment; filename=%q", out.FileName)
	}

	if err != nil {
		logger.Warn("request failed", "route", r.name, "err", err)
		return errorResponseFor(corrID, err), nil
	}
	logger.Info("request handled", "route", r.name, "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) send(ctx context.Context, corrID, body string) (events.APIGatewayProxyResponse, error) {
	var in sendRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Reason:  "invalid_body",
			Message: "Request body must be JSON.",
		}), nil
	}
	out, err := h.uc.SendMessage(ctx, usecase.SendInput{Query: in.Query, ConversationID: in.ConversationID})
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusOK, corrID, sendResponse{
		ConversationID: out.ConversationID,
		Message:        out.Question,
		Reply:          out.Reply,
	}), nil
}

// matchRoute maps method and path to a route:
//
//	POST /messages
//	GET  /conversations/{cid}/messages
//	GET  /conversations/{cid}/summary
//	POST /conversations/{cid}/messages/{mid}/summary
//	POST /conversations/{cid}/messages/{mid}/offer
//	GET  /conversations/{cid}/messages/{mid}/csv
func matchRoute(method, path string) (route, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, p := range parts {
		if p == "" {
			return route{}, false
		}
	}

	switch {
	case len(parts) == 1 && parts[0] == "messages" && method == http.MethodPost:
		return route{name: "send"}, true
	case len(parts) < 3 || parts[0] != "conversations":
		return route{}, false
	}

	cid := parts[1]
	switch {
	case len(parts) == 3 && parts[2] == "messages" && method == http.MethodGet:
		return route{name: "messages", conversationID: cid}, true
	case len(parts) == 3 && parts[2] == "summary" && method == http.MethodGet:
		return route{name: "print", conversationID: cid}, true
	case len(parts) == 5 && parts[2] == "messages":
		r := route{conversationID: cid, messageID: parts[3]}
		switch {
		case parts[4] == "summary" && method == http.MethodPost:
			r.name = "summarize"
		case parts[4] == "offer" && method == http.MethodPost:
			r.name = "offer"
		case parts[4] == "csv" && method == http.MethodGet:
			r.name = "csv"
		default:
			return route{}, false
		}
		return r, true
	}
	return route{}, false
}

func errorResponseFor(corrID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{
			Error:   string(usecase.ErrorInternal),
			Message: "Something went wrong. Please try again.",
		})
	}
	return jsonResponse(statusFor(ucErr.Code), corrID, errorResponse{
		Error:   string(ucErr.Code),
		Reason:  ucErr.Reason,
		Message: ucErr.Notice(),
	})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorBusy:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR","message":"Something went wrong. Please try again."}`)
	}
	return rawResponse(status, corrID, "application/json", string(b))
}

func rawResponse(status int, corrID, contentType, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    contentType,
			correlationHeader: corrID,
		},
		Body: body,
	}
}
