// Package summary prepares summarization requests and turns the service's
// reply into printable HTML.
package summary

import (
	"regexp"
	"strings"

	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/jsonx"
)

// Payload is the body sent to the summarization endpoint.
type Payload struct {
	Query string `json:"query"`
	Data  string `json:"data"`
}

// Query returns the question a message answers: the stored query, or the
// message text when no query was recorded.
func Query(msg domain.Message) string {
	if msg.Context != nil && msg.Context.Query != "" {
		return msg.Context.Query
	}
	return msg.Content
}

// SelectPayload picks what to summarize for msg. The first non-empty of the
// stored response, the table rows, the message text and the query wins.
func SelectPayload(msg domain.Message) Payload {
	query := Query(msg)

	var data any
	switch {
	case msg.Context != nil && !isBlank(msg.Context.Response):
		data = msg.Context.Response
	case msg.HasTable():
		data = msg.Table
	case strings.TrimSpace(msg.Content) != "":
		data = msg.Content
	default:
		data = query
	}
	return Payload{Query: query, Data: jsonx.String(data)}
}

func isBlank(v any) bool {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return jsonx.IsEmpty(v)
}

// ExtractHTML returns the HTML carried by a summarization response. The
// service may wrap it as {"data": "<html>"}; otherwise the body is the HTML.
func ExtractHTML(body []byte) string {
	raw := string(body)
	v, err := jsonx.Decode(body)
	if err != nil {
		return raw
	}
	obj, ok := v.(*jsonx.Object)
	if !ok {
		return raw
	}
	data, _ := obj.Get("data")
	if s, ok := data.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return raw
}

var (
	leadingFence  = regexp.MustCompile("(?i)^```(?:html)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```\\s*$")
)

// StripCodeFence removes one leading ``` or ```html marker and one trailing
// ``` marker.
func StripCodeFence(html string) string {
	html = leadingFence.ReplaceAllString(html, "")
	return trailingFence.ReplaceAllString(html, "")
}

// Render is ExtractHTML followed by StripCodeFence.
func Render(body []byte) string {
	return StripCodeFence(ExtractHTML(body))
}
