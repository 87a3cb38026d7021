// Package normalize classifies query-service response bodies as tables,
// text, or unrecognized payloads.
//
// The service is loose about its envelope: tables usually arrive as
// {"msg":"Success","data":"[...]"} where data is a JSON document encoded as a
// string, sometimes escaped twice. Normalize peels those layers off without
// failing; a layer that does not parse falls back to the raw text beneath it.
package normalize

import (
	"mime"
	"regexp"
	"strings"

	"stratsync-chat/internal/jsonx"
)

type Kind string

const (
	KindTabular      Kind = "tabular"
	KindText         Kind = "text"
	KindUnrecognized Kind = "unrecognized"
)

// Result is the classification of one response body.
type Result struct {
	Kind         Kind
	Rows         []*jsonx.Object // set for KindTabular
	Text         string          // set for KindText
	CanSummarize bool
	// Raw is the body as received.
	Raw string
	// Parsed is the top-level JSON value, nil when the body was not parsed.
	Parsed any
	// Value is the value the classification was made on.
	Value any
}

// Normalize classifies body. It performs no I/O.
func Normalize(body []byte, contentType string) Result {
	return normalize(body, contentType, true)
}

// NormalizeOffer classifies an offer response. Offers carry no reply
// envelope, so an object without data is a single row even when it has a
// reply field.
func NormalizeOffer(body []byte, contentType string) Result {
	return normalize(body, contentType, false)
}

func normalize(body []byte, contentType string, replies bool) Result {
	raw := string(body)
	if !isJSONContentType(contentType) {
		return textResult(raw, raw, nil)
	}
	parsed, err := jsonx.Decode(body)
	if err != nil {
		return textResult(raw, raw, nil)
	}
	res := classify(resolve(parsed, replies), raw)
	res.Parsed = parsed
	return res
}

// resolve picks the value that carries the payload: the decoded data field
// of an envelope, the reply text when replies is set, or the document itself.
func resolve(parsed any, replies bool) any {
	obj, ok := parsed.(*jsonx.Object)
	if !ok {
		return parsed
	}
	if data, ok := obj.Get("data"); ok && data != nil {
		s, isString := data.(string)
		if !isString {
			return data
		}
		if v, ok := Unwrap(s); ok {
			return v
		}
		row := jsonx.NewObject()
		row.Set("data", s)
		return []any{row}
	}
	if !replies {
		return obj
	}
	if reply, ok := obj.Get("reply"); ok {
		if s, isString := reply.(string); isString {
			return s
		}
	}
	return obj
}

func classify(v any, raw string) Result {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return Result{Kind: KindUnrecognized, Raw: raw, Value: v}
		}
		return Result{Kind: KindTabular, Rows: Rows(t), CanSummarize: true, Raw: raw, Value: v}
	case *jsonx.Object:
		return Result{Kind: KindTabular, Rows: []*jsonx.Object{t}, CanSummarize: true, Raw: raw, Value: v}
	case nil:
		return Result{Kind: KindUnrecognized, Raw: raw}
	case string:
		return textResult(t, raw, v)
	default:
		return textResult(jsonx.String(t), raw, v)
	}
}

func textResult(text, raw string, v any) Result {
	if v == nil {
		v = text
	}
	return Result{
		Kind:         KindText,
		Text:         text,
		CanSummarize: CanSummarize(text),
		Raw:          raw,
		Value:        v,
	}
}

// Rows converts a decoded array to table rows. Elements that are not
// objects are wrapped as {"value": element}.
func Rows(items []any) []*jsonx.Object {
	rows := make([]*jsonx.Object, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(*jsonx.Object); ok {
			rows = append(rows, obj)
			continue
		}
		row := jsonx.NewObject()
		row.Set("value", item)
		rows = append(rows, row)
	}
	return rows
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// CanSummarize reports whether text is worth summarizing. Empty replies and
// the service's "Sorry, I couldn't find matching data" phrasing are not.
func CanSummarize(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	normalized := tagPattern.ReplaceAllString(text, "")
	normalized = strings.ReplaceAll(normalized, "\u2019", "'")
	normalized = strings.ToLower(normalized)
	return !(strings.Contains(normalized, "sorry") &&
		strings.Contains(normalized, "couldn") &&
		strings.Contains(normalized, "matching data"))
}

func isJSONContentType(contentType string) bool {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(contentType)
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") ||
		strings.Contains(mediaType, "application/json")
}
