package domain

import (
	"encoding/json"
	"fmt"

	"stratsync-chat/internal/jsonx"
)

// RequestContext is what an assistant message remembers about the request
// that produced it, so follow-up actions can be issued without asking the
// user again.
type RequestContext struct {
	Query string
	// Response is the resolved response value: rows, text, or a scalar.
	Response any
	// Raw is the parsed response envelope, when the body was JSON.
	Raw any
	// OfferResponse is attached by the offer action.
	OfferResponse any
}

// Clone returns a shallow copy; a nil receiver yields an empty context.
func (c *RequestContext) Clone() *RequestContext {
	if c == nil {
		return &RequestContext{}
	}
	out := *c
	return &out
}

type requestContextJSON struct {
	Query         string          `json:"query"`
	Response      json.RawMessage `json:"response,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	OfferResponse json.RawMessage `json:"offerResponse,omitempty"`
}

func (c RequestContext) MarshalJSON() ([]byte, error) {
	out := requestContextJSON{Query: c.Query}
	for _, f := range []struct {
		dst *json.RawMessage
		v   any
	}{
		{&out.Response, c.Response},
		{&out.Raw, c.Raw},
		{&out.OfferResponse, c.OfferResponse},
	} {
		if f.v == nil {
			continue
		}
		b, err := jsonx.Marshal(f.v)
		if err != nil {
			return nil, fmt.Errorf("domain: marshal request context: %w", err)
		}
		*f.dst = b
	}
	return json.Marshal(out)
}

func (c *RequestContext) UnmarshalJSON(data []byte) error {
	var in requestContextJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("domain: unmarshal request context: %w", err)
	}
	out := RequestContext{Query: in.Query}
	for _, f := range []struct {
		src json.RawMessage
		dst *any
	}{
		{in.Response, &out.Response},
		{in.Raw, &out.Raw},
		{in.OfferResponse, &out.OfferResponse},
	} {
		if len(f.src) == 0 {
			continue
		}
		v, err := jsonx.Decode(f.src)
		if err != nil {
			return fmt.Errorf("domain: unmarshal request context: %w", err)
		}
		*f.dst = v
	}
	*c = out
	return nil
}
