package normalize

import (
	"strings"

	"stratsync-chat/internal/jsonx"
)

// attempt tries one interpretation of a string as JSON.
type attempt func(s string) (any, bool)

// unwrapAttempts are tried in order; the first success wins.
var unwrapAttempts = []attempt{
	parseDirect,
	parseUnescaped,
	parseUnquoted,
}

var unescaper = strings.NewReplacer(
	`\"`, `"`,
	`\n`, "\n",
	`\t`, "\t",
	`\\`, `\`,
)

// Unwrap decodes a JSON document that was delivered as a string. When the
// decoded value is itself a string holding an array or object, that inner
// document is decoded as well.
func Unwrap(s string) (any, bool) {
	v, ok := unwrapOnce(s)
	if !ok {
		return nil, false
	}
	if inner, isString := v.(string); isString && looksLikeDocument(inner) {
		if iv, ok := unwrapOnce(inner); ok {
			return iv, true
		}
	}
	return v, true
}

func unwrapOnce(s string) (any, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	for _, try := range unwrapAttempts {
		if v, ok := try(s); ok {
			return v, true
		}
	}
	return nil, false
}

func parseDirect(s string) (any, bool) {
	v, err := jsonx.Decode([]byte(s))
	if err != nil {
		return nil, false
	}
	return v, true
}

func parseUnescaped(s string) (any, bool) {
	unescaped := unescaper.Replace(s)
	if unescaped == s {
		return nil, false
	}
	return parseDirect(unescaped)
}

func parseUnquoted(s string) (any, bool) {
	stripped := strings.TrimPrefix(s, `"`)
	stripped = strings.TrimSuffix(stripped, `"`)
	if stripped == s {
		return nil, false
	}
	if v, ok := parseDirect(stripped); ok {
		return v, true
	}
	return parseUnescaped(stripped)
}

func looksLikeDocument(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")
}
