package ledger

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"algotrader/internal/types"
)

// normalizeOpaque canonicalises an opaque JSON payload (figure, graph,
// technical analysis) to a single encoding layer before it is stored.
// Older drivers sent these fields double-encoded, a JSON string whose
// content is itself JSON, so each string layer that parses as JSON is
// unwrapped. Reads then return the stored text as-is, which keeps the
// decode-once contract at the persistence boundary instead of
// scattered across call sites.
func normalizeOpaque(raw json.RawMessage) (string, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return "", false
	}
	if !gjson.Valid(text) {
		return "", false
	}
	for {
		parsed := gjson.Parse(text)
		if parsed.Type != gjson.String {
			break
		}
		inner := strings.TrimSpace(parsed.String())
		if inner == "" || !gjson.Valid(inner) {
			break
		}
		next := gjson.Parse(inner)
		if next.Type != gjson.JSON && next.Type != gjson.String {
			break
		}
		text = inner
	}
	return text, true
}

// opaqueParam prepares an opaque payload for storage. Empty and JSON
// null payloads store as NULL; anything else must parse as JSON, so a
// driver sending a mangled payload fails loudly instead of losing it.
func opaqueParam(field string, raw json.RawMessage) (interface{}, error) {
	text, ok := normalizeOpaque(raw)
	if !ok {
		if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && trimmed != "null" {
			return nil, &types.ValidationError{Field: field, Reason: "must be valid JSON"}
		}
		return nil, nil
	}
	return text, nil
}

func opaqueFromColumn(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
