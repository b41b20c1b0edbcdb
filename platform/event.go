package platform

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Event is a raw platform payload as decoded from the wire. Numeric fields may
// arrive as JSON numbers or strings depending on the protocol implementation,
// so accessors normalize both.
type Event map[string]any

func (e Event) Str(key string) string {
	switch v := e[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func (e Event) Int(key string) int64 {
	switch v := e[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

func (e Event) PostType() string { return e.Str("post_type") }

func (e Event) IsGroupMessage() bool { return e.Str("message_type") == "group" }

// segments returns the message payload as a segment list. A plain string
// payload is wrapped into a single text segment.
func (e Event) segments() []map[string]any {
	switch msg := e["message"].(type) {
	case []any:
		var segs []map[string]any
		for _, s := range msg {
			if m, ok := s.(map[string]any); ok {
				segs = append(segs, m)
			}
		}
		return segs
	case string:
		return []map[string]any{{"type": "text", "data": map[string]any{"text": msg}}}
	default:
		return nil
	}
}

// PlainText concatenates the text segments of the message.
func (e Event) PlainText() string {
	var b strings.Builder
	for _, seg := range e.segments() {
		if segStr(seg, "type") != "text" {
			continue
		}
		if data, ok := seg["data"].(map[string]any); ok {
			if t, ok := data["text"].(string); ok {
				b.WriteString(t)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// ReplyID returns the quoted message ID when the message is a reply.
func (e Event) ReplyID() (int64, bool) {
	for _, seg := range e.segments() {
		if segStr(seg, "type") != "reply" {
			continue
		}
		if data, ok := seg["data"].(map[string]any); ok {
			id := Event(data).Int("id")
			if id != 0 {
				return id, true
			}
		}
	}
	return 0, false
}

// AtIDs collects mentioned user IDs, both from at segments and from plain
// "@12345" tokens, excluding self when requested.
func (e Event) AtIDs(selfID string) []string {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id == "" || id == selfID || seen[id] || !isDigits(id) {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, seg := range e.segments() {
		if segStr(seg, "type") != "at" {
			continue
		}
		if data, ok := seg["data"].(map[string]any); ok {
			add(Event(data).Str("qq"))
		}
	}
	for _, tok := range strings.Fields(e.PlainText()) {
		if strings.HasPrefix(tok, "@") {
			add(tok[1:])
		}
	}
	return ids
}

func segStr(seg map[string]any, key string) string {
	s, _ := seg[key].(string)
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
