// ABOUTME: Data-completion rules applied to checkpoint payloads and metadata before storage
// ABOUTME: Stamps missing turn timestamps and the once-per-conversation start marker
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

const (
	// MessagesKey holds the list of conversation turns inside a payload.
	MessagesKey = "messages"
	// TimestampKey is the per-turn timestamp field.
	TimestampKey = "timestamp"
	// ConversationStartedKey marks when the thread's conversation began.
	ConversationStartedKey = "conversation_started_at"
)

// ErrInvalidMetadata is returned when metadata is not a JSON object.
var ErrInvalidMetadata = errors.New("metadata must be a JSON object")

// FormatTimestamp renders t the way stamped fields are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CompletePayload stamps every turn in payload's "messages" list that lacks a timestamp.
// Payloads that are not JSON objects, or carry no such list, are returned unchanged.
func CompletePayload(payload []byte, now time.Time) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil || doc == nil {
		return payload, nil
	}
	raw, ok := doc[MessagesKey]
	if !ok {
		return payload, nil
	}
	var turns []json.RawMessage
	if err := json.Unmarshal(raw, &turns); err != nil {
		return payload, nil
	}

	stamp, err := json.Marshal(FormatTimestamp(now))
	if err != nil {
		return nil, err
	}

	changed := false
	for i, turnRaw := range turns {
		var turn map[string]json.RawMessage
		if err := json.Unmarshal(turnRaw, &turn); err != nil || turn == nil {
			continue
		}
		if hasValue(turn[TimestampKey]) {
			continue
		}
		turn[TimestampKey] = stamp
		updated, err := json.Marshal(turn)
		if err != nil {
			return nil, err
		}
		turns[i] = updated
		changed = true
	}
	if !changed {
		return payload, nil
	}

	messages, err := json.Marshal(turns)
	if err != nil {
		return nil, err
	}
	doc[MessagesKey] = messages
	return json.Marshal(doc)
}

// StampConversationStart ensures metadata carries a conversation start marker.
// An existing marker is kept; otherwise the marker from prior (the thread's previous
// metadata) is carried forward, and only a brand-new conversation is stamped with now.
func StampConversationStart(metadata, prior []byte, now time.Time) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(metadata)) > 0 {
		if err := json.Unmarshal(metadata, &doc); err != nil || doc == nil {
			return nil, ErrInvalidMetadata
		}
	}
	if hasValue(doc[ConversationStartedKey]) {
		return metadata, nil
	}

	if started := ConversationStartedAt(prior); started != nil {
		doc[ConversationStartedKey] = started
	} else {
		stamp, err := json.Marshal(FormatTimestamp(now))
		if err != nil {
			return nil, err
		}
		doc[ConversationStartedKey] = stamp
	}
	return json.Marshal(doc)
}

// ConversationStartedAt returns the raw marker value from metadata, or nil.
func ConversationStartedAt(metadata []byte) json.RawMessage {
	if len(metadata) == 0 {
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(metadata, &doc); err != nil {
		return nil
	}
	if v := doc[ConversationStartedKey]; hasValue(v) {
		return v
	}
	return nil
}

func hasValue(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) > 0 && !bytes.Equal(v, []byte("null")) && !bytes.Equal(v, []byte(`""`))
}
