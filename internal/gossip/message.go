package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gossipstore/internal/reconcile"
)

// ErrEmptyMessage is returned when a nil message is handed to Receive.
var ErrEmptyMessage = errors.New("gossip: empty message")

// Message is one push of a node's store to a peer.
type Message struct {
	ID      string                       `json:"id"`
	From    string                       `json:"from"`
	SentAt  time.Time                    `json:"sent_at"`
	Entries map[string][]reconcile.Entry `json:"entries"`

	// malformed holds keys whose entries could not be decoded.
	malformed map[string]error
}

// UnmarshalJSON decodes the entries of each key on their own, so one key of
// the wrong shape does not fail the whole message. Such keys are left out of
// Entries and rejected by Receive.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string                     `json:"id"`
		From    string                     `json:"from"`
		SentAt  time.Time                  `json:"sent_at"`
		Entries map[string]json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Message{ID: raw.ID, From: raw.From, SentAt: raw.SentAt}
	if raw.Entries == nil {
		return nil
	}
	m.Entries = make(map[string][]reconcile.Entry, len(raw.Entries))
	for key, body := range raw.Entries {
		var entries []reconcile.Entry
		if err := json.Unmarshal(body, &entries); err != nil {
			if m.malformed == nil {
				m.malformed = make(map[string]error)
			}
			m.malformed[key] = fmt.Errorf("%w: %v", reconcile.ErrInvalidEntry, err)
			continue
		}
		m.Entries[key] = entries
	}
	return nil
}

// MergeReport describes how a received message was applied.
type MergeReport struct {
	Merged   int              `json:"merged"`
	Rejected map[string]error `json:"-"`
}

// RejectedKeys returns the rejection reason for every skipped key.
func (r MergeReport) RejectedKeys() map[string]string {
	out := make(map[string]string, len(r.Rejected))
	for k, err := range r.Rejected {
		out[k] = err.Error()
	}
	return out
}

// validateKey checks one key of an incoming message before anything is
// merged for it.
func validateKey(key string, entries []reconcile.Entry) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", reconcile.ErrInvalidEntry)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries for key", reconcile.ErrInvalidEntry)
	}
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}
