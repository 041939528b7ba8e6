// Package record defines the typed envelopes the storage and sync layers
// move around: four record kinds sharing one identity and timestamp scheme,
// plus the tombstones that mark deletions.
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the record category. Identity of any record is (Kind, ID).
type Kind string

const (
	KindEntry    Kind = "entry"
	KindTag      Kind = "tag"
	KindInsight  Kind = "insight"
	KindSolution Kind = "solution"
)

// Kinds returns all record kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindEntry, KindTag, KindInsight, KindSolution}
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEntry, KindTag, KindInsight, KindSolution:
		return true
	}
	return false
}

// Record is the envelope shared by all four kinds. Payload is the
// kind-specific body, kept as raw JSON so stores do not need to know
// payload shapes. LastModified is wall-clock unix milliseconds and is the
// only ordering signal between replicas: per identity it must never
// decrease within a single tier.
type Record struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	LastModified int64           `json:"lastModified"`
}

// Key is a record identity, usable as a map key.
type Key struct {
	Kind Kind
	ID   string
}

// Key returns the record's identity.
func (r *Record) Key() Key {
	return Key{Kind: r.Kind, ID: r.ID}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() Record {
	payload := make(json.RawMessage, len(r.Payload))
	copy(payload, r.Payload)
	return Record{
		ID:           r.ID,
		Kind:         r.Kind,
		Payload:      payload,
		LastModified: r.LastModified,
	}
}

// NowMillis returns the current wall clock as unix milliseconds, the unit
// every LastModified field carries.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// EntryPayload is the body of a primary journal entry.
type EntryPayload struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type,omitempty"`
}

// TagPayload is the body of a derived tag. EntryIDs is the set of entries
// the tag was derived from; Name is the display form, deduplication happens
// on the normalized form (see NormalizeTagName).
type TagPayload struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	EntryIDs []string `json:"entryIds"`
}

// InsightPayload is the body of an insight generated for a single entry.
// EntryID references the parent entry; deleting the entry cascades here.
type InsightPayload struct {
	EntryID string `json:"entryId"`
	Summary string `json:"summary"`
	Advice  string `json:"advice,omitempty"`
}

// SolutionPayload is the body of a saved solution. Solutions are only
// durable in the primary tier.
type SolutionPayload struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
	Source   string `json:"source,omitempty"`
}

// New builds a record envelope around a kind-specific payload. A zero id is
// replaced with a fresh UUID, a zero timestamp with the current time.
func New(kind Kind, id string, payload any, lastModified int64) (Record, error) {
	if !kind.Valid() {
		return Record{}, fmt.Errorf("invalid record kind %q", kind)
	}
	if id == "" {
		id = uuid.New().String()
	}
	if lastModified == 0 {
		lastModified = NowMillis()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	return Record{ID: id, Kind: kind, Payload: body, LastModified: lastModified}, nil
}

// DecodeEntry parses the payload of an entry record.
func (r *Record) DecodeEntry() (*EntryPayload, error) {
	return decodePayload[EntryPayload](r, KindEntry)
}

// DecodeTag parses the payload of a tag record.
func (r *Record) DecodeTag() (*TagPayload, error) {
	return decodePayload[TagPayload](r, KindTag)
}

// DecodeInsight parses the payload of an insight record.
func (r *Record) DecodeInsight() (*InsightPayload, error) {
	return decodePayload[InsightPayload](r, KindInsight)
}

// DecodeSolution parses the payload of a solution record.
func (r *Record) DecodeSolution() (*SolutionPayload, error) {
	return decodePayload[SolutionPayload](r, KindSolution)
}

func decodePayload[T any](r *Record, want Kind) (*T, error) {
	if r.Kind != want {
		return nil, fmt.Errorf("record %s/%s is not a %s", r.Kind, r.ID, want)
	}
	var p T
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", want, err)
	}
	return &p, nil
}

// Validate checks the envelope fields the sync layer relies on. Payload
// shape is not validated beyond being a JSON value.
func (r *Record) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid record kind %q", r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if r.LastModified <= 0 {
		return fmt.Errorf("record %s/%s has no timestamp", r.Kind, r.ID)
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return fmt.Errorf("record %s/%s payload is not valid JSON", r.Kind, r.ID)
	}
	return nil
}
