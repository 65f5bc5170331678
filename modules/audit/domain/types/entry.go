package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is one immutable line of the audit log. Sequence, PrevHash and Hash
// are zero until a store seals the entry.
type Entry struct {
	ID         string
	Sequence   int64
	Actor      string
	ActorRole  string
	Action     string
	EntityType string
	EntityID   string
	Before     Payload
	After      Payload
	Timestamp  time.Time
	PrevHash   string
	Hash       string
}

// ErrDuplicateID is returned when an entry id is already in the log with
// different contents.
var ErrDuplicateID = errors.New("audit: entry id already recorded with different contents")

func (e Entry) Clone() Entry {
	e.Before = ClonePayload(e.Before)
	e.After = ClonePayload(e.After)
	return e
}

// IsReplayOf reports whether e, sealed at stored's position, hashes to
// stored. An append retried after a commit that did land is one.
func (e Entry) IsReplayOf(stored Entry) bool {
	if e.ID != stored.ID {
		return false
	}
	sealed, err := e.Seal(stored.Sequence, stored.PrevHash)
	return err == nil && sealed.Hash == stored.Hash
}

type entryJSON struct {
	ID         string          `json:"id"`
	Sequence   int64           `json:"sequence"`
	Actor      string          `json:"actor"`
	ActorRole  string          `json:"actor_role,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	Timestamp  time.Time       `json:"timestamp"`
	PrevHash   string          `json:"prev_hash,omitempty"`
	Hash       string          `json:"hash,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	before, err := EncodePayload(e.Before)
	if err != nil {
		return nil, err
	}
	after, err := EncodePayload(e.After)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entryJSON{
		ID: e.ID, Sequence: e.Sequence, Actor: e.Actor, ActorRole: e.ActorRole,
		Action: e.Action, EntityType: e.EntityType, EntityID: e.EntityID,
		Before: before, After: after, Timestamp: e.Timestamp,
		PrevHash: e.PrevHash, Hash: e.Hash,
	})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	before, err := DecodePayload(raw.EntityType, raw.Before)
	if err != nil {
		return err
	}
	after, err := DecodePayload(raw.EntityType, raw.After)
	if err != nil {
		return err
	}
	*e = Entry{
		ID: raw.ID, Sequence: raw.Sequence, Actor: raw.Actor, ActorRole: raw.ActorRole,
		Action: raw.Action, EntityType: raw.EntityType, EntityID: raw.EntityID,
		Before: before, After: after, Timestamp: raw.Timestamp.UTC(),
		PrevHash: raw.PrevHash, Hash: raw.Hash,
	}
	return nil
}

func digest(p Payload) (string, error) {
	b, err := EncodePayload(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeHash hashes the pipe-joined canonical form of e, its payload
// digests and PrevHash.
func (e Entry) ComputeHash() (string, error) {
	before, err := digest(e.Before)
	if err != nil {
		return "", err
	}
	after, err := digest(e.After)
	if err != nil {
		return "", err
	}
	canonical := strings.Join([]string{
		strconv.FormatInt(e.Sequence, 10),
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Actor,
		e.ActorRole,
		e.Action,
		e.EntityType,
		e.EntityID,
		before,
		after,
		e.PrevHash,
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Seal assigns the chain position. Timestamps are truncated to the
// microsecond precision every store keeps.
func (e Entry) Seal(sequence int64, prevHash string) (Entry, error) {
	e.Sequence = sequence
	e.PrevHash = prevHash
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	h, err := e.ComputeHash()
	if err != nil {
		return Entry{}, err
	}
	e.Hash = h
	return e, nil
}

// ChainBreak describes the first entry whose link does not verify.
type ChainBreak struct {
	Sequence int64
	EntryID  string
	Reason   string
}

func (b *ChainBreak) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d (entry %s): %s", b.Sequence, b.EntryID, b.Reason)
}

// VerifyChain walks entries in sequence order.
func VerifyChain(entries []Entry) error {
	prev := ""
	var want int64 = 1
	for _, e := range entries {
		if e.Sequence != want {
			return &ChainBreak{Sequence: e.Sequence, EntryID: e.ID, Reason: fmt.Sprintf("expected sequence %d", want)}
		}
		if e.PrevHash != prev {
			return &ChainBreak{Sequence: e.Sequence, EntryID: e.ID, Reason: "prev_hash does not match previous entry"}
		}
		h, err := e.ComputeHash()
		if err != nil {
			return &ChainBreak{Sequence: e.Sequence, EntryID: e.ID, Reason: err.Error()}
		}
		if h != e.Hash {
			return &ChainBreak{Sequence: e.Sequence, EntryID: e.ID, Reason: "hash does not match contents"}
		}
		prev = e.Hash
		want++
	}
	return nil
}

// Newer orders entries newest first by (Timestamp, Sequence).
func Newer(a, b Entry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Sequence > b.Sequence
}
