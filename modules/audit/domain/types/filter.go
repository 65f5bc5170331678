package types

import "time"

// Filter narrows a query. Zero fields match everything; From is inclusive
// and To exclusive. Where is a CEL expression evaluated by the recorder,
// never by a store.
type Filter struct {
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Where      string
}

func (f Filter) Matches(e Entry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Timestamp.Before(*f.To) {
		return false
	}
	return true
}
