package domain

import "time"

// Thread is the unit of persistence and conversation continuity: an
// ordered message history plus ownership and accounting metadata.
//
// ID is the sole lookup key, generated once and immutable. Title stays
// empty until the first successful completion and is set at most once by
// the orchestrator. Messages are append-only: existing history is never
// reordered or deleted within a request, only extended. Cost is mutated
// exclusively through the store's atomic increment. Version increases on
// every update; writers supply the version they read and stale writes
// are rejected.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Owner     string    `json:"owner,omitempty"`
	IsPublic  bool      `json:"is_public"`
	Cost      float64   `json:"cost"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadableBy reports whether caller may read the thread. Unowned and
// public threads are readable by anyone; owned private threads only by
// their owner.
func (t *Thread) ReadableBy(caller string) bool {
	if t.Owner == "" || t.IsPublic {
		return true
	}
	return t.Owner == caller
}

// WritableBy reports whether caller may mutate the thread. Public
// threads relax reads only; mutation always requires ownership (or an
// unowned thread).
func (t *Thread) WritableBy(caller string) bool {
	return t.Owner == "" || t.Owner == caller
}

// DisplayMessages projects the stored history for client display:
// user and assistant turns only, tool plumbing stripped.
func (t *Thread) DisplayMessages() []Message {
	out := make([]Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if !m.IsDisplayable() {
			continue
		}
		out = append(out, Message{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out
}
