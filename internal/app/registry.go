package app

import (
	"sort"
	"time"

	"live-classroom-service/internal/domain"
)

// Registry tracks participants of one session. It is owned by the host loop and never shared.
type Registry struct {
	round   int
	nextSeq int
	entries map[string]*registryEntry
}

type registryEntry struct {
	domain.Participant
	joinSeq int
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// UpsertJoin adds a participant. Joining twice with the same id keeps the first entry
// and only refreshes liveness. Returns true when a new entry was created.
func (r *Registry) UpsertJoin(id, displayName string, now time.Time) bool {
	if entry, ok := r.entries[id]; ok {
		entry.Connected = true
		entry.LastSeen = now
		return false
	}
	r.entries[id] = &registryEntry{
		Participant: domain.Participant{
			ID:          id,
			DisplayName: displayName,
			Status:      domain.StatusJoined,
			Connected:   true,
			JoinedAt:    now,
			LastSeen:    now,
		},
		joinSeq: r.nextSeq,
	}
	r.nextSeq++
	return true
}

// Touch refreshes liveness for a known participant.
func (r *Registry) Touch(id string, now time.Time) bool {
	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	reconnected := !entry.Connected
	entry.Connected = true
	entry.LastSeen = now
	return reconnected
}

// RecordAnswer marks the participant as answered and adds points.
// It is a no-op for unknown participants and for those already terminal this round.
func (r *Registry) RecordAnswer(id string, correct bool, points int, now time.Time) bool {
	entry, ok := r.entries[id]
	if !ok || entry.Status.Terminal() {
		return false
	}
	if points < 0 {
		points = 0
	}
	c := correct
	entry.Status = domain.StatusAnswered
	entry.LastAnswerCorrect = &c
	entry.Score += points
	entry.Connected = true
	entry.LastSeen = now
	return true
}

// Status returns the participant's round status.
func (r *Registry) Status(id string) (domain.Status, bool) {
	entry, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return entry.Status, true
}

// ResetRound moves every participant back to joined for question index round.
func (r *Registry) ResetRound(round int) {
	r.round = round
	for _, entry := range r.entries {
		entry.Status = domain.StatusJoined
		entry.LastAnswerCorrect = nil
	}
}

// LockUnanswered locks every participant who has not answered question index round.
// Calls for any other round are ignored. Returns how many participants were locked.
func (r *Registry) LockUnanswered(round int) int {
	if round != r.round {
		return 0
	}
	locked := 0
	for _, entry := range r.entries {
		if entry.Status == domain.StatusJoined {
			entry.Status = domain.StatusLocked
			locked++
		}
	}
	return locked
}

// AllResolved reports whether every connected participant is terminal for the round.
// It is false when nobody is connected.
func (r *Registry) AllResolved() bool {
	connected := 0
	for _, entry := range r.entries {
		if !entry.Connected {
			continue
		}
		connected++
		if !entry.Status.Terminal() {
			return false
		}
	}
	return connected > 0
}

// MarkStale flags participants not seen since cutoff as disconnected.
func (r *Registry) MarkStale(cutoff time.Time) int {
	n := 0
	for _, entry := range r.entries {
		if entry.Connected && entry.LastSeen.Before(cutoff) {
			entry.Connected = false
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Snapshot returns participants ranked by score, ties going to whoever joined first.
func (r *Registry) Snapshot() []domain.ParticipantView {
	ordered := make([]*registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].joinSeq < ordered[j].joinSeq
	})

	views := make([]domain.ParticipantView, 0, len(ordered))
	for i, entry := range ordered {
		var last *bool
		if entry.LastAnswerCorrect != nil {
			c := *entry.LastAnswerCorrect
			last = &c
		}
		views = append(views, domain.ParticipantView{
			ID:                entry.ID,
			DisplayName:       entry.DisplayName,
			Score:             entry.Score,
			Status:            entry.Status,
			LastAnswerCorrect: last,
			Connected:         entry.Connected,
			Rank:              i + 1,
		})
	}
	return views
}
