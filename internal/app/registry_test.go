package app

import (
	"testing"
	"time"

	"live-classroom-service/internal/domain"
)

func TestRegistryJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(100, 0)

	if !r.UpsertJoin("a", "Ada", now) {
		t.Fatalf("first join should create the participant")
	}
	r.RecordAnswer("a", true, 300, now)
	if r.UpsertJoin("a", "Other", now.Add(time.Second)) {
		t.Fatalf("second join should not create a participant")
	}

	views := r.Snapshot()
	if len(views) != 1 || views[0].DisplayName != "Ada" || views[0].Score != 300 {
		t.Fatalf("unexpected participants %+v", views)
	}
}

func TestRegistryRecordAnswerOncePerRound(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(100, 0)
	r.UpsertJoin("a", "Ada", now)
	r.ResetRound(0)

	if !r.RecordAnswer("a", true, 500, now) {
		t.Fatalf("first answer should be recorded")
	}
	if r.RecordAnswer("a", true, 500, now) {
		t.Fatalf("second answer should be ignored")
	}
	if r.RecordAnswer("ghost", true, 500, now) {
		t.Fatalf("unknown participant should be ignored")
	}
	if got := r.Snapshot()[0].Score; got != 500 {
		t.Fatalf("score %d, want 500", got)
	}

	r.ResetRound(1)
	status, _ := r.Status("a")
	if status != domain.StatusJoined || r.Snapshot()[0].LastAnswerCorrect != nil {
		t.Fatalf("reset should clear the round, got %s", status)
	}
}

func TestRegistryLockUnanswered(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(100, 0)
	r.UpsertJoin("a", "Ada", now)
	r.UpsertJoin("b", "Bo", now)
	r.ResetRound(2)
	r.RecordAnswer("a", false, 0, now)

	if n := r.LockUnanswered(1); n != 0 {
		t.Fatalf("lock for another round should be ignored, locked %d", n)
	}
	if n := r.LockUnanswered(2); n != 1 {
		t.Fatalf("expected one locked participant, got %d", n)
	}
	if s, _ := r.Status("a"); s != domain.StatusAnswered {
		t.Fatalf("answered participant must keep its status, got %s", s)
	}
	if s, _ := r.Status("b"); s != domain.StatusLocked {
		t.Fatalf("expected b locked, got %s", s)
	}
	if r.RecordAnswer("b", true, 1000, now) {
		t.Fatalf("locked participant must not score")
	}
	if !r.AllResolved() {
		t.Fatalf("every participant is terminal")
	}
}

func TestRegistryAllResolvedIgnoresDisconnected(t *testing.T) {
	r := NewRegistry()
	start := time.Unix(100, 0)
	if r.AllResolved() {
		t.Fatalf("empty registry must not count as resolved")
	}
	r.UpsertJoin("a", "Ada", start)
	r.UpsertJoin("b", "Bo", start.Add(10*time.Second))
	r.ResetRound(0)

	if n := r.MarkStale(start.Add(5 * time.Second)); n != 1 {
		t.Fatalf("expected a marked stale, got %d", n)
	}
	r.RecordAnswer("b", true, 10, start.Add(11*time.Second))
	if !r.AllResolved() {
		t.Fatalf("disconnected participants must not hold the round open")
	}
	if !r.Touch("a", start.Add(12*time.Second)) {
		t.Fatalf("touch should report a reconnect")
	}
	if r.AllResolved() {
		t.Fatalf("reconnected participant has not answered yet")
	}
}

func TestRegistrySnapshotRanking(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(100, 0)
	for _, id := range []string{"a", "b", "c"} {
		r.UpsertJoin(id, id, now)
	}
	r.ResetRound(0)
	r.RecordAnswer("c", true, 900, now)
	r.RecordAnswer("a", true, 100, now)
	r.RecordAnswer("b", true, 100, now)

	views := r.Snapshot()
	order := []string{views[0].ID, views[1].ID, views[2].ID}
	if order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
	for i, v := range views {
		if v.Rank != i+1 {
			t.Fatalf("rank of %s is %d, want %d", v.ID, v.Rank, i+1)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 participants, got %d", r.Len())
	}
}
