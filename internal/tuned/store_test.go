package tuned

import (
	"errors"
	"testing"

	"github.com/looptune/looptune/internal/session"
)

func TestSessionStoreCreateAndGet(t *testing.T) {
	store := NewSessionStore()

	rec, err := store.Create("", SessionInput{Source: "int main(void) { return 0; }"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("expected generated session id")
	}
	if rec.Status != StatusPending {
		t.Fatalf("expected status pending, got %v", rec.Status)
	}
	if rec.CreatedAtUnixMs == 0 {
		t.Fatalf("expected created_at_unix_ms to be set")
	}

	got, ok := store.Get(rec.ID)
	if !ok || got.ID != rec.ID {
		t.Fatalf("Get(%s) = %+v, %v", rec.ID, got, ok)
	}

	got.Status = StatusFailed
	again, _ := store.Get(rec.ID)
	if again.Status != StatusPending {
		t.Fatalf("mutating a returned record changed the store")
	}
}

func TestSessionStoreCreateDuplicate(t *testing.T) {
	store := NewSessionStore()
	if _, err := store.Create("s-1", SessionInput{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Create("s-1", SessionInput{}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestSessionStoreSetStatusSetsTimestamps(t *testing.T) {
	store := NewSessionStore()
	if _, err := store.Create("s-1", SessionInput{}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	rec, err := store.SetStatus("s-1", StatusRunning, "")
	if err != nil {
		t.Fatalf("SetStatus running error: %v", err)
	}
	if rec.StartedAtUnixMs == 0 || rec.EndedAtUnixMs != 0 {
		t.Fatalf("running timestamps = %d/%d", rec.StartedAtUnixMs, rec.EndedAtUnixMs)
	}

	rec, err = store.SetStatus("s-1", StatusCancelled, "")
	if err != nil {
		t.Fatalf("SetStatus cancelled error: %v", err)
	}
	if rec.EndedAtUnixMs == 0 {
		t.Fatalf("expected ended_at_unix_ms set")
	}

	rec, err = store.SetStatus("s-1", StatusCompleted, "late")
	if err != nil {
		t.Fatalf("SetStatus completed error: %v", err)
	}
	if rec.Status != StatusCancelled || rec.Error != "" {
		t.Fatalf("terminal status overwritten: %+v", rec)
	}

	if _, err := store.SetStatus("missing", StatusRunning, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStoreListFilterAndPaging(t *testing.T) {
	store := NewSessionStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := store.Create(id, SessionInput{}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	store.SetStatus("b", StatusRunning, "")
	store.SetStatus("d", StatusRunning, "")

	running := StatusRunning
	if got := store.List(10, 0, &running); len(got) != 2 {
		t.Fatalf("running sessions = %d, want 2", len(got))
	}
	if got := store.List(3, 0, nil); len(got) != 3 {
		t.Fatalf("limited list = %d, want 3", len(got))
	}
	if got := store.List(10, 3, nil); len(got) != 1 {
		t.Fatalf("offset list = %d, want 1", len(got))
	}
	if got := store.List(10, 10, nil); len(got) != 0 {
		t.Fatalf("list past end = %d", len(got))
	}
}

func TestSessionStoreReportAndProgress(t *testing.T) {
	store := NewSessionStore()
	store.Create("s", SessionInput{})
	store.Progress("s")
	store.Progress("s")
	if err := store.SetReport("s", &session.Report{SessionID: "s"}); err != nil {
		t.Fatalf("SetReport: %v", err)
	}
	rec, _ := store.Get("s")
	if rec.Evaluated != 2 || rec.Report == nil {
		t.Fatalf("record = %+v", rec)
	}
	if err := store.SetReport("missing", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"pending", StatusPending, true},
		{"RUNNING", StatusRunning, true},
		{"Cancelled", StatusCancelled, true},
		{"done", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseStatus(%q) = %v, %v", tt.in, got, ok)
		}
	}
	if StatusRunning.Terminal() || !StatusFailed.Terminal() {
		t.Errorf("Terminal misclassifies statuses")
	}
}
