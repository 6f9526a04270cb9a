package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testStore creates a temporary store for testing.
func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file not created")
	}
}

func TestEnqueue(t *testing.T) {
	s := testStore(t)

	task, err := s.Enqueue("wf-1", "Add login page", "https://app.example.com", 5)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if task.ID != "wf-1" {
		t.Errorf("expected ID wf-1, got %s", task.ID)
	}
	if task.Status != StatusQueued {
		t.Errorf("expected status QUEUED, got %s", task.Status)
	}
	if task.Phase != PhaseTestGeneration {
		t.Errorf("expected entry phase, got %s", task.Phase)
	}
	if task.Priority != 5 {
		t.Errorf("expected priority 5, got %d", task.Priority)
	}
}

func TestEnqueue_Duplicate(t *testing.T) {
	s := testStore(t)

	if _, err := s.Enqueue("wf-1", "First", "", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	_, err := s.Enqueue("wf-1", "Second", "", 0)
	if !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDequeueReady_Ordering(t *testing.T) {
	s := testStore(t)

	s.Enqueue("low", "Low priority", "", 1)
	s.Enqueue("high", "High priority", "", 9)
	s.Enqueue("mid-a", "First mid", "", 5)
	s.Enqueue("mid-b", "Second mid", "", 5)

	claimed, err := s.DequeueReady(3)
	if err != nil {
		t.Fatalf("DequeueReady: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed, got %d", len(claimed))
	}

	// Priority descending, FIFO within equal priority.
	if claimed[0].ID != "high" || claimed[1].ID != "mid-a" || claimed[2].ID != "mid-b" {
		t.Errorf("wrong order: %s, %s, %s", claimed[0].ID, claimed[1].ID, claimed[2].ID)
	}
	for _, c := range claimed {
		if c.Status != StatusRunning {
			t.Errorf("task %s: expected RUNNING, got %s", c.ID, c.Status)
		}
		if c.ClaimedAt == nil {
			t.Errorf("task %s: claim timestamp not set", c.ID)
		}
	}

	// The low-priority task is still queued.
	low, _ := s.Get("low")
	if low.Status != StatusQueued {
		t.Errorf("expected low still QUEUED, got %s", low.Status)
	}
}

func TestDequeueReady_AtMostOnce(t *testing.T) {
	s := testStore(t)

	const tasks = 8
	const callers = 5
	for i := 0; i < tasks; i++ {
		s.Enqueue(string(rune('a'+i)), "Task", "", 0)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.DequeueReady(3)
			if err != nil {
				t.Errorf("DequeueReady: %v", err)
				return
			}
			mu.Lock()
			for _, c := range claimed {
				seen[c.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for id, n := range seen {
		if n > 1 {
			t.Errorf("task %s claimed %d times", id, n)
		}
	}
	if len(seen) != tasks {
		t.Errorf("expected all %d tasks claimed, got %d", tasks, len(seen))
	}
}

func TestUpdatePhase_Advance(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)

	err := s.UpdatePhase("wf-1", PhaseImplementation, map[string]any{"test_path": "tests/login.spec.ts"})
	if err != nil {
		t.Fatalf("UpdatePhase: %v", err)
	}

	task, _ := s.Get("wf-1")
	if task.Phase != PhaseImplementation {
		t.Errorf("expected CODE_IMPLEMENTATION, got %s", task.Phase)
	}
	if task.Context["test_path"] != "tests/login.spec.ts" {
		t.Errorf("context not merged: %v", task.Context)
	}
}

func TestUpdatePhase_IdempotentRepeat(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)

	if err := s.UpdatePhase("wf-1", PhaseImplementation, map[string]any{"test_path": "a.spec.ts"}); err != nil {
		t.Fatalf("first UpdatePhase: %v", err)
	}
	// Same target again: no error, no context change.
	if err := s.UpdatePhase("wf-1", PhaseImplementation, map[string]any{"test_path": "b.spec.ts"}); err != nil {
		t.Fatalf("repeated UpdatePhase: %v", err)
	}

	task, _ := s.Get("wf-1")
	if task.Context["test_path"] != "a.spec.ts" {
		t.Errorf("repeat merged context: %v", task.Context["test_path"])
	}
}

func TestUpdatePhase_RejectsSkip(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)

	err := s.UpdatePhase("wf-1", PhaseReview, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdatePhase_FailedFromAnywhere(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)
	s.UpdatePhase("wf-1", PhaseImplementation, nil)

	if err := s.UpdatePhase("wf-1", PhaseFailed, map[string]any{"failure_reason": "boom"}); err != nil {
		t.Fatalf("UpdatePhase to FAILED: %v", err)
	}
	task, _ := s.Get("wf-1")
	if task.Phase != PhaseFailed {
		t.Errorf("expected FAILED, got %s", task.Phase)
	}
}

func TestUpdatePhase_TerminalIsFinal(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)
	s.UpdatePhase("wf-1", PhaseFailed, nil)

	err := s.UpdatePhase("wf-1", PhaseTestGeneration, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal, got %v", err)
	}
}

func TestUpdatePhase_ContextAppendOnly(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)

	s.UpdatePhase("wf-1", PhaseImplementation, map[string]any{"test_path": "original"})
	// A later phase must not overwrite an existing key.
	s.UpdatePhase("wf-1", PhaseReview, map[string]any{"test_path": "overwrite", "pr_id": "42"})

	task, _ := s.Get("wf-1")
	if task.Context["test_path"] != "original" {
		t.Errorf("context key overwritten: %v", task.Context["test_path"])
	}
	if task.Context["pr_id"] != "42" {
		t.Errorf("new context key not merged: %v", task.Context)
	}
}

func TestRecordRetry(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)

	n, err := s.RecordRetry("wf-1", "agent timed out")
	if err != nil {
		t.Fatalf("RecordRetry: %v", err)
	}
	if n != 1 {
		t.Errorf("expected retry count 1, got %d", n)
	}

	n, _ = s.RecordRetry("wf-1", "agent timed out again")
	if n != 2 {
		t.Errorf("expected retry count 2, got %d", n)
	}

	task, _ := s.Get("wf-1")
	if task.RetryCount != 2 {
		t.Errorf("persisted retry count: got %d", task.RetryCount)
	}
	if task.Context["last_error"] != "agent timed out again" {
		t.Errorf("last_error not recorded: %v", task.Context["last_error"])
	}
}

func TestComplete(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)

	if err := s.Complete("wf-1", true); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	task, _ := s.Get("wf-1")
	if task.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", task.Status)
	}
	if task.ClaimedAt != nil {
		t.Error("claim timestamp should be cleared on completion")
	}
}

func TestComplete_RequiresRunning(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)

	err := s.Complete("wf-1", true)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning for queued task, got %v", err)
	}

	// Terminal states are write-once.
	s.DequeueReady(1)
	s.Complete("wf-1", false)
	err = s.Complete("wf-1", true)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning for terminal task, got %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)

	// Fresh claim: nothing to reclaim.
	n, err := s.ReclaimStale(time.Hour)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 reclaimed, got %d", n)
	}

	time.Sleep(20 * time.Millisecond)
	n, err = s.ReclaimStale(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", n)
	}

	task, _ := s.Get("wf-1")
	if task.Status != StatusQueued {
		t.Errorf("expected re-queued, got %s", task.Status)
	}
	if task.ClaimedAt != nil {
		t.Error("claim timestamp should be cleared on reclaim")
	}
}

func TestSetPriority(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 1)

	if err := s.SetPriority("wf-1", 8); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	task, _ := s.Get("wf-1")
	if task.Priority != 8 {
		t.Errorf("expected priority 8, got %d", task.Priority)
	}
}

func TestGetEvents(t *testing.T) {
	s := testStore(t)
	s.Enqueue("wf-1", "Feature", "", 0)
	s.DequeueReady(1)
	s.UpdatePhase("wf-1", PhaseImplementation, nil)

	events, err := s.GetEvents("wf-1")
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) < 3 {
		t.Fatalf("expected at least enqueued/admitted/phase events, got %d", len(events))
	}
	if events[0].Type != "enqueued" {
		t.Errorf("first event: expected enqueued, got %s", events[0].Type)
	}
}
