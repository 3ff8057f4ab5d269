package scheduler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddValidation(t *testing.T) {
	s := New(func(ctx context.Context, task *Task) error { return nil }, testLogger())

	tests := []struct {
		name    string
		task    Task
		wantErr string
	}{
		{"missing id", Task{Schedule: "@hourly", Enabled: true}, "task ID is required"},
		{"missing schedule", Task{ID: "t1", Enabled: true}, "has no schedule"},
		{"bad expression", Task{ID: "t2", Schedule: "not a cron", Enabled: true}, "invalid schedule"},
		{"valid", Task{ID: "t3", Schedule: "*/5 * * * *", Enabled: true}, ""},
		{"shorthand", Task{ID: "t4", Schedule: "@every 10m", Enabled: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(&tt.task)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Add: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Add = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	s := New(func(ctx context.Context, task *Task) error { return nil }, testLogger())

	task := Task{ID: "daily", Schedule: "@daily", Enabled: true}
	if err := s.Add(&task); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := s.Add(&task); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate Add = %v, want already-exists error", err)
	}
}

func TestAddSkipsDisabledTasks(t *testing.T) {
	s := New(func(ctx context.Context, task *Task) error { return nil }, testLogger())

	if err := s.Add(&Task{ID: "off", Schedule: "@daily", Enabled: false}); err != nil {
		t.Fatalf("Add disabled: %v", err)
	}
	if len(s.cronIDs) != 0 {
		t.Error("disabled task must not be scheduled")
	}
}

func TestFireRunsHandler(t *testing.T) {
	var mu sync.Mutex
	var got []*Task
	s := New(func(ctx context.Context, task *Task) error {
		mu.Lock()
		got = append(got, task)
		mu.Unlock()
		return nil
	}, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	task := &Task{ID: "beat", Schedule: "@daily", Prompt: "check in", Channel: "console", ChatID: "console"}
	s.fire(task)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Prompt != "check in" {
		t.Fatalf("handler should receive the task, got %v", got)
	}
}

func TestFireSkipsOverlappingRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var runs int

	s := New(func(ctx context.Context, task *Task) error {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		<-release
		return nil
	}, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	task := &Task{ID: "slow", Schedule: "@daily"}

	done := make(chan struct{})
	go func() {
		s.fire(task)
		close(done)
	}()
	<-started

	// A second fire while the first is still running is dropped.
	s.fire(task)
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("got %d runs, want 1", runs)
	}
}
