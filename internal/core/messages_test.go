package core

import (
	"sync"
	"testing"
	"time"
)

func TestMessageLog_AppendAndClear(t *testing.T) {
	var sunk []Message
	log := NewMessageLog(WithMessageSink(func(m Message) { sunk = append(sunk, m) }))
	log.Append(RoleUser, "hi")
	log.Append(RoleAssistant, "hello")

	entries := log.Entries()
	if len(entries) != 2 || entries[0].Role != RoleUser || entries[1].Text != "hello" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if len(sunk) != 2 {
		t.Fatalf("expected sink to see both entries, got %d", len(sunk))
	}

	entries[0].Text = "mutated"
	if log.Entries()[0].Text != "hi" {
		t.Fatalf("expected Entries to return a snapshot")
	}

	log.Clear()
	if log.Len() != 0 {
		t.Fatalf("expected empty log after clear")
	}
}

func TestMessageLog_ConcurrentReaders(t *testing.T) {
	log := NewMessageLog(WithInitialMessages([]Message{{Role: RoleUser, Text: "seed"}}))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			log.Append(RoleUser, "x")
		}()
		go func() {
			defer wg.Done()
			_ = log.Entries()
		}()
	}
	wg.Wait()
	if log.Len() != 9 {
		t.Fatalf("expected 9 entries, got %d", log.Len())
	}
}

func TestRunState_Transitions(t *testing.T) {
	var s RunState
	if err := s.Finish(RunStatusCompleted); err == nil {
		t.Fatalf("expected error finishing an idle run")
	}
	if err := s.MarkRunning(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkRunning(); err == nil {
		t.Fatalf("expected error starting twice")
	}
	if err := s.Finish(RunStatusRunning); err == nil {
		t.Fatalf("expected error for non-terminal finish")
	}
	if err := s.Finish(RunStatusCancelled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Status.IsTerminal() || s.CompletedAt == nil {
		t.Fatalf("expected terminal state with completion time")
	}
}

func TestMessageLog_AppendPairKeepsPairsTogether(t *testing.T) {
	var (
		sinkMu sync.Mutex
		sunk   []Message
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	log := NewMessageLog(WithMessageSink(func(m Message) {
		if m.Text == "step one" {
			close(entered)
			<-release
		}
		sinkMu.Lock()
		sunk = append(sunk, m)
		sinkMu.Unlock()
	}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		log.AppendPair("wf-1", "step one", "OUT:step one")
	}()
	<-entered
	go func() {
		defer wg.Done()
		log.AppendPair("", "side prompt", "OUT:side prompt")
	}()
	// Let the second writer reach the log before the sink is released.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	want := []string{"step one", "OUT:step one", "side prompt", "OUT:side prompt"}
	entries := log.Entries()
	if len(entries) != len(want) || len(sunk) != len(want) {
		t.Fatalf("got %d entries and %d persisted, want %d", len(entries), len(sunk), len(want))
	}
	for i, w := range want {
		if entries[i].Text != w {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Text, w)
		}
		if sunk[i].Text != w {
			t.Errorf("persisted[%d] = %q, want %q", i, sunk[i].Text, w)
		}
	}
	if entries[0].Role != RoleUser || entries[1].Role != RoleAssistant {
		t.Errorf("pair roles = %s/%s", entries[0].Role, entries[1].Role)
	}
	if entries[0].WorkflowID != "wf-1" || entries[2].WorkflowID != "" {
		t.Errorf("workflow ids = %q/%q", entries[0].WorkflowID, entries[2].WorkflowID)
	}
}
