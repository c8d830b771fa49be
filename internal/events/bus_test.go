package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(10, TopicAgent)

	bus.Publish(AgentStartedEvent{
		Task:      "task-1",
		Level:     "clone",
		Agent:     "repo_cloner",
		Index:     -1,
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeAgentStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeAgentStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(10, TopicLevel)
	ch2 := bus.Subscribe(10, TopicLevel)

	bus.Publish(LevelFinishedEvent{Task: "task-2", Level: "analyze", Status: StatusDegraded})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

func TestTopicFiltering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	batchCh := bus.Subscribe(10, TopicBatch)
	runCh := bus.Subscribe(10, TopicRun, TopicLevel)
	allCh := bus.Subscribe(10)

	bus.Publish(BatchProgressEvent{Task: "t", Level: "evaluate", Total: 5, Done: 1})
	bus.Publish(RunStartedEvent{Task: "t"})
	bus.Publish(LevelSkippedEvent{Task: "t", Level: "report"})

	if got := drain(batchCh); len(got) != 1 || got[0].EventType() != EventTypeBatchProgress {
		t.Errorf("batch subscriber mismatch: %v", types(got))
	}
	if got := drain(runCh); len(got) != 2 {
		t.Errorf("run+level subscriber expected 2 events, got %v", types(got))
	}
	if got := drain(allCh); len(got) != 3 {
		t.Errorf("all-topics subscriber expected 3 events, got %v", types(got))
	}
}

func TestNonBlockingSend(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(1, TopicBatch)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(BatchProgressEvent{Task: "t", Total: 10, Done: i + 1})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}

	if got := drain(ch); len(got) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(got))
	}
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(10)

	bus.Close()
	bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel was not closed")
	}

	// Publishing and subscribing after close must not panic
	bus.Publish(RunFinishedEvent{Task: "t"})
	if _, ok := <-bus.Subscribe(1); ok {
		t.Error("subscription after close must be closed")
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic
	Discard.Publish(RunStartedEvent{Task: "t"})
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func types(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}
