// Package events carries the lifecycle events of a running task: run, level,
// agent and batch progress. The TUI and the CLI watch mode subscribe to them.
package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	TaskID() string
}

// Topic constants
const (
	TopicRun   = "run"
	TopicLevel = "level"
	TopicAgent = "agent"
	TopicBatch = "batch"
)

// Event type constants
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunFinished   = "run.finished"
	EventTypeLevelStarted  = "level.started"
	EventTypeLevelFinished = "level.finished"
	EventTypeAgentStarted  = "agent.started"
	EventTypeAgentFinished = "agent.finished"
	EventTypeBatchProgress = "batch.progress"
	EventTypeLevelSkipped  = "level.skipped"
	EventTypeBatchPlanned  = "batch.planned"
)

// Status values carried by finished events.
const (
	StatusSuccess  = "success"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// RunStartedEvent is published when Setup begins.
type RunStartedEvent struct {
	Task      string
	Repos     []string
	User      string
	Levels    []string
	Timestamp time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) Topic() string     { return TopicRun }
func (e RunStartedEvent) TaskID() string    { return e.Task }

// RunFinishedEvent is published once the run succeeded or failed.
type RunFinishedEvent struct {
	Task      string
	Status    string
	Level     string // Failing level, empty on success
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) Topic() string     { return TopicRun }
func (e RunFinishedEvent) TaskID() string    { return e.Task }

// LevelStartedEvent is published when a level passes its dependency gate.
type LevelStartedEvent struct {
	Task      string
	Level     string
	Mode      string
	Agents    []string
	Timestamp time.Time
}

func (e LevelStartedEvent) EventType() string { return EventTypeLevelStarted }
func (e LevelStartedEvent) Topic() string     { return TopicLevel }
func (e LevelStartedEvent) TaskID() string    { return e.Task }

// LevelFinishedEvent is published when every participant of a level has a
// terminal outcome.
type LevelFinishedEvent struct {
	Task      string
	Level     string
	Status    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e LevelFinishedEvent) EventType() string { return EventTypeLevelFinished }
func (e LevelFinishedEvent) Topic() string     { return TopicLevel }
func (e LevelFinishedEvent) TaskID() string    { return e.Task }

// LevelSkippedEvent is published for levels that never start: an earlier
// mandatory level failed, or a resumed task already completed them.
type LevelSkippedEvent struct {
	Task      string
	Level     string
	Reason    string
	Timestamp time.Time
}

func (e LevelSkippedEvent) EventType() string { return EventTypeLevelSkipped }
func (e LevelSkippedEvent) Topic() string     { return TopicLevel }
func (e LevelSkippedEvent) TaskID() string    { return e.Task }

// AgentStartedEvent is published before an invocation. Index is -1 for
// singleton stages.
type AgentStartedEvent struct {
	Task      string
	Level     string
	Agent     string
	Index     int
	Attempt   int
	Timestamp time.Time
}

func (e AgentStartedEvent) EventType() string { return EventTypeAgentStarted }
func (e AgentStartedEvent) Topic() string     { return TopicAgent }
func (e AgentStartedEvent) TaskID() string    { return e.Task }

// AgentFinishedEvent is published once an invocation's outcome is persisted.
type AgentFinishedEvent struct {
	Task      string
	Level     string
	Agent     string
	Index     int
	Status    string
	Error     string
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e AgentFinishedEvent) EventType() string { return EventTypeAgentFinished }
func (e AgentFinishedEvent) Topic() string     { return TopicAgent }
func (e AgentFinishedEvent) TaskID() string    { return e.Task }

// BatchPlannedEvent is published when the item count of a batched level is resolved.
type BatchPlannedEvent struct {
	Task      string
	Level     string
	Agent     string
	Total     int
	Timestamp time.Time
}

func (e BatchPlannedEvent) EventType() string { return EventTypeBatchPlanned }
func (e BatchPlannedEvent) Topic() string     { return TopicBatch }
func (e BatchPlannedEvent) TaskID() string    { return e.Task }

// BatchProgressEvent is published after each batch item reaches a terminal outcome.
type BatchProgressEvent struct {
	Task      string
	Level     string
	Agent     string
	Total     int
	Done      int
	Failed    int
	Timestamp time.Time
}

func (e BatchProgressEvent) EventType() string { return EventTypeBatchProgress }
func (e BatchProgressEvent) Topic() string     { return TopicBatch }
func (e BatchProgressEvent) TaskID() string    { return e.Task }
