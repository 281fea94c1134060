package domain

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskPause     TaskStatus = "pause"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
	TaskDeleted   TaskStatus = "deleted"
)

// EnqueueStatus is the outcome of adding a task to the queue.
type EnqueueStatus string

const (
	EnqueueStarted        EnqueueStatus = "started"
	EnqueueAdded          EnqueueStatus = "added"
	EnqueueAlreadyRunning EnqueueStatus = "already running"
	EnqueueInQueues       EnqueueStatus = "in queues"
)

// Pushed reports whether the enqueue call created a new task.
func (s EnqueueStatus) Pushed() bool {
	return s == EnqueueStarted || s == EnqueueAdded
}

type Task struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Uno         string         `json:"uno"`
	GameMode    GameMode       `json:"game_mode"`
	DataType    DataType       `json:"data_type"`
	Status      TaskStatus     `json:"status"`
	Data        map[string]any `json:"data"`
	Time        time.Time      `json:"time"`
	TimeStarted *time.Time     `json:"time_started,omitempty"`
	TimeEnd     *time.Time     `json:"time_end,omitempty"`
}

func TaskName(target string, mode GameMode, dataType DataType) string {
	return fmt.Sprintf("%s %s %s", target, mode, dataType)
}

// Active reports whether the task holds the single execution slot.
func (t *Task) Active() bool {
	return t.Status == TaskRunning || t.Status == TaskPause
}

type TaskLog struct {
	ID       int64
	Task     Task
	Source   string
	LoggedAt time.Time
}

// CacheLog is one line of the capped progress feed.
type CacheLog struct {
	Target   string    `json:"target"`
	GameMode GameMode  `json:"game_mode"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

type LogKind string

const (
	LogTracker       LogKind = "tracker"
	LogTrackerPlayer LogKind = "tracker_player"
	LogTrackerError  LogKind = "tracker_error"
)

type LogEntry struct {
	ID      int64
	Kind    LogKind
	Target  string
	Message string
	Data    map[string]any
	Time    time.Time
}
