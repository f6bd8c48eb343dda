package monitor

import (
	"time"

	"trade-keeper/internal/task"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventTaskSubmitted EventType = "task_submitted"
	EventStateChanged  EventType = "state_changed"
	EventTaskFailed    EventType = "task_failed"
	EventAlert         EventType = "alert"
	EventTaskCancelled EventType = "task_cancelled"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	TaskID    int64       `json:"taskId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SubmittedPayload 记录新建任务的计划。
type SubmittedPayload struct {
	Task task.Snapshot `json:"task"`
}

// TransitionPayload 记录状态迁移。
type TransitionPayload struct {
	From task.State    `json:"from"`
	To   task.State    `json:"to"`
	Task task.Snapshot `json:"task"`
}

// FailurePayload 记录循环致命错误。
type FailurePayload struct {
	Error string        `json:"error"`
	Task  task.Snapshot `json:"task"`
}

// AlertPayload 记录发出的告警。
type AlertPayload struct {
	Message string `json:"message"`
}

// CancelPayload 记录撤销请求及结果。
type CancelPayload struct {
	Force  bool   `json:"force"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}
