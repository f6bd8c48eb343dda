package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade-keeper/internal/store"
	"trade-keeper/internal/task"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	task_id INTEGER,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_task ON monitor_events(task_id)`,
}

// Service 负责持久化任务事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx, schema...); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	var taskID interface{}
	if event.TaskID != 0 {
		taskID = event.TaskID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, task_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), taskID, string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, event Event) {
	// 进程退出时仍需落盘最后的状态
	if err := s.Record(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("type", string(event.Type)), zap.Int64("task_id", event.TaskID), zap.Error(err))
	}
}

// RecordSubmitted 记录新任务。
func (s *Service) RecordSubmitted(ctx context.Context, snap task.Snapshot) {
	s.record(ctx, Event{Type: EventTaskSubmitted, TaskID: snap.ID, Payload: SubmittedPayload{Task: snap}})
}

// RecordTransition 记录状态迁移。
func (s *Service) RecordTransition(ctx context.Context, snap task.Snapshot, from task.State) {
	s.record(ctx, Event{
		Type:    EventStateChanged,
		TaskID:  snap.ID,
		Payload: TransitionPayload{From: from, To: snap.State, Task: snap},
	})
}

// RecordFailure 记录循环致命错误。
func (s *Service) RecordFailure(ctx context.Context, snap task.Snapshot, err error) {
	s.record(ctx, Event{
		Type:    EventTaskFailed,
		TaskID:  snap.ID,
		Payload: FailurePayload{Error: err.Error(), Task: snap},
	})
}

// RecordAlert 记录发出的告警。
func (s *Service) RecordAlert(ctx context.Context, snap task.Snapshot, message string) {
	s.record(ctx, Event{Type: EventAlert, TaskID: snap.ID, Payload: AlertPayload{Message: message}})
}

// RecordCancel 记录撤销结果。
func (s *Service) RecordCancel(ctx context.Context, id int64, force bool, result string, err error) {
	payload := CancelPayload{Force: force, Result: result}
	if err != nil {
		payload.Error = err.Error()
	}
	s.record(ctx, Event{Type: EventTaskCancelled, TaskID: id, Payload: payload})
}

// ListEvents 按类型检索最近事件，eventType 为空时返回全部类型。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, task_id, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			taskID  sql.NullInt64
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &taskID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = s.now()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			TaskID:    taskID.Int64,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
