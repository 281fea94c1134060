package repository

import (
	"cod-tracker/internal/domain"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type LogRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewLogRepository(sqlDB *sql.DB, logger zerolog.Logger) *LogRepository {
	return &LogRepository{db: sqlDB, logger: logger}
}

func (r *LogRepository) Add(ctx context.Context, kind domain.LogKind, target, message string, data map[string]any) error {
	var encoded any
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode log data: %w", err)
		}
		encoded = string(raw)
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO logs (kind, target, message, data, time) VALUES (?, ?, ?, ?, ?)",
		string(kind), target, message, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

// List returns the newest logs of kind; an empty target matches all.
func (r *LogRepository) List(ctx context.Context, kind domain.LogKind, target string, limit int) ([]domain.LogEntry, error) {
	query := "SELECT id, kind, target, message, data, time FROM logs WHERE kind = ?"
	args := []any{string(kind)}
	if target != "" {
		query += " AND target = ?"
		args = append(args, target)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.LogEntry
	for rows.Next() {
		var (
			e    domain.LogEntry
			kind string
			data sql.NullString
		)
		if err := rows.Scan(&e.ID, &kind, &e.Target, &e.Message, &data, &e.Time); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.Kind = domain.LogKind(kind)
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				r.logger.Warn().Err(err).Int64("id", e.ID).Msg("undecodable log data")
			}
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// ArchiveTask appends a task snapshot to task_logs.
func (r *LogRepository) ArchiveTask(ctx context.Context, task domain.Task, source string) error {
	data, err := json.Marshal(task.Data)
	if err != nil {
		return fmt.Errorf("failed to encode task data: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, name, uno, game_mode, data_type, status, source, data, time, time_started, time_end, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Name, task.Uno, string(task.GameMode), string(task.DataType), string(task.Status),
		source, string(data), task.Time, task.TimeStarted, task.TimeEnd, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to archive task %s: %w", task.Name, err)
	}
	return nil
}

// TaskLogs returns archived tasks, newest first; an empty name matches all.
func (r *LogRepository) TaskLogs(ctx context.Context, name string, limit int) ([]domain.TaskLog, error) {
	query := `SELECT id, task_id, name, uno, game_mode, data_type, status, source, data, time, time_started, time_end, logged_at FROM task_logs`
	var args []any
	if name != "" {
		query += " WHERE name = ?"
		args = append(args, name)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.TaskLog
	for rows.Next() {
		var (
			l                    domain.TaskLog
			gameMode, dataType   string
			status               string
			data                 sql.NullString
			timeStarted, timeEnd sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.Task.ID, &l.Task.Name, &l.Task.Uno, &gameMode, &dataType, &status,
			&l.Source, &data, &l.Task.Time, &timeStarted, &timeEnd, &l.LoggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task log: %w", err)
		}
		l.Task.GameMode = domain.GameMode(gameMode)
		l.Task.DataType = domain.DataType(dataType)
		l.Task.Status = domain.TaskStatus(status)
		if timeStarted.Valid {
			l.Task.TimeStarted = &timeStarted.Time
		}
		if timeEnd.Valid {
			l.Task.TimeEnd = &timeEnd.Time
		}
		if data.Valid {
			_ = json.Unmarshal([]byte(data.String), &l.Task.Data)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
