package store

import (
	"database/sql"
	"fmt"
)

// CreateTask inserts a new relay task. TaskID is generated if empty.
func (s *Store) CreateTask(task *RelayTask) (*RelayTask, error) {
	if task.TaskID == "" {
		task.TaskID = newTaskID()
	}
	if task.Status == "" {
		task.Status = TaskStatusReceived
	}

	query := `
	INSERT INTO relay_tasks (task_id, idempotency_key, trace_id, chat_jid, sender_name, status, content_in)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	// Pass NULL for empty idempotency_key to avoid UNIQUE constraint on empty strings.
	var idempKey interface{}
	if task.IdempotencyKey != "" {
		idempKey = task.IdempotencyKey
	}
	result, err := s.db.Exec(query,
		task.TaskID,
		idempKey,
		task.TraceID,
		task.ChatJID,
		task.SenderName,
		task.Status,
		task.ContentIn,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, _ := result.LastInsertId()
	task.ID = id
	return s.GetTask(task.TaskID)
}

// GetTask returns a task by task_id.
func (s *Store) GetTask(taskID string) (*RelayTask, error) {
	query := `SELECT id, task_id, COALESCE(idempotency_key,''), COALESCE(trace_id,''),
		chat_jid, COALESCE(sender_name,''), status, COALESCE(content_in,''), COALESCE(error_text,''),
		created_at, updated_at
	FROM relay_tasks WHERE task_id = ?`

	var t RelayTask
	err := s.db.QueryRow(query, taskID).Scan(
		&t.ID, &t.TaskID, &t.IdempotencyKey, &t.TraceID,
		&t.ChatJID, &t.SenderName, &t.Status, &t.ContentIn, &t.ErrorText,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// GetTaskByIdempotencyKey returns a task by its idempotency key, or
// (nil, nil) when no task carries the key yet.
func (s *Store) GetTaskByIdempotencyKey(key string) (*RelayTask, error) {
	if key == "" {
		return nil, nil
	}
	query := `SELECT id, task_id, COALESCE(idempotency_key,''), COALESCE(trace_id,''),
		chat_jid, COALESCE(sender_name,''), status, COALESCE(content_in,''), COALESCE(error_text,''),
		created_at, updated_at
	FROM relay_tasks WHERE idempotency_key = ?`

	var t RelayTask
	err := s.db.QueryRow(query, key).Scan(
		&t.ID, &t.TaskID, &t.IdempotencyKey, &t.TraceID,
		&t.ChatJID, &t.SenderName, &t.Status, &t.ContentIn, &t.ErrorText,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by idempotency key: %w", err)
	}
	return &t, nil
}

// UpdateTaskStatus updates a task's status and error_text.
func (s *Store) UpdateTaskStatus(taskID, status, errorText string) error {
	query := `UPDATE relay_tasks SET status = ?, error_text = ?, updated_at = datetime('now') WHERE task_id = ?`
	_, err := s.db.Exec(query, status, errorText, taskID)
	return err
}

// ListTasks returns tasks filtered by optional status and chat, newest
// first.
func (s *Store) ListTasks(status, chatJID string, limit int) ([]RelayTask, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, task_id, COALESCE(idempotency_key,''), COALESCE(trace_id,''),
		chat_jid, COALESCE(sender_name,''), status, COALESCE(content_in,''), COALESCE(error_text,''),
		created_at, updated_at
	FROM relay_tasks WHERE 1=1`
	args := []interface{}{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if chatJID != "" {
		query += " AND chat_jid = ?"
		args = append(args, chatJID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []RelayTask
	for rows.Next() {
		var t RelayTask
		if err := rows.Scan(
			&t.ID, &t.TaskID, &t.IdempotencyKey, &t.TraceID,
			&t.ChatJID, &t.SenderName, &t.Status, &t.ContentIn, &t.ErrorText,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
