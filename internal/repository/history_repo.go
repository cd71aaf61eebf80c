package repository

import (
	"context"
	"database/sql"
	"time"

	"quakewatch/internal/models"

	"github.com/google/uuid"
)

type HistorySQLite struct {
	db *sql.DB
}

func NewHistorySQLite(db *sql.DB) *HistorySQLite { return &HistorySQLite{db: db} }

var _ HistoryRepo = (*HistorySQLite)(nil)

const (
	insertHistorySQL = `
		INSERT INTO ota_history (id, node_id, node_name, version, status, initiated_by, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	// Closes the newest open entry only; older stragglers stay as they are.
	completeLatestSQL = `
		UPDATE ota_history SET status = ?, completed_at = ?
		WHERE id = (
			SELECT id FROM ota_history
			WHERE node_id = ? AND status = ?
			ORDER BY created_at DESC LIMIT 1
		)
	`

	selectHistorySQL = `
		SELECT id, node_id, node_name, version, status, initiated_by, file_size, created_at, completed_at
		FROM ota_history ORDER BY created_at ASC
	`
)

// Append inserts a new entry. If ID or CreatedAt are empty, they are set.
func (r *HistorySQLite) Append(ctx context.Context, e models.OTAHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}
	if e.Status == "" {
		e.Status = models.OTAInitiated
	}

	_, err := r.db.ExecContext(ctx, insertHistorySQL,
		e.ID,
		e.NodeID,
		e.NodeName,
		e.Version,
		e.Status,
		e.InitiatedBy,
		e.FileSize,
		e.CreatedAt.Format("2006-01-02 15:04:05"),
	)
	return err
}

// CompleteLatest marks the most recent initiated entry for the node with the
// given terminal status and stamps completed_at.
func (r *HistorySQLite) CompleteLatest(ctx context.Context, nodeID int, status string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, completeLatestSQL,
		status,
		at.UTC().Format("2006-01-02 15:04:05"),
		nodeID,
		models.OTAInitiated,
	)
	return err
}

// List returns the full log ordered oldest first.
func (r *HistorySQLite) List(ctx context.Context) ([]models.OTAHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, selectHistorySQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.OTAHistoryEntry, 0, 32)
	for rows.Next() {
		var (
			e           models.OTAHistoryEntry
			completedAt sql.NullTime
		)
		if err := rows.Scan(
			&e.ID,
			&e.NodeID,
			&e.NodeName,
			&e.Version,
			&e.Status,
			&e.InitiatedBy,
			&e.FileSize,
			&e.CreatedAt,
			&completedAt,
		); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if completedAt.Valid {
			t := completedAt.Time.UTC()
			e.CompletedAt = &t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
