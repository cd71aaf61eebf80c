package repository

import (
	"context"
	"database/sql"
	"time"

	"quakewatch/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

// HistoryRepo is the append-only OTA log. Entries are appended as initiated
// and closed exactly once via CompleteLatest.
type HistoryRepo interface {
	Append(ctx context.Context, e models.OTAHistoryEntry) error
	// CompleteLatest closes the most recent still-initiated entry for the
	// node with the given terminal status. Closing when no entry is open is
	// not an error.
	CompleteLatest(ctx context.Context, nodeID int, status string, at time.Time) error
	List(ctx context.Context) ([]models.OTAHistoryEntry, error)
}

type EventRepo interface {
	Append(ctx context.Context, e models.ServerEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.ServerEvent, error)
}

type Repository struct {
	History HistoryRepo
	Events  EventRepo
	Auth    Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		History: NewHistorySQLite(db),
		Events:  NewEventSQLite(db),
		Auth:    NewUserRepository(db),
	}
}
