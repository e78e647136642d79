package db

import (
	"context"
	"errors"
	"time"

	"github.com/RichardoC/persona-chat/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Store keeps conversation sessions for the lifetime of the process. Turns
// of a session are returned in append order.
type Store interface {
	Create(ctx context.Context) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	AppendTurn(ctx context.Context, id string, turn models.Turn) error
	// RemoveLastTurn drops the most recent turn of the session.
	RemoveLastTurn(ctx context.Context, id string) error
	Turns(ctx context.Context, id string) ([]models.Turn, error)
	// Expire deletes sessions idle since before cutoff and reports how many.
	Expire(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
