package versions

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("no version recorded")

// Record is the last verified major version of one installed dependency.
type Record struct {
	Key       string    `json:"key"`
	Major     int       `json:"major"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists version records across sessions.
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	Set(ctx context.Context, key string, major int) error
	All(ctx context.Context) ([]Record, error)
	Close() error
}

// Meets returns the record for key and whether it is at least requiredMajor.
// It returns ErrNotFound when nothing is recorded for key.
func Meets(ctx context.Context, s Store, key string, requiredMajor int) (Record, bool, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	return rec, rec.Major >= requiredMajor, nil
}
