package versions

import (
	"context"
	"strings"
)

// NewStore picks postgres when a database URL is configured, a JSON file when
// a path is given, and process memory otherwise.
func NewStore(ctx context.Context, databaseURL, path string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(path) != "" {
		return NewFileStore(path)
	}
	return NewInMemoryStore(), nil
}
