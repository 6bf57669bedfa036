package journal

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks a backend from databaseURL: empty selects the in-memory
// store, postgres:// URLs select Postgres, and sqlite: URLs or paths ending
// in .db select SQLite.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	switch {
	case databaseURL == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(strings.TrimPrefix(databaseURL, "sqlite:"), "//"))
	case strings.HasSuffix(databaseURL, ".db"), databaseURL == ":memory:":
		return NewSQLiteStore(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, databaseURL)
	}
}
