package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/persistence/file"
	"github.com/ordino-dev/ordino/pkg/persistence/postgresql"
)

// NewPersistence selects the state store backend from the database URL
// scheme: postgres:// (or postgresql://) picks the SQL backend, anything
// else is treated as a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
