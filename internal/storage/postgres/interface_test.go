package postgres_test

import (
	"github.com/OCAP2/campaign/internal/storage"
	postgres "github.com/OCAP2/campaign/internal/storage/postgres"
)

// Compile-time interface checks
var (
	_ storage.Backend        = (*postgres.Backend)(nil)
	_ storage.SessionTracker = (*postgres.Backend)(nil)
)
