package sqlitestorage_test

import (
	"github.com/OCAP2/campaign/internal/storage"
	sqlitestorage "github.com/OCAP2/campaign/internal/storage/sqlite"
)

// Compile-time interface checks
var (
	_ storage.Backend        = (*sqlitestorage.Backend)(nil)
	_ storage.SessionTracker = (*sqlitestorage.Backend)(nil)
)
