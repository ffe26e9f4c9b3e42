package gormstorage_test

import (
	"github.com/OCAP2/campaign/internal/storage"
	gormstorage "github.com/OCAP2/campaign/internal/storage/gorm"
)

// Compile-time interface checks
var (
	_ storage.Backend        = (*gormstorage.Backend)(nil)
	_ storage.SessionTracker = (*gormstorage.Backend)(nil)
)
