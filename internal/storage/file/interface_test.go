package filestorage_test

import (
	"github.com/OCAP2/campaign/internal/storage"
	filestorage "github.com/OCAP2/campaign/internal/storage/file"
)

// Compile-time interface check
var _ storage.Backend = (*filestorage.Backend)(nil)
