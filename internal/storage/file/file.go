// Package filestorage keeps the campaign snapshot in a single JSON file,
// optionally gzip compressed, with age-bucketed backups of earlier saves.
package filestorage

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/pkg/core"
)

// document is the on-disk layout: snapshot metadata plus the state.
type document struct {
	core.Snapshot
	State json.RawMessage `json:"state"`
}

// Backend writes snapshots to <dir>/<campaign>.json[.gz].
type Backend struct {
	mu       sync.Mutex
	cfg      config.FileConfig
	campaign string
	now      func() time.Time
	log      *slog.Logger
}

// New creates a new file storage backend.
func New(cfg config.FileConfig, campaign string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:      cfg,
		campaign: campaign,
		now:      time.Now,
		log:      logger,
	}
}

// Path is the file the newest snapshot lives in.
func (b *Backend) Path() string {
	name := sanitize(b.campaign) + ".json"
	if b.cfg.Compress {
		name += ".gz"
	}
	return filepath.Join(b.cfg.Dir, name)
}

func sanitize(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, ":", "_")
	return strings.ReplaceAll(name, string(filepath.Separator), "_")
}

// Init ensures the output directory exists.
func (b *Backend) Init() error {
	if err := os.MkdirAll(b.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	return nil
}

// Save writes snap to a temp file, rotates the current file into the
// backups and renames the temp file into place.
func (b *Backend) Save(_ context.Context, snap *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc := document{Snapshot: *snap, State: json.RawMessage(snap.Data)}
	if doc.Campaign == "" {
		doc.Campaign = b.campaign
	}

	path := b.Path()
	tmp := path + ".tmp"
	if err := b.writeFile(tmp, doc); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if b.cfg.Backups {
		if err := rotate(path, b.now()); err != nil {
			b.log.Error("Failed to rotate backup files", "error", err)
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

func (b *Backend) writeFile(path string, doc document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gzWriter *gzip.Writer
	if b.cfg.Compress {
		gzWriter = gzip.NewWriter(f)
		w = gzWriter
	}

	if err := json.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if gzWriter != nil {
		if err := gzWriter.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	return f.Sync()
}

// Load reads the newest snapshot. Compressed and plain files are both
// accepted regardless of the configured format.
func (b *Backend) Load(_ context.Context) (*core.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.Path()
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		// the other format may be on disk after a config change
		alt := strings.TrimSuffix(path, ".gz")
		if alt == path {
			alt = path + ".gz"
		}
		f, err = os.Open(alt)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	return decode(f)
}

// gzipMagic starts every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

func decode(r io.Reader) (*core.Snapshot, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if head, err := br.Peek(2); err == nil && bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	var doc document
	if err := json.NewDecoder(src).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	snap := doc.Snapshot
	snap.Data = []byte(doc.State)
	return &snap, nil
}
