package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/logging"
	"github.com/OCAP2/campaign/internal/storage"
	"github.com/OCAP2/campaign/pkg/core"

	"github.com/caarlos0/env/v11"
)

// runCLI runs a one shot maintenance command against the configured
// snapshot store.
func runCLI(args []string) error {
	var pe processEnv
	if err := env.Parse(&pe); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := config.Load(pe.ConfigDir); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config, using defaults:", err)
	}

	logs := logging.NewSlogManager()
	logs.Setup(nil, "warn", nil)

	backend, err := storage.NewBackend(storageConfig(pe), logs.Component("storage"))
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return err
	}
	defer backend.Close()

	ctx := context.Background()
	switch strings.ToLower(args[0]) {
	case "summary":
		snap, err := backend.Load(ctx)
		if err != nil {
			return err
		}
		return printSummary(os.Stdout, snap)
	case "export":
		snap, err := backend.Load(ctx)
		if err != nil {
			return err
		}
		out := io.Writer(os.Stdout)
		if len(args) > 1 {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return exportSnapshot(out, snap)
	default:
		return fmt.Errorf("unknown command %q, expected summary or export", args[0])
	}
}

func printSummary(w io.Writer, snap *core.Snapshot) error {
	_, err := fmt.Fprintf(w, "snapshot %s taken %s\n  objectives %d\n  groups %d\n  units %d\n  players %d\n",
		snap.ID,
		snap.TakenAt.UTC().Format("2006-01-02 15:04:05"),
		snap.Summary.Objectives,
		snap.Summary.Groups,
		snap.Summary.Units,
		snap.Summary.Players,
	)
	return err
}

// exportSnapshot writes the persisted state as indented JSON.
func exportSnapshot(w io.Writer, snap *core.Snapshot) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, snap.Data, "", "  "); err != nil {
		return fmt.Errorf("snapshot %s is not valid JSON: %w", snap.ID, err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
