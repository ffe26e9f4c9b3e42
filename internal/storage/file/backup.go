package filestorage

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// backupPeriods are the age buckets, largest first. Within a bucket only
// the newest backup is kept; backups younger than the smallest period are
// all kept.
var backupPeriods = []time.Duration{
	28 * 24 * time.Hour,
	7 * 24 * time.Hour,
	24 * time.Hour,
	time.Hour,
	10 * time.Minute,
	time.Minute,
}

type backupFile struct {
	ts   int64
	path string
}

type bucket struct {
	period time.Duration
	index  int64
}

// rotate moves path to path<unix seconds> and thins out older backups.
func rotate(path string, now time.Time) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	name := filepath.Base(path)
	if err := os.Rename(path, path+strconv.FormatInt(now.Unix(), 10)); err != nil {
		return fmt.Errorf("failed to move snapshot to backup: %w", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return err
	}

	byAge := make(map[bucket][]backupFile)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		suffix, ok := strings.CutPrefix(e.Name(), name)
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		age := now.Sub(time.Unix(ts, 0))
		for _, p := range backupPeriods {
			if age > p {
				k := bucket{period: p, index: int64(age / p)}
				byAge[k] = append(byAge[k], backupFile{ts: ts, path: filepath.Join(filepath.Dir(path), e.Name())})
				break
			}
		}
	}

	for _, files := range byAge {
		slices.SortFunc(files, func(a, b backupFile) int { return cmp.Compare(b.ts, a.ts) })
		for _, f := range files[1:] {
			if err := os.Remove(f.path); err != nil {
				return err
			}
		}
	}
	return nil
}
