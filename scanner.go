package stowfs

import (
	"context"
	"fmt"
	"log/slog"
)

// Scanner is the scanner of an object store backed storage. The cache is
// the only source of truth, so scanning the namespace finds nothing new;
// all that is left is repairing rows whose size never got recorded.
type Scanner struct {
	storage *Storage
	logger  *slog.Logger
}

func NewScanner(s *Storage, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{storage: s, logger: logger}
}

// ScanFile does nothing and returns no data.
func (sc *Scanner) ScanFile(context.Context, string) (*Entry, error) {
	return nil, nil
}

// Scan does nothing and returns no data.
func (sc *Scanner) Scan(context.Context, string, bool) (*Entry, error) {
	return nil, nil
}

// RepairResult summarizes one background repair pass.
type RepairResult struct {
	Files   int
	Folders int
	Skipped []string
}

// BackgroundScan repairs every row with an incomplete size. Rows are taken
// deepest path first so files are fixed before the directories summing
// them. An entry that cannot be resolved is skipped and the pass moves on;
// each row is visited at most once per pass.
func (sc *Scanner) BackgroundScan(ctx context.Context) (RepairResult, error) {
	var res RepairResult
	cache := sc.storage.cache

	pending, err := cache.ListIncomplete(ctx)
	if err != nil {
		return res, fmt.Errorf("background scan: %w", err)
	}

	lastPath := ""
	for i, e := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if i > 0 && e.Path == lastPath {
			break
		}
		lastPath = e.Path

		// Fixing an earlier child may already have completed this row.
		cur, err := cache.GetByID(ctx, e.ID)
		if err != nil || !cur.Incomplete() {
			continue
		}

		if cur.IsDir() {
			if err := cache.CorrectFolderSize(ctx, cur.Path); err != nil {
				sc.logger.Warn("failed to correct folder size", "path", cur.Path, "err", err)
				res.Skipped = append(res.Skipped, cur.Path)
				continue
			}
			res.Folders++
			continue
		}

		size, err := statObject(ctx, sc.storage.store, sc.storage.urn(cur.ID))
		if err != nil {
			sc.logger.Warn("failed to resolve object size", "path", cur.Path, "err", err)
			res.Skipped = append(res.Skipped, cur.Path)
			continue
		}

		if err := cache.Update(ctx, cur.ID, EntryUpdate{Size: &size}); err != nil {
			sc.logger.Warn("failed to record object size", "path", cur.Path, "err", err)
			res.Skipped = append(res.Skipped, cur.Path)
			continue
		}
		res.Files++
	}

	sc.logger.Info("background scan finished", "files", res.Files, "folders", res.Folders, "skipped", len(res.Skipped))
	return res, nil
}
