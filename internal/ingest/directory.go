package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/receipts-inbox/constants"
)

type FileResult struct {
	Path        string
	Fingerprint string
	Outcome     Outcome
	Err         string
}

type DirStats struct {
	Scanned    uint32
	Matched    uint32
	Queued     uint32
	Duplicates uint32
	Rejected   uint32
	Failed     uint32
}

// IngestDirectory walks root and hands every mail drop file to HandleFile.
// Returns per-file results + aggregate stats.
func (d *MailDrop) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var (
		results []FileResult
		stats   DirStats
	)
	err := filepath.WalkDir(root, func(path string, de fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && IsHidden(path) && path != root {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if de.IsDir() || !constants.IsMailDropFile(path) {
			return nil
		}
		stats.Matched++

		res, err := d.HandleFile(ctx, path)
		results = append(results, res)
		switch {
		case err != nil && res.Err == "":
			stats.Failed++
		case res.Err != "":
			stats.Rejected++
		case res.Outcome == OutcomeDuplicate:
			stats.Duplicates++
		case res.Outcome == OutcomeQueued:
			stats.Queued++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
