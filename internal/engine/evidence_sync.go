package engine

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
)

// SyncReport compares the evidence store with item references.
type SyncReport struct {
	Orphaned []string `json:"orphaned"`
	Missing  []string `json:"missing"`
	Removed  []string `json:"removed"`
}

// SyncEvidence reports files nothing references and references whose file
// is gone. With remove set, orphaned files are deleted. Rows are never
// changed.
func (e Engine) SyncEvidence(ctx context.Context, remove bool) (SyncReport, error) {
	rep := SyncReport{Orphaned: []string{}, Missing: []string{}, Removed: []string{}}
	files, err := e.Evidence.List(ctx, "")
	if err != nil {
		return rep, StorageError{Op: "list", Err: err}
	}
	refs, err := e.Repo.EvidencePaths(ctx, "")
	if err != nil {
		return rep, err
	}
	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		onDisk[f] = true
	}
	referenced := make(map[string]bool, len(refs))
	for _, r := range refs {
		referenced[r] = true
		if !onDisk[r] {
			rep.Missing = append(rep.Missing, r)
		}
	}
	for _, f := range files {
		if !referenced[f] {
			rep.Orphaned = append(rep.Orphaned, f)
		}
	}
	sort.Strings(rep.Missing)
	sort.Strings(rep.Orphaned)
	if !remove {
		return rep, nil
	}
	for _, f := range rep.Orphaned {
		if err := e.Evidence.Delete(ctx, f); err != nil {
			e.logError("SyncEvidence", "remove orphaned evidence", logrus.Fields{"key": f}, err)
			continue
		}
		rep.Removed = append(rep.Removed, f)
	}
	e.Logger.WithFields(logrus.Fields{
		"orphaned": len(rep.Orphaned),
		"missing":  len(rep.Missing),
		"removed":  len(rep.Removed),
	}).Info("evidence sync finished")
	return rep, nil
}
