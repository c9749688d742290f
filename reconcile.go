package stowfs

import (
	"context"
	"fmt"
	"strings"
)

// ReconcileReport lists the differences between cache and backend.
type ReconcileReport struct {
	// Orphans are objects with no cache row pointing at them.
	Orphans []ObjectInfo `json:"orphans" yaml:"orphans"`
	// Dangling are file rows whose object is missing.
	Dangling []Entry `json:"dangling" yaml:"dangling"`
	Checked  int     `json:"checked" yaml:"checked"`
}

// Reconcile compares the cache with the objects under prefix. It only
// reports; nothing is deleted or created. The store must implement
// ObjectLister. Objects written by other storages sharing the same
// backend and prefix show up as orphans.
func Reconcile(ctx context.Context, s *Storage, prefix string) (ReconcileReport, error) {
	var report ReconcileReport

	lister, ok := s.store.(ObjectLister)
	if !ok {
		return report, fmt.Errorf("reconcile %s: listing objects: %w", s.id, ErrNotSupported)
	}

	objects, err := lister.ListObjects(ctx, prefix)
	if err != nil {
		return report, fmt.Errorf("reconcile %s: %w", s.id, err)
	}

	present := make(map[string]ObjectInfo, len(objects))
	for _, o := range objects {
		present[o.URN] = o
	}

	referenced := make(map[string]struct{})
	err = walk(ctx, s.cache, "", func(e Entry) error {
		if e.IsDir() {
			return nil
		}
		report.Checked++
		urn := s.urn(e.ID)
		if !strings.HasPrefix(urn, prefix) {
			return nil
		}
		referenced[urn] = struct{}{}
		if _, ok := present[urn]; !ok {
			report.Dangling = append(report.Dangling, e)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("reconcile %s: %w", s.id, err)
	}

	for _, o := range objects {
		if _, ok := referenced[o.URN]; !ok {
			report.Orphans = append(report.Orphans, o)
		}
	}

	return report, nil
}

// walk visits every entry below dir, parents before children.
func walk(ctx context.Context, cache Cache, dir string, fn func(Entry) error) error {
	children, err := cache.GetFolderContents(ctx, dir)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		if c.IsDir() {
			if err := walk(ctx, cache, c.Path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
