package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Manifest describes the data files of one partition. Downstream consumers
// read it instead of listing the partition.
type Manifest struct {
	Files      []string  `json:"files"`
	TotalCount int       `json:"total_count"`
	BatchCount int       `json:"batch_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UpdateManifest records newFiles and newCount in the partition manifest at
// prefix. A full refresh replaces the manifest; otherwise new entries merge
// into the existing one (a missing manifest starts fresh either way).
func UpdateManifest(ctx context.Context, store ObjectStore, prefix string, newFiles []string, newCount int, runStart time.Time, fullRefresh bool) (Manifest, error) {
	key := prefix + "/" + ManifestName

	manifest := Manifest{Files: []string{}, CreatedAt: runStart}

	if !fullRefresh {
		data, err := store.Get(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			// First run for this partition.
		case err != nil:
			return Manifest{}, fmt.Errorf("read manifest %s: %w", key, err)
		default:
			if err := json.Unmarshal(data, &manifest); err != nil {
				return Manifest{}, fmt.Errorf("decode manifest %s: %w", key, err)
			}
		}
	}

	manifest.Files = append(manifest.Files, newFiles...)
	manifest.TotalCount += newCount
	manifest.BatchCount = len(manifest.Files)
	manifest.UpdatedAt = runStart

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest %s: %w", key, err)
	}

	if err := store.Put(ctx, key, data, PutOptions{ContentType: "application/json"}); err != nil {
		return Manifest{}, fmt.Errorf("write manifest %s: %w", key, err)
	}

	return manifest, nil
}

// ReadManifest loads the manifest at prefix. Returns ErrNotFound if the
// partition has none.
func ReadManifest(ctx context.Context, store ObjectStore, prefix string) (Manifest, error) {
	key := prefix + "/" + ManifestName

	data, err := store.Get(ctx, key)
	if err != nil {
		return Manifest{}, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	return manifest, nil
}
