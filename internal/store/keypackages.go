package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// KeyPackage is a locally generated key package awaiting or after upload.
type KeyPackage struct {
	ID         string
	Data       []byte
	LastResort bool
}

// StoreKeyPackages inserts freshly generated, not yet live key packages.
func StoreKeyPackages(ctx context.Context, ex Executor, kps []KeyPackage, now time.Time) error {
	for _, kp := range kps {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO key_packages (key_package_id, data, last_resort, live, created_at)
			VALUES (?, ?, ?, 0, ?)
			ON CONFLICT(key_package_id) DO NOTHING
		`, kp.ID, kp.Data, kp.LastResort, Millis(now))
		if err != nil {
			return fmt.Errorf("store key package %s: %w", kp.ID, err)
		}
	}
	return nil
}

// DeleteKeyPackages removes the given key packages.
func DeleteKeyPackages(ctx context.Context, ex Executor, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM key_packages WHERE key_package_id IN (` + placeholders(len(ids)) + `)`
	if _, err := ex.ExecContext(ctx, query, stringArgs(ids)...); err != nil {
		return fmt.Errorf("delete key packages: %w", err)
	}
	return nil
}

// ReplaceLiveKeyPackages deletes every currently live key package and marks
// the given ones live. Run it only after the remote accepted the upload.
func ReplaceLiveKeyPackages(ctx context.Context, ex Executor, ids []string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM key_packages WHERE live = 1`); err != nil {
		return fmt.Errorf("delete stale key packages: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE key_packages SET live = 1 WHERE key_package_id IN (` + placeholders(len(ids)) + `)`
	if _, err := ex.ExecContext(ctx, query, stringArgs(ids)...); err != nil {
		return fmt.Errorf("mark key packages live: %w", err)
	}
	return nil
}

// CountKeyPackages returns the number of live and pending key packages.
func CountKeyPackages(ctx context.Context, ex Executor) (live, pending int, err error) {
	err = ex.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(live), 0), COALESCE(SUM(1 - live), 0) FROM key_packages
	`).Scan(&live, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("count key packages: %w", err)
	}
	return live, pending, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
