package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// AcquireLease takes the named lease for owner until ttl from now. It
// reports false when another owner holds an unexpired lease. An owner
// acquiring a lease it already holds extends it.
func (s *SQLiteStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := s.clock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at <= ?
	`, key, owner, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return n > 0, nil
}

// ReleaseLease drops the lease if owner still holds it.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, key, owner string) error {
	_, err := execBuilt(ctx, s.db, sq.Delete("leases").Where(sq.Eq{"name": key, "owner": owner}))
	if err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}
