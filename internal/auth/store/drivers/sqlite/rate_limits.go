package sqlite

import (
	"context"
	"time"
)

type rateLimitsRepo struct {
	db dbtx
}

// IncrWithin increments the counter for key in the window starting at
// windowStart, but never past max. The capped upsert is a single statement,
// so concurrent callers can never over-count: the conflict branch only fires
// while the stored count is below the cap, and a zero row count means the
// bucket is full.
func (r *rateLimitsRepo) IncrWithin(ctx context.Context, key string, windowStart time.Time, max int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rate_limit_buckets (bucket_key, count, window_start)
		VALUES (?, 1, ?)
		ON CONFLICT(bucket_key) DO UPDATE SET
			count = CASE WHEN rate_limit_buckets.window_start = excluded.window_start
				THEN rate_limit_buckets.count + 1 ELSE 1 END,
			window_start = excluded.window_start
		WHERE rate_limit_buckets.window_start != excluded.window_start
			OR rate_limit_buckets.count < ?`,
		key, windowStart.UTC(), max)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *rateLimitsRepo) DeleteStaleBuckets(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM rate_limit_buckets WHERE window_start < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
