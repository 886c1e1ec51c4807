package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

func pqInt64Array(ids []int64) interface{} { return pq.Array(ids) }

// CatalogStatus mirrors §3.5's status machine.
type CatalogStatus string

const (
	CatalogUntouched CatalogStatus = "untouched"
	CatalogMarked    CatalogStatus = "marked"
	CatalogClaimed   CatalogStatus = "claimed"
	CatalogPacked    CatalogStatus = "packed"
	CatalogFailed    CatalogStatus = "failed"
	CatalogRetry     CatalogStatus = "retry"
)

// CatalogRow is the in-memory form of a des_source_catalog row (§3.5).
type CatalogRow struct {
	ID             int64
	CreatedAt      time.Time
	DesName        sql.NullString
	DesHash        sql.NullString
	DesShard       sql.NullInt64
	DesStatus      sql.NullString
	SourceBucket   sql.NullString
	SourceKey      sql.NullString
	Status         CatalogStatus
	ClaimedBy      sql.NullString
	ClaimedAt      sql.NullTime
	ErrorMessage   sql.NullString
	RetryCount     int
	DesContainerID sql.NullInt64
}

// SelectUnmarked implements the marker's §4.F step 1: rows whose
// created_at is old enough and whose des_status/name/hash/shard are
// still missing, skip-locked so concurrent marker instances don't
// contend for the same rows.
func (s *Store) SelectUnmarked(ctx context.Context, tx *sql.Tx, maxAge time.Duration, batchSize int) ([]CatalogRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, created_at, des_name, des_hash, des_shard, des_status,
		       source_bucket, source_key, status, claimed_by, claimed_at,
		       error_message, retry_count, des_container_id
		FROM des_source_catalog
		WHERE created_at <= now() - make_interval(secs => $1)
		  AND (des_status IS NULL OR des_status = 'retry'
		       OR des_name IS NULL OR des_hash IS NULL OR des_shard IS NULL)
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, maxAge.Seconds(), batchSize)
	if err != nil {
		return nil, ClassifyDBErr(err)
	}
	defer rows.Close()

	var out []CatalogRow
	for rows.Next() {
		var r CatalogRow
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.DesName, &r.DesHash, &r.DesShard, &r.DesStatus,
			&r.SourceBucket, &r.SourceKey, &r.Status, &r.ClaimedBy, &r.ClaimedAt,
			&r.ErrorMessage, &r.RetryCount, &r.DesContainerID); err != nil {
			return nil, ClassifyDBErr(err)
		}
		out = append(out, r)
	}
	return out, ClassifyDBErr(rows.Err())
}

// BeginTx starts a transaction for the marker's batch (§4.F step 4).
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	return tx, ClassifyDBErr(err)
}

// MarkRow writes the computed name/hash/shard and flips both des_status
// and status to marked (§4.F step 2), so ClaimPending can pick the row
// up; scoped to an in-flight transaction.
func MarkRow(ctx context.Context, tx *sql.Tx, id int64, name, hash string, shard uint32) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE des_source_catalog
		SET des_name=$2, des_hash=$3, des_shard=$4, des_status='marked', status='marked'
		WHERE id=$1
	`, id, name, hash, shard)
	return ClassifyDBErr(err)
}

// RetryRow bumps retry_count and sets des_status=retry for transient
// per-row failures (§4.F step 3), scoped to the in-flight transaction.
func RetryRow(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE des_source_catalog
		SET retry_count = retry_count + 1, des_status='retry'
		WHERE id=$1
	`, id)
	return ClassifyDBErr(err)
}

// DeadLetterRow moves an exhausted row to the dead-letter table and
// marks the catalog row failed (§4.F step 3).
func DeadLetterRow(ctx context.Context, tx *sql.Tx, id int64, errMsg string, retryCount int) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO des_marker_dlq (catalog_entry_id, error_message, retry_count) VALUES ($1, $2, $3)
	`, id, errMsg, retryCount); err != nil {
		return ClassifyDBErr(err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE des_source_catalog SET status='failed', error_message=$2 WHERE id=$1
	`, id, errMsg)
	return ClassifyDBErr(err)
}

// ClaimPending implements the packer's source-provider claim (§6.4):
// atomically select up to limit rows with status='marked' for shard and
// flip them to claimed.
func (s *Store) ClaimPending(ctx context.Context, shard uint32, limit int, holder string) ([]CatalogRow, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, created_at, des_name, des_hash, des_shard, des_status,
		       source_bucket, source_key, status, claimed_by, claimed_at,
		       error_message, retry_count, des_container_id
		FROM des_source_catalog
		WHERE des_shard=$1 AND status='marked'
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, shard, limit)
	if err != nil {
		return nil, ClassifyDBErr(err)
	}
	var out []CatalogRow
	for rows.Next() {
		var r CatalogRow
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.DesName, &r.DesHash, &r.DesShard, &r.DesStatus,
			&r.SourceBucket, &r.SourceKey, &r.Status, &r.ClaimedBy, &r.ClaimedAt,
			&r.ErrorMessage, &r.RetryCount, &r.DesContainerID); err != nil {
			rows.Close()
			return nil, ClassifyDBErr(err)
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, ClassifyDBErr(err)
	}

	ids := make([]int64, len(out))
	for i, r := range out {
		ids[i] = r.ID
	}
	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE des_source_catalog SET status='claimed', claimed_by=$2, claimed_at=now()
			WHERE id = ANY($1)
		`, pqInt64Array(ids), holder); err != nil {
			return nil, ClassifyDBErr(err)
		}
	}
	return out, ClassifyDBErr(tx.Commit())
}

// MarkPacked commits the packer's success path (§6.4 mark_files_packed).
func (s *Store) MarkPacked(ctx context.Context, ids []int64, desNames []string, containerID int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE des_source_catalog
			SET status='packed', des_name=$2, des_container_id=$3
			WHERE id=$1
		`, id, desNames[i], containerID); err != nil {
			return ClassifyDBErr(err)
		}
	}
	return ClassifyDBErr(tx.Commit())
}

// MarkCatalogFailed commits the packer's failure path (§6.4
// mark_files_failed).
func (s *Store) MarkCatalogFailed(ctx context.Context, ids []int64, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE des_source_catalog SET status='failed', error_message=$2
		WHERE id = ANY($1)
	`, pqInt64Array(ids), errMsg)
	return ClassifyDBErr(err)
}

// ResetStaleClaims implements the recovery manager's sweep #1 (§4.I.1):
// a claim whose claimant could not plausibly still be heartbeating is
// released back to 'marked' so the next packer claim picks it up again
// (claims are only ever taken from 'marked' rows, see ClaimPending).
func (s *Store) ResetStaleClaims(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE des_source_catalog SET status='marked', claimed_by=NULL, claimed_at=NULL
		WHERE status='claimed' AND (claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $1))
	`, claimTimeout.Seconds())
	if err != nil {
		return 0, ClassifyDBErr(err)
	}
	n, err := res.RowsAffected()
	return n, ClassifyDBErr(err)
}
