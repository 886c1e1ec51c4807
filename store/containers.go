package store

import (
	"context"
	"database/sql"
	"time"
)

// ContainerStatus mirrors §3.4's status enum.
type ContainerStatus string

const (
	StatusWriting  ContainerStatus = "writing"
	StatusUploaded ContainerStatus = "uploaded"
	StatusFailed   ContainerStatus = "failed"
)

// Container is the in-memory form of a des_containers row (§3.4).
type Container struct {
	ID          int64
	ShardID     uint32
	Day         time.Time
	Status      ContainerStatus
	Key         string
	FileCount   uint64
	DataBytes   uint64
	CreatedAt   time.Time
	FinalizedAt sql.NullTime
}

// CreateContainer inserts a new `writing` row when a per-shard writer
// opens for the day (§4.H step 3).
func (s *Store) CreateContainer(ctx context.Context, shard uint32, day time.Time, key string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO des_containers (shard_id, day, status, key, file_count, data_bytes)
		VALUES ($1, $2, 'writing', $3, 0, 0)
		RETURNING id
	`, shard, day, key).Scan(&id)
	return id, ClassifyDBErr(err)
}

// Checkpoint updates a writing container's running counters (§4.H
// step 6); it never changes status.
func (s *Store) Checkpoint(ctx context.Context, id int64, fileCount, dataBytes uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE des_containers SET file_count=$2, data_bytes=$3 WHERE id=$1
	`, id, fileCount, dataBytes)
	return ClassifyDBErr(err)
}

// FinalizeUploaded transitions a container to uploaded with final
// counters (§4.H "Finalise writer" step 3).
func (s *Store) FinalizeUploaded(ctx context.Context, id int64, fileCount, dataBytes uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE des_containers
		SET status='uploaded', file_count=$2, data_bytes=$3, finalized_at=now()
		WHERE id=$1
	`, id, fileCount, dataBytes)
	return ClassifyDBErr(err)
}

// MarkFailed transitions a container to failed, e.g. from a
// crash-recovery sweep.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE des_containers SET status='failed' WHERE id=$1`, id)
	return ClassifyDBErr(err)
}

// GetContainer fetches one row by id.
func (s *Store) GetContainer(ctx context.Context, id int64) (Container, error) {
	var c Container
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shard_id, day, status, key, file_count, data_bytes, created_at, finalized_at
		FROM des_containers WHERE id=$1
	`, id).Scan(&c.ID, &c.ShardID, &c.Day, &c.Status, &c.Key, &c.FileCount, &c.DataBytes, &c.CreatedAt, &c.FinalizedAt)
	return c, ClassifyDBErr(err)
}

// StaleWriting returns writing containers older than grace, for the
// recovery manager's partial-container sweep (§4.I.2).
func (s *Store) StaleWriting(ctx context.Context, grace time.Duration) ([]Container, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shard_id, day, status, key, file_count, data_bytes, created_at, finalized_at
		FROM des_containers
		WHERE status='writing' AND created_at < now() - make_interval(secs => $1)
	`, grace.Seconds())
	if err != nil {
		return nil, ClassifyDBErr(err)
	}
	defer rows.Close()

	var out []Container
	for rows.Next() {
		var c Container
		if err := rows.Scan(&c.ID, &c.ShardID, &c.Day, &c.Status, &c.Key, &c.FileCount, &c.DataBytes, &c.CreatedAt, &c.FinalizedAt); err != nil {
			return nil, ClassifyDBErr(err)
		}
		out = append(out, c)
	}
	return out, ClassifyDBErr(rows.Err())
}

// AllContainers streams every row, for the integrity sweep (§4.I.4).
func (s *Store) AllContainers(ctx context.Context) ([]Container, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shard_id, day, status, key, file_count, data_bytes, created_at, finalized_at
		FROM des_containers
	`)
	if err != nil {
		return nil, ClassifyDBErr(err)
	}
	defer rows.Close()

	var out []Container
	for rows.Next() {
		var c Container
		if err := rows.Scan(&c.ID, &c.ShardID, &c.Day, &c.Status, &c.Key, &c.FileCount, &c.DataBytes, &c.CreatedAt, &c.FinalizedAt); err != nil {
			return nil, ClassifyDBErr(err)
		}
		out = append(out, c)
	}
	return out, ClassifyDBErr(rows.Err())
}

// FixFileCount repairs a drifted file_count column during the
// integrity sweep (§4.I.4).
func (s *Store) FixFileCount(ctx context.Context, id int64, fileCount uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE des_containers SET file_count=$2 WHERE id=$1`, id, fileCount)
	return ClassifyDBErr(err)
}
