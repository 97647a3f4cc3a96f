package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by Postgres. One row per asset: the asset
// payload is stored as JSON next to the columns the store queries directly
// (expires and the download-URL cache). The primary key on id is the true
// arbiter under concurrent grant issuance for the same id.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore creates a PostgresStore on the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Upsert inserts or replaces the row for the asset. A zero ttl clears any
// previous expiry; the expires column mirrors the record's own deadline.
func (s *PostgresStore) Upsert(ctx context.Context, a *Asset, _ time.Duration) (*Asset, error) {
	stored := *a

	payload, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("encode asset %q: %w", a.ID, err)
	}

	var expires *int64
	if stored.Expires != 0 {
		expires = &stored.Expires
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO assets (id, payload, expires, presigned_url, presigned_url_expires)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, 0))
		 ON CONFLICT (id) DO UPDATE
		 SET payload = EXCLUDED.payload,
		     expires = EXCLUDED.expires,
		     presigned_url = EXCLUDED.presigned_url,
		     presigned_url_expires = EXCLUDED.presigned_url_expires,
		     updated_at = NOW()
		 RETURNING created_at, updated_at`,
		stored.ID, payload, expires, stored.PresignedURL, stored.PresignedURLExpires,
	).Scan(&stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert asset %q: %w", a.ID, err)
	}
	return &stored, nil
}

// Find returns the record for id, evicting it when its own expiry elapsed.
func (s *PostgresStore) Find(ctx context.Context, id string) (*Asset, error) {
	a, err := s.scanRow(s.db.QueryRow(ctx,
		`SELECT payload, expires, presigned_url, presigned_url_expires, created_at, updated_at
		 FROM assets WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find asset %q: %w", id, err)
	}
	if a.ExpiredAt(s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrAssetExpired, id)
	}
	return a, nil
}

// Delete removes the row for id; deleting an absent row is a no-op.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete asset %q: %w", id, err)
	}
	return nil
}

// All enumerates every record.
func (s *PostgresStore) All(ctx context.Context) ([]*Asset, error) {
	rows, err := s.db.Query(ctx,
		`SELECT payload, expires, presigned_url, presigned_url_expires, created_at, updated_at
		 FROM assets`,
	)
	if err != nil {
		return nil, fmt.Errorf("enumerate assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("enumerate assets: %w", err)
	}
	return assets, nil
}

// SaveDownloadURL caches a presigned download URL on the row. Caching for an
// untracked id is a no-op.
func (s *PostgresStore) SaveDownloadURL(ctx context.Context, id, url string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE assets
		 SET presigned_url = $2, presigned_url_expires = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, url, expiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache url for asset %q: %w", id, err)
	}
	return nil
}

// CachedDownloadURL returns the cached URL and its expiry, or empty values
// when nothing is cached.
func (s *PostgresStore) CachedDownloadURL(ctx context.Context, id string) (string, time.Time, error) {
	var url *string
	var expires *int64
	err := s.db.QueryRow(ctx,
		`SELECT presigned_url, presigned_url_expires FROM assets WHERE id = $1`,
		id,
	).Scan(&url, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read url cache for asset %q: %w", id, err)
	}
	if url == nil || *url == "" {
		return "", time.Time{}, nil
	}
	var expiresAt time.Time
	if expires != nil {
		expiresAt = time.UnixMilli(*expires)
	}
	return *url, expiresAt, nil
}

// EvictDownloadURL clears the cached URL.
func (s *PostgresStore) EvictDownloadURL(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE assets
		 SET presigned_url = NULL, presigned_url_expires = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("evict url cache for asset %q: %w", id, err)
	}
	return nil
}

// scanRow decodes one assets row. Column values win over whatever the JSON
// payload carried for the same fields.
func (s *PostgresStore) scanRow(row pgx.Row) (*Asset, error) {
	var (
		payload    []byte
		expires    *int64
		url        *string
		urlExpires *int64
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(&payload, &expires, &url, &urlExpires, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	a := &Asset{}
	if err := json.Unmarshal(payload, a); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	a.Expires = 0
	if expires != nil {
		a.Expires = *expires
	}
	a.PresignedURL = ""
	if url != nil {
		a.PresignedURL = *url
	}
	a.PresignedURLExpires = 0
	if urlExpires != nil {
		a.PresignedURLExpires = *urlExpires
	}
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	return a, nil
}
