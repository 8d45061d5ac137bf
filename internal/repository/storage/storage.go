package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trunov/rote-media/internal/entities"
)

var ErrNotFound = errors.New("attachment not found")

type dbStorage struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*dbStorage, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &dbStorage{dbpool: pool}, nil
}

func (s *dbStorage) Ping(ctx context.Context) error {
	return s.dbpool.Ping(ctx)
}

func (s *dbStorage) Close() {
	s.dbpool.Close()
}

const attachmentColumns = `id, user_id, key, url, compress_key, compress_url, mime_type, size, width, height, hash, original_name, created_timestamp`

func scanAttachment(row pgx.Row) (entities.Attachment, error) {
	var a entities.Attachment
	err := row.Scan(&a.ID, &a.UserID, &a.Key, &a.URL, &a.CompressKey, &a.CompressURL,
		&a.MimeType, &a.Size, &a.Width, &a.Height, &a.Hash, &a.OriginalName, &a.CreatedTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (s *dbStorage) InsertAttachment(ctx context.Context, a entities.Attachment) (entities.Attachment, error) {
	row := s.dbpool.QueryRow(ctx, `
		INSERT INTO attachments (user_id, key, url, compress_key, compress_url, mime_type, size, width, height, hash, original_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+attachmentColumns,
		a.UserID, a.Key, a.URL, a.CompressKey, a.CompressURL, a.MimeType, a.Size, a.Width, a.Height, a.Hash, a.OriginalName,
	)
	out, err := scanAttachment(row)
	if err != nil {
		return out, fmt.Errorf("insert attachment %s: %w", a.Key, err)
	}
	return out, nil
}

// SetCompressed records the compressed variant of the attachment stored at key.
func (s *dbStorage) SetCompressed(ctx context.Context, key, compressKey, compressURL string) error {
	tag, err := s.dbpool.Exec(ctx, `
		UPDATE attachments SET compress_key = $2, compress_url = $3, updated_timestamp = now()
		WHERE key = $1`, key, compressKey, compressURL)
	if err != nil {
		return fmt.Errorf("update attachment %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
