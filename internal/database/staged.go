package database

import (
	"context"
	"fmt"
	"time"
)

// StagedFile is one file saved to the staging area
type StagedFile struct {
	Path        string
	ContentType string
	Size        int64
	CRC32       uint32
	MD5         string
	SavedAt     time.Time
}

// UpsertStagedFile records f, replacing any previous row for the same path
func (d *Database) UpsertStagedFile(ctx context.Context, f StagedFile) error {
	_, err := d.Exec(ctx, `INSERT INTO staged_files (path, content_type, size, crc32, md5, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			content_type = excluded.content_type,
			size = excluded.size,
			crc32 = excluded.crc32,
			md5 = excluded.md5,
			saved_at = excluded.saved_at`,
		f.Path, f.ContentType, f.Size, int64(f.CRC32), f.MD5, f.SavedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording staged file %s: %w", f.Path, err)
	}
	return nil
}

// ListStagedFiles returns every row whose path starts with prefix, ordered by path
func (d *Database) ListStagedFiles(ctx context.Context, prefix string) ([]StagedFile, error) {
	rows, err := d.Query(ctx, `SELECT path, content_type, size, crc32, md5, saved_at
		FROM staged_files WHERE substr(path, 1, ?) = ? ORDER BY path`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []StagedFile
	for rows.Next() {
		f, err := scanStagedFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning staged file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating staged files: %w", err)
	}
	return files, nil
}

// DeleteStagedFile removes the row for path, if any
func (d *Database) DeleteStagedFile(ctx context.Context, path string) error {
	if _, err := d.Exec(ctx, `DELETE FROM staged_files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting staged file %s: %w", path, err)
	}
	return nil
}

func scanStagedFile(s scanner) (StagedFile, error) {
	var (
		f       StagedFile
		crc     int64
		savedAt int64
	)
	if err := s.Scan(&f.Path, &f.ContentType, &f.Size, &crc, &f.MD5, &savedAt); err != nil {
		return StagedFile{}, err
	}
	f.CRC32 = uint32(crc)
	f.SavedAt = time.UnixMilli(savedAt)
	return f, nil
}
