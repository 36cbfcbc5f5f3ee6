package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/liondadev/fileserve/types"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MaxSlugLength is the longest slug the files table accepts.
const MaxSlugLength = 255

// Store is the sqlite backed file and download repository.
type Store struct {
	db *sqlx.DB
}

// Open opens the sqlite database at path with foreign keys switched on.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return db, nil
}

// New creates a store on top of an open database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ApplyMigrations creates all the SQL tables needed for the service to work.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	// 001 - files and downloads
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "files" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "path" TEXT NOT NULL, "slug" VARCHAR(255) NOT NULL UNIQUE)`,
		`CREATE TABLE IF NOT EXISTS "downloads" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "file_id" INTEGER NOT NULL REFERENCES "files" ("id") ON DELETE CASCADE, "downloaded_at" INTEGER NOT NULL, "ip_address" VARCHAR(45) NOT NULL, "user_agent" TEXT NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS "downloads_file_id" ON "downloads" ("file_id")`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create initial schema: %w", err)
		}
	}

	return nil
}

// FileById returns the file with the given id, or ErrNotFound.
func (s *Store) FileById(ctx context.Context, id int64) (*types.File, error) {
	var f types.File
	if err := s.db.GetContext(ctx, &f, `SELECT "id", "path", "slug" FROM "files" WHERE "id" = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("get file %d: %w", id, err)
	}

	return &f, nil
}

// FileBySlug returns the file with the given slug, or ErrNotFound.
func (s *Store) FileBySlug(ctx context.Context, slug string) (*types.File, error) {
	var f types.File
	if err := s.db.GetContext(ctx, &f, `SELECT "id", "path", "slug" FROM "files" WHERE "slug" = $1`, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("get file %q: %w", slug, err)
	}

	return &f, nil
}

// AddFile registers the file at path. An empty slug is derived from the file name.
func (s *Store) AddFile(ctx context.Context, path string, slug string) (*types.File, error) {
	if slug == "" {
		slug = SlugFromPath(path)
	}
	if len(slug) > MaxSlugLength {
		return nil, fmt.Errorf("slug is longer than %d bytes", MaxSlugLength)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO "files" ("path", "slug") VALUES ($1, $2)`, path, slug)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}

	return &types.File{Id: id, Path: path, Slug: slug}, nil
}

// RemoveFile deletes a file and its download history.
func (s *Store) RemoveFile(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM "downloads" WHERE "file_id" = $1`, id); err != nil {
		return fmt.Errorf("delete downloads of file %d: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM "files" WHERE "id" = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// ListFiles returns every registered file ordered by id.
func (s *Store) ListFiles(ctx context.Context) ([]types.File, error) {
	files := []types.File{}
	if err := s.db.SelectContext(ctx, &files, `SELECT "id", "path", "slug" FROM "files" ORDER BY "id"`); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	return files, nil
}

// downloadRow is the on-disk shape of a download; timestamps are unix nanoseconds.
type downloadRow struct {
	Id           int64  `db:"id"`
	FileId       int64  `db:"file_id"`
	DownloadedAt int64  `db:"downloaded_at"`
	IPAddress    string `db:"ip_address"`
	UserAgent    string `db:"user_agent"`
}

func (r downloadRow) download() types.Download {
	return types.Download{
		Id:           r.Id,
		FileId:       r.FileId,
		DownloadedAt: time.Unix(0, r.DownloadedAt),
		IPAddress:    r.IPAddress,
		UserAgent:    r.UserAgent,
	}
}

// AppendDownload inserts d and sets its id. Downloads are never updated.
func (s *Store) AppendDownload(ctx context.Context, d *types.Download) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO "downloads" ("file_id", "downloaded_at", "ip_address", "user_agent") VALUES ($1, $2, $3, $4)`,
		d.FileId, d.DownloadedAt.UnixNano(), d.IPAddress, d.UserAgent)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	d.Id = id

	return nil
}

// DownloadsForFile returns the download history of a file in insertion order.
func (s *Store) DownloadsForFile(ctx context.Context, fileId int64) ([]types.Download, error) {
	var rows []downloadRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT "id", "file_id", "downloaded_at", "ip_address", "user_agent" FROM "downloads" WHERE "file_id" = $1 ORDER BY "id"`, fileId); err != nil {
		return nil, fmt.Errorf("list downloads of file %d: %w", fileId, err)
	}

	downloads := make([]types.Download, 0, len(rows))
	for _, r := range rows {
		downloads = append(downloads, r.download())
	}

	return downloads, nil
}

// DownloadStats counts the downloads of a file and finds the most recent one.
func (s *Store) DownloadStats(ctx context.Context, fileId int64) (types.DownloadStats, error) {
	var stats types.DownloadStats
	if err := s.db.GetContext(ctx, &stats.Total, `SELECT COUNT(*) FROM "downloads" WHERE "file_id" = $1`, fileId); err != nil {
		return stats, fmt.Errorf("count downloads of file %d: %w", fileId, err)
	}
	if stats.Total == 0 {
		return stats, nil
	}

	var last downloadRow
	if err := s.db.GetContext(ctx, &last, `SELECT "id", "file_id", "downloaded_at", "ip_address", "user_agent" FROM "downloads" WHERE "file_id" = $1 ORDER BY "id" DESC LIMIT 1`, fileId); err != nil {
		return stats, fmt.Errorf("last download of file %d: %w", fileId, err)
	}
	d := last.download()
	stats.Last = &d

	return stats, nil
}

var slugReplacer = regexp.MustCompile(`[^a-z0-9._-]+`)

// SlugFromPath derives a URL safe slug from the base name of path.
func SlugFromPath(path string) string {
	slug := slugReplacer.ReplaceAllString(strings.ToLower(filepath.Base(path)), "-")
	if len(slug) > MaxSlugLength {
		slug = slug[:MaxSlugLength]
	}
	slug = strings.Trim(slug, "-")
	if slug == "" || slug == "." || slug == ".." {
		return "file"
	}

	return slug
}
