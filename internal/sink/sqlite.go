// SQLite-backed StorageSink, grounded directly on the teacher's
// internal/db.DB: same database/sql + github.com/mattn/go-sqlite3 driver,
// same PRAGMA journal_mode=WAL / PRAGMA foreign_keys=ON setup at Open
// time, same //go:embed schema.sql pattern for DDL, same
// wrap-every-error-with-%w discipline.
package sink

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tracker-project/trackerfs/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// SqliteSink is a StorageSink backed by a SQLite database file.
type SqliteSink struct {
	db *sql.DB

	mu       sync.Mutex
	tx       *sql.Tx
	observer MutationObserver
}

// OpenSqlite opens (creating if necessary) a SQLite database at path and
// initializes its schema.
func OpenSqlite(path string) (*SqliteSink, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sink: open sqlite: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sink: enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sink: set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sink: create schema: %w", err)
	}

	return &SqliteSink{db: sqlDB}, nil
}

// Close closes the underlying database handle.
func (s *SqliteSink) Close() error { return s.db.Close() }

func (s *SqliteSink) execer(ctx context.Context) interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
} {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SqliteSink) BeginTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return fmt.Errorf("sink: transaction already open")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sink: begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *SqliteSink) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("sink: no open transaction")
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sink: commit transaction: %w", err)
	}
	return nil
}

func (s *SqliteSink) RollbackTransaction(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("sink: no open transaction")
	}
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("sink: rollback transaction: %w", err)
	}
	return nil
}

func (s *SqliteSink) InsertFile(ctx context.Context, uri model.Uri, kind model.FileKind, mtime time.Time, size int64, serviceType string) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO files (uri, kind, mtime_unix, size, service_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET kind=excluded.kind, mtime_unix=excluded.mtime_unix,
			size=excluded.size, service_type=excluded.service_type`,
		uri.String(), int(kind), mtime.Unix(), size, serviceType)
	if err != nil {
		return 0, fmt.Errorf("sink: insert file: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// ON CONFLICT UPDATE path: look up the existing id.
		var existing int64
		if qerr := s.execer(ctx).QueryRowContext(ctx, `SELECT id FROM files WHERE uri = ?`, uri.String()).Scan(&existing); qerr != nil {
			return 0, fmt.Errorf("sink: resolve file id after upsert: %w", qerr)
		}
		return existing, nil
	}

	s.notify(uri.String(), "nie:mimeType", serviceType)
	return id, nil
}

func (s *SqliteSink) UpdateFile(ctx context.Context, fileID int64, fields map[string]any) error {
	for k, v := range fields {
		_, err := s.execer(ctx).ExecContext(ctx, `
			INSERT INTO file_metadata (file_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT(file_id, key) DO UPDATE SET value = excluded.value`,
			fileID, k, fmt.Sprint(v))
		if err != nil {
			return fmt.Errorf("sink: update file %d field %s: %w", fileID, k, err)
		}
	}

	var uri string
	if err := s.execer(ctx).QueryRowContext(ctx, `SELECT uri FROM files WHERE id = ?`, fileID).Scan(&uri); err == nil {
		for k, v := range fields {
			s.notify(uri, k, fmt.Sprint(v))
		}
	}
	return nil
}

func (s *SqliteSink) DeleteFile(ctx context.Context, fileID int64) error {
	_, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("sink: delete file %d: %w", fileID, err)
	}
	return nil
}

func (s *SqliteSink) DeleteDirectory(ctx context.Context, fileID int64, uri model.Uri) error {
	prefix := uri.String() + "/%"
	_, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM files WHERE uri = ? OR uri LIKE ?`, uri.String(), prefix)
	if err != nil {
		return fmt.Errorf("sink: delete directory %s: %w", uri, err)
	}
	return nil
}

func (s *SqliteSink) MoveFile(ctx context.Context, fromUri, toUri model.Uri) error {
	_, err := s.execer(ctx).ExecContext(ctx, `UPDATE files SET uri = ? WHERE uri = ?`, toUri.String(), fromUri.String())
	if err != nil {
		return fmt.Errorf("sink: move file %s -> %s: %w", fromUri, toUri, err)
	}
	return nil
}

func (s *SqliteSink) MoveDirectory(ctx context.Context, fromUri, toUri model.Uri) error {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT id, uri FROM files WHERE uri = ? OR uri LIKE ?`,
		fromUri.String(), fromUri.String()+"/%")
	if err != nil {
		return fmt.Errorf("sink: move directory query: %w", err)
	}
	defer rows.Close()

	type renamed struct {
		id     int64
		newUri string
	}
	var updates []renamed
	for rows.Next() {
		var id int64
		var uri string
		if err := rows.Scan(&id, &uri); err != nil {
			return fmt.Errorf("sink: move directory scan: %w", err)
		}
		newUri := toUri.String() + uri[len(fromUri.String()):]
		updates = append(updates, renamed{id: id, newUri: newUri})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sink: move directory iterate: %w", err)
	}

	for _, u := range updates {
		if _, err := s.execer(ctx).ExecContext(ctx, `UPDATE files SET uri = ? WHERE id = ?`, u.newUri, u.id); err != nil {
			return fmt.Errorf("sink: move directory apply: %w", err)
		}
	}
	return nil
}

func (s *SqliteSink) GetFileInfo(ctx context.Context, uri model.Uri) (*FileInfo, bool, error) {
	var id int64
	var mtimeUnix int64
	var kind int

	err := s.execer(ctx).QueryRowContext(ctx, `SELECT id, mtime_unix, kind FROM files WHERE uri = ?`, uri.String()).
		Scan(&id, &mtimeUnix, &kind)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sink: get file info %s: %w", uri, err)
	}
	return &FileInfo{FileID: id, Mtime: time.Unix(mtimeUnix, 0), Kind: model.FileKind(kind)}, true, nil
}

func (s *SqliteSink) ListFilesInFolder(ctx context.Context, uri model.Uri) ([]model.Uri, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT uri FROM files WHERE uri LIKE ?`, uri.String()+"/%")
	if err != nil {
		return nil, fmt.Errorf("sink: list files in folder %s: %w", uri, err)
	}
	defer rows.Close()

	var out []model.Uri
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sink: list files scan: %w", err)
		}
		u, err := model.NewUri(raw, "/")
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SqliteSink) SetOption(ctx context.Context, key string, value int64) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO options (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("sink: set option %s: %w", key, err)
	}
	return nil
}

func (s *SqliteSink) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("sink: analyze: %w", err)
	}
	return nil
}

func (s *SqliteSink) SetMutationObserver(obs MutationObserver) {
	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()
}

func (s *SqliteSink) notify(subject, predicate, object string) {
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs("", subject, predicate, object)
	}
}
