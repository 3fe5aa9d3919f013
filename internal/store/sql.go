// SQLStore - sqlite-backed cache bins.
//
// DESIGN: Each bin is a table:
//
//	cid TEXT PRIMARY KEY, data BLOB, expire INTEGER, created INTEGER, serialized INTEGER
//
// Every storage error degrades to a miss (reads) or a logged no-op (writes).
// The only error surfaced is ErrInvalidBin, raised before a wildcard truncate
// of a table that lacks the cache columns.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLStore is a sqlite implementation of Store.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) the database at path and ensures the
// default bin plus any extra bins exist.
func OpenSQLStore(ctx context.Context, path string, bins ...string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database '%s': %w", path, err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db}
	for _, bin := range append([]string{DefaultBin}, bins...) {
		if err := s.EnsureBin(ctx, bin); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewSQLStore wraps an existing database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// EnsureBin creates the table for bin if missing.
func (s *SQLStore) EnsureBin(ctx context.Context, bin string) error {
	if !binNamePattern.MatchString(bin) {
		return fmt.Errorf("%w: %s", ErrInvalidBin, bin)
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		cid TEXT NOT NULL PRIMARY KEY,
		data BLOB,
		expire INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		serialized INTEGER NOT NULL DEFAULT 0
	)`, bin)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create cache bin '%s': %w", bin, err)
	}
	return nil
}

// Get retrieves an entry if it exists and hasn't expired.
func (s *SQLStore) Get(ctx context.Context, bin, cid string) (*Entry, bool) {
	if !binNamePattern.MatchString(bin) {
		return nil, false
	}
	query := fmt.Sprintf(`SELECT cid, data, created, expire, serialized FROM %s WHERE cid = ?`, bin)

	var (
		e          Entry
		created    int64
		serialized int
	)
	err := s.db.QueryRowContext(ctx, query, cid).Scan(&e.CID, &e.Data, &created, &e.Expire, &serialized)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Debug().Err(err).Str("bin", bin).Str("cid", cid).Msg("cache read failed, treating as miss")
		}
		return nil, false
	}
	e.Created = time.Unix(created, 0)
	e.Serialized = serialized == 1
	if e.Expired(time.Now()) {
		return nil, false
	}
	return &e, true
}

// Set stores value under cid.
func (s *SQLStore) Set(ctx context.Context, bin, cid string, value any, expire int64) {
	if !binNamePattern.MatchString(bin) {
		log.Warn().Str("bin", bin).Msg("cache write skipped: invalid bin name")
		return
	}
	data, serialized, err := encodeValue(value)
	if err != nil {
		log.Warn().Err(err).Str("bin", bin).Str("cid", cid).Msg("cache write skipped")
		return
	}
	flag := 0
	if serialized {
		flag = 1
	}
	query := fmt.Sprintf(`INSERT INTO %s (cid, data, expire, created, serialized) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cid) DO UPDATE SET data = excluded.data, expire = excluded.expire,
		created = excluded.created, serialized = excluded.serialized`, bin)
	if _, err := s.db.ExecContext(ctx, query, cid, data, expire, time.Now().Unix(), flag); err != nil {
		log.Warn().Err(err).Str("bin", bin).Str("cid", cid).Msg("cache write failed")
	}
}

// Clear removes entries from bin.
func (s *SQLStore) Clear(ctx context.Context, bin, cid string, wildcard bool) error {
	if !binNamePattern.MatchString(bin) {
		return fmt.Errorf("%w: %s", ErrInvalidBin, bin)
	}

	var (
		query string
		args  []any
	)
	switch {
	case wildcard && cid == Wildcard:
		if !s.isValidBin(ctx, bin) {
			return fmt.Errorf("%w: %s", ErrInvalidBin, bin)
		}
		query = fmt.Sprintf(`DELETE FROM %s`, bin)
	case cid == "":
		query = fmt.Sprintf(`DELETE FROM %s WHERE expire = ? OR (expire > 0 AND expire < ?)`, bin)
		args = []any{Temporary, time.Now().Unix()}
	case wildcard:
		// Compare bytes: substr on TEXT counts characters, len counts bytes.
		query = fmt.Sprintf(`DELETE FROM %s WHERE substr(CAST(cid AS BLOB), 1, ?) = CAST(? AS BLOB)`, bin)
		args = []any{len(cid), cid}
	default:
		query = fmt.Sprintf(`DELETE FROM %s WHERE cid = ?`, bin)
		args = []any{cid}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		log.Warn().Err(err).Str("bin", bin).Str("cid", cid).Msg("cache clear failed")
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isValidBin checks that bin is a cache table before it gets truncated.
// Tables named cache or cache_* are trusted; anything else must have every
// cache column.
func (s *SQLStore) isValidBin(ctx context.Context, bin string) bool {
	if isCacheBinName(bin) {
		return true
	}
	columns, err := s.columns(ctx, bin)
	if err != nil {
		log.Debug().Err(err).Str("bin", bin).Msg("cache bin introspection failed")
		return false
	}
	return hasCacheColumns(columns)
}

// columns lists the column names of table bin.
func (s *SQLStore) columns(ctx context.Context, bin string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, bin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)
