package canlog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/BIwashi/canseries/pkg/can"
)

// schema.sql creates the can_frames table and its time/id indexes.
//
//go:embed schema.sql
var schemaSQL string

// Store persists raw frames in a SQLite database.
type Store struct {
	*sql.DB
}

// Open opens or creates the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db}, nil
}

// Insert writes frames in a single transaction.
func (s *Store) Insert(ctx context.Context, frames []can.RawFrame) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO can_frames (time, bus, id, extended, payload_hex, length)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, f := range frames {
		ext := 0
		if f.IsExtended {
			ext = 1
		}
		if _, err := stmt.ExecContext(ctx, f.Seconds(), int(f.Bus), int64(f.ID), ext, f.PayloadHex(), int(f.Length)); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "insert frame 0x%X", f.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Query selects frames from the store. Zero values match everything.
type Query struct {
	IDs   []uint32
	Start float64
	End   float64
}

// Frames returns the stored frames matching q in time order.
func (s *Store) Frames(ctx context.Context, q Query) ([]can.RawFrame, error) {
	query := `SELECT time, bus, id, extended, payload_hex, length FROM can_frames WHERE 1=1`
	var args []any
	if q.Start != 0 {
		query += ` AND time >= ?`
		args = append(args, q.Start)
	}
	if q.End != 0 {
		query += ` AND time <= ?`
		args = append(args, q.End)
	}
	if len(q.IDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(`, ?`, len(q.IDs)-1) + `)`
		for _, id := range q.IDs {
			args = append(args, int64(id))
		}
	}
	query += ` ORDER BY time, rowid`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query frames")
	}
	defer rows.Close()

	var out []can.RawFrame
	for rows.Next() {
		var (
			sec      float64
			bus, n   int
			id       int64
			extended int
			payload  string
		)
		if err := rows.Scan(&sec, &bus, &id, &extended, &payload, &n); err != nil {
			return nil, errors.Wrap(err, "scan frame")
		}
		data, err := hex.DecodeString(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "decode payload of 0x%X", id)
		}
		f := can.RawFrame{Timestamp: can.FromSeconds(sec), Bus: uint8(bus)}
		f.ID = uint32(id)
		f.IsExtended = extended != 0
		f.Length = uint8(n)
		copy(f.Data[:], data)
		out = append(out, f)
	}
	return out, errors.Wrap(rows.Err(), "iterate frames")
}

// Count returns the number of stored frames per id.
func (s *Store) Count(ctx context.Context) (map[uint32]int, error) {
	rows, err := s.QueryContext(ctx, `SELECT id, COUNT(*) FROM can_frames GROUP BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "count frames")
	}
	defer rows.Close()
	out := make(map[uint32]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		out[uint32(id)] = n
	}
	return out, errors.Wrap(rows.Err(), "iterate counts")
}
