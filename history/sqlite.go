package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"roomrelay-server/domain"
)

// SQLite stores the log in a private in-memory sqlite database. Nothing is
// written to disk, so history still ends with the process.
//
// A memory database lives only as long as a connection to it is open, so all
// work goes through one pinned connection. If that connection breaks, calls
// fail instead of silently starting over with an empty database.
type SQLite struct {
	db   *sql.DB
	conn *sql.Conn
	mu   sync.Mutex
}

var _ domain.MessageLog = (*SQLite)(nil)

var sqliteSeq atomic.Uint64

func OpenSQLite(ctx context.Context) (*SQLite, error) {
	dsn := fmt.Sprintf("file:roomrelay-%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pin sqlite connection: %w", err)
	}

	if err := ensureSchema(ctx, conn); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLite{db: db, conn: conn}, nil
}

func ensureSchema(ctx context.Context, conn *sql.Conn) error {
	const messagesTable = `
    CREATE TABLE IF NOT EXISTS messages (
        room TEXT NOT NULL,
        seq INTEGER NOT NULL,
        sender TEXT NOT NULL,
        text TEXT NOT NULL,
        PRIMARY KEY (room, seq)
    );`
	_, err := conn.ExecContext(ctx, messagesTable)
	return err
}

func (s *SQLite) Append(ctx context.Context, room string, sender domain.ConnectionID, text string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var seq uint64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE room = ?`, room)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq for %q: %w", room, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (room, seq, sender, text) VALUES (?, ?, ?, ?)`,
		room, seq, string(sender), text); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return seq, nil
}

func (s *SQLite) History(ctx context.Context, room string) ([]domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT room, seq, sender, text FROM messages WHERE room = ? ORDER BY seq`, room)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := []domain.MessageRecord{}
	for rows.Next() {
		var (
			rec    domain.MessageRecord
			sender string
		)
		if err := rows.Scan(&rec.Room, &rec.Seq, &sender, &rec.Text); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Sender = domain.ConnectionID(sender)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
