package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS registered_nick (
	key TEXT PRIMARY KEY,
	password TEXT,
	registered_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS registered_channel (
	key TEXT PRIMARY KEY,
	topic TEXT,
	modes TEXT,
	registered_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS registered_operator (
	key TEXT PRIMARY KEY,
	password TEXT,
	mask TEXT,
	registered_at TEXT NOT NULL
);
`

type sqliteDB struct {
	db    *sql.DB
	queue *writeQueue
}

func openSQLite(source string) (Database, error) {
	db, err := sql.Open("sqlite3", source+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", source, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: serialize writers
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return &sqliteDB{db: db, queue: newWriteQueue()}, nil
}

func (s *sqliteDB) Close() error {
	s.queue.Close()
	return s.db.Close()
}

func (s *sqliteDB) table(kind Kind) string {
	switch kind {
	case KindNick:
		return "registered_nick"
	case KindChannel:
		return "registered_channel"
	case KindOperator:
		return "registered_operator"
	default:
		return ""
	}
}

func (s *sqliteDB) LoadRegistered(ctx context.Context, kind Kind, key string) (*Record, error) {
	table := s.table(kind)
	if table == "" {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	var rec Record
	var password, mask, topic, modes sql.NullString
	var registeredAt string

	var row *sql.Row
	switch kind {
	case KindNick:
		row = s.db.QueryRowContext(ctx, `SELECT key, password, registered_at FROM registered_nick WHERE key = ?`, key)
		err := row.Scan(&rec.Key, &password, &registeredAt)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, err
		}
	case KindChannel:
		row = s.db.QueryRowContext(ctx, `SELECT key, topic, modes, registered_at FROM registered_channel WHERE key = ?`, key)
		err := row.Scan(&rec.Key, &topic, &modes, &registeredAt)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, err
		}
	case KindOperator:
		row = s.db.QueryRowContext(ctx, `SELECT key, password, mask, registered_at FROM registered_operator WHERE key = ?`, key)
		err := row.Scan(&rec.Key, &password, &mask, &registeredAt)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, err
		}
	}

	rec.Password = password.String
	rec.Mask = mask.String
	rec.Topic = topic.String
	rec.Modes = modes.String
	rec.RegisteredAt, _ = time.Parse(time.RFC3339, registeredAt)
	return &rec, nil
}

func (s *sqliteDB) StoreRegistered(ctx context.Context, kind Kind, rec *Record) error {
	return s.queue.Enqueue(func(ctx context.Context) error {
		ts := rec.RegisteredAt
		if ts.IsZero() {
			ts = time.Now()
		}
		switch kind {
		case KindNick:
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO registered_nick (key, password, registered_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET password = excluded.password`,
				rec.Key, rec.Password, ts.Format(time.RFC3339))
			return err
		case KindChannel:
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO registered_channel (key, topic, modes, registered_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET topic = excluded.topic, modes = excluded.modes`,
				rec.Key, rec.Topic, rec.Modes, ts.Format(time.RFC3339))
			return err
		case KindOperator:
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO registered_operator (key, password, mask, registered_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET password = excluded.password, mask = excluded.mask`,
				rec.Key, rec.Password, rec.Mask, ts.Format(time.RFC3339))
			return err
		default:
			return fmt.Errorf("unknown record kind %q", kind)
		}
	})
}

func (s *sqliteDB) DeleteRegistered(ctx context.Context, kind Kind, key string) error {
	table := s.table(kind)
	if table == "" {
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return s.queue.Enqueue(func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table), key)
		return err
	})
}

func (s *sqliteDB) ListRegistered(ctx context.Context, kind Kind) ([]Record, error) {
	table := s.table(kind)
	if table == "" {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT key FROM %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, Record{Key: key})
	}
	return out, rows.Err()
}

func (s *sqliteDB) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM registered_nick`).Scan(&stats.RegisteredNicks); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM registered_channel`).Scan(&stats.RegisteredChannels); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM registered_operator`).Scan(&stats.RegisteredOperators); err != nil {
		return nil, err
	}
	return &stats, nil
}
