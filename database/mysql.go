package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS registered_nick (
	` + "`key`" + ` VARCHAR(255) PRIMARY KEY,
	password TEXT,
	registered_at DATETIME NOT NULL
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS registered_channel (
	` + "`key`" + ` VARCHAR(255) PRIMARY KEY,
	topic TEXT,
	modes TEXT,
	registered_at DATETIME NOT NULL
) ENGINE=InnoDB;

CREATE TABLE IF NOT EXISTS registered_operator (
	` + "`key`" + ` VARCHAR(255) PRIMARY KEY,
	password TEXT,
	mask TEXT,
	registered_at DATETIME NOT NULL
) ENGINE=InnoDB;
`

type mysqlDB struct {
	db    *sql.DB
	queue *writeQueue
}

func openMySQL(source string) (Database, error) {
	db, err := sql.Open("mysql", source)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	for _, stmt := range splitStatements(mysqlSchema) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize mysql schema: %w", err)
		}
	}
	return &mysqlDB{db: db, queue: newWriteQueue()}, nil
}

func splitStatements(schema string) []string {
	var out []string
	start := 0
	for i := 0; i < len(schema); i++ {
		if schema[i] == ';' {
			if stmt := trimSpace(schema[start:i]); stmt != "" {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (m *mysqlDB) Close() error {
	m.queue.Close()
	return m.db.Close()
}

func (m *mysqlDB) table(kind Kind) string {
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

func (m *mysqlDB) LoadRegistered(ctx context.Context, kind Kind, key string) (*Record, error) {
	var rec Record
	var password, mask, topic, modes sql.NullString
	var registeredAt time.Time

	switch kind {
	case KindNick:
		err := m.db.QueryRowContext(ctx, "SELECT `key`, password, registered_at FROM registered_nick WHERE `key` = ?", key).
			Scan(&rec.Key, &password, &registeredAt)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, err
		}
	case KindChannel:
		err := m.db.QueryRowContext(ctx, "SELECT `key`, topic, modes, registered_at FROM registered_channel WHERE `key` = ?", key).
			Scan(&rec.Key, &topic, &modes, &registeredAt)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, err
		}
	case KindOperator:
		err := m.db.QueryRowContext(ctx, "SELECT `key`, password, mask, registered_at FROM registered_operator WHERE `key` = ?", key).
			Scan(&rec.Key, &password, &mask, &registeredAt)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		} else if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	rec.Password = password.String
	rec.Mask = mask.String
	rec.Topic = topic.String
	rec.Modes = modes.String
	rec.RegisteredAt = registeredAt
	return &rec, nil
}

func (m *mysqlDB) StoreRegistered(ctx context.Context, kind Kind, rec *Record) error {
	return m.queue.Enqueue(func(ctx context.Context) error {
		ts := rec.RegisteredAt
		if ts.IsZero() {
			ts = time.Now()
		}
		switch kind {
		case KindNick:
			_, err := m.db.ExecContext(ctx, "INSERT INTO registered_nick (`key`, password, registered_at) VALUES (?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE password = VALUES(password)", rec.Key, rec.Password, ts)
			return err
		case KindChannel:
			_, err := m.db.ExecContext(ctx, "INSERT INTO registered_channel (`key`, topic, modes, registered_at) VALUES (?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE topic = VALUES(topic), modes = VALUES(modes)", rec.Key, rec.Topic, rec.Modes, ts)
			return err
		case KindOperator:
			_, err := m.db.ExecContext(ctx, "INSERT INTO registered_operator (`key`, password, mask, registered_at) VALUES (?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE password = VALUES(password), mask = VALUES(mask)", rec.Key, rec.Password, rec.Mask, ts)
			return err
		default:
			return fmt.Errorf("unknown record kind %q", kind)
		}
	})
}

func (m *mysqlDB) DeleteRegistered(ctx context.Context, kind Kind, key string) error {
	table := m.table(kind)
	if table == "" {
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return m.queue.Enqueue(func(ctx context.Context) error {
		_, err := m.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE `key` = ?", table), key)
		return err
	})
}

func (m *mysqlDB) ListRegistered(ctx context.Context, kind Kind) ([]Record, error) {
	table := m.table(kind)
	if table == "" {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf("SELECT `key` FROM %s", table))
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

func (m *mysqlDB) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := m.db.QueryRowContext(ctx, "SELECT count(*) FROM registered_nick").Scan(&stats.RegisteredNicks); err != nil {
		return nil, err
	}
	if err := m.db.QueryRowContext(ctx, "SELECT count(*) FROM registered_channel").Scan(&stats.RegisteredChannels); err != nil {
		return nil, err
	}
	if err := m.db.QueryRowContext(ctx, "SELECT count(*) FROM registered_operator").Scan(&stats.RegisteredOperators); err != nil {
		return nil, err
	}
	return &stats, nil
}
