package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLite is the durable Store. A single connection serializes all access,
// which matches the no-transaction contract: every method is one statement.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps reads from blocking behind award writes.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			name     TEXT PRIMARY KEY COLLATE NOCASE,
			category TEXT NOT NULL,
			rating   INTEGER NOT NULL DEFAULT 0,
			price    INTEGER NOT NULL DEFAULT 0,
			leader   TEXT NOT NULL DEFAULT '',
			status   TEXT NOT NULL DEFAULT 'OPEN'
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			name         TEXT PRIMARY KEY COLLATE NOCASE,
			budget       INTEGER NOT NULL,
			capped_count INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) ReadItem(ctx context.Context, name string) (Item, error) {
	var it Item
	err := s.db.QueryRowContext(ctx,
		`SELECT name, category, rating, price, leader, status FROM items WHERE name = ?`,
		strings.TrimSpace(name),
	).Scan(&it.Name, &it.Category, &it.Rating, &it.Price, &it.Leader, &it.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

func (s *SQLite) ReadTeam(ctx context.Context, name string) (Team, error) {
	var tm Team
	err := s.db.QueryRowContext(ctx,
		`SELECT name, budget, capped_count FROM teams WHERE name = ?`,
		strings.TrimSpace(name),
	).Scan(&tm.Name, &tm.Budget, &tm.CappedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Team{}, ErrTeamNotFound
	}
	if err != nil {
		return Team{}, err
	}
	return tm, nil
}

func (s *SQLite) WriteItem(ctx context.Context, item Item) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET category = ?, rating = ?, price = ?, leader = ?, status = ? WHERE name = ?`,
		item.Category, item.Rating, item.Price, item.Leader, item.Status, item.Name,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *SQLite) WriteTeam(ctx context.Context, team Team) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET budget = ?, capped_count = ? WHERE name = ?`,
		team.Budget, team.CappedCount, team.Name,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTeamNotFound
	}
	return nil
}

func (s *SQLite) AppendItem(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (name, category, rating, price, leader, status) VALUES (?, ?, ?, ?, ?, ?)`,
		item.Name, item.Category, item.Rating, item.Price, item.Leader, item.Status,
	)
	if isUniqueViolation(err) {
		return ErrItemExists
	}
	return err
}

func (s *SQLite) AppendTeam(ctx context.Context, team Team) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (name, budget, capped_count) VALUES (?, ?, ?)`,
		team.Name, team.Budget, team.CappedCount,
	)
	if isUniqueViolation(err) {
		return ErrTeamExists
	}
	return err
}

func (s *SQLite) ListItems(ctx context.Context, category string) ([]Item, error) {
	query := `SELECT name, category, rating, price, leader, status FROM items ORDER BY rowid`
	args := []any{}
	if category != "" {
		query = `SELECT name, category, rating, price, leader, status FROM items WHERE category = ? ORDER BY rowid`
		args = append(args, category)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Name, &it.Category, &it.Rating, &it.Price, &it.Leader, &it.Status); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLite) ListTeams(ctx context.Context) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, budget, capped_count FROM teams ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Team
	for rows.Next() {
		var tm Team
		if err := rows.Scan(&tm.Name, &tm.Budget, &tm.CappedCount); err != nil {
			return nil, err
		}
		out = append(out, tm)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
