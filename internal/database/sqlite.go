package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"townforge/internal/claim"
	"townforge/internal/town"
	"townforge/internal/user"
)

// SQLite implements Database on a single local file. One connection,
// WAL journal; all town operations that touch two tables run in a
// transaction.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
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
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE COLLATE NOCASE
		);`,
		`CREATE TABLE IF NOT EXISTS towns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE COLLATE NOCASE,
			mayor TEXT NOT NULL,
			bank INTEGER NOT NULL DEFAULT 0,
			spawn_json TEXT
		);`,
		// user_id as primary key is what makes "one town per user"
		// hold cluster-wide when two servers race.
		`CREATE TABLE IF NOT EXISTS members (
			user_id TEXT PRIMARY KEY,
			town_id INTEGER NOT NULL REFERENCES towns(id) ON DELETE CASCADE,
			privileges_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_members_town ON members(town_id);`,
		`CREATE TABLE IF NOT EXISTS claim_worlds (
			world TEXT PRIMARY KEY,
			claims_json TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func constraintErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "members.user_id"):
		return ErrUserAlreadyMember
	case strings.Contains(msg, "towns.name"):
		return ErrTownNameTaken
	}
	return err
}

func (s *SQLite) CreateTown(ctx context.Context, name string, founder user.User) (*town.Town, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO towns (name, mayor, bank) VALUES (?, ?, 0)`,
		name, founder.ID.String())
	if err != nil {
		return nil, constraintErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	t := town.New(id, name, founder.ID)
	privs, err := json.Marshal(t.Members[founder.ID])
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO members (user_id, town_id, privileges_json) VALUES (?, ?, ?)`,
		founder.ID.String(), id, string(privs)); err != nil {
		return nil, constraintErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLite) DeleteTown(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM towns WHERE id = ?`, id)
	return err
}

func (s *SQLite) GetTown(ctx context.Context, id int64) (*town.Town, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, mayor, bank, spawn_json FROM towns WHERE id = ?`, id)
	t, err := scanTown(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLite) ListTowns(ctx context.Context) ([]*town.Town, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mayor, bank, spawn_json FROM towns ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*town.Town
	for rows.Next() {
		t, err := scanTown(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range out {
		if err := s.loadMembers(ctx, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTown(r rowScanner) (*town.Town, error) {
	var (
		t         town.Town
		mayorStr  string
		spawnJSON sql.NullString
	)
	if err := r.Scan(&t.ID, &t.Name, &mayorStr, &t.Bank, &spawnJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	mayor, err := uuid.Parse(mayorStr)
	if err != nil {
		return nil, fmt.Errorf("town %d: bad mayor id: %w", t.ID, err)
	}
	t.Mayor = mayor
	t.Members = make(map[uuid.UUID][]town.Privilege)
	if spawnJSON.Valid && spawnJSON.String != "" {
		var sp town.Spawn
		if err := json.Unmarshal([]byte(spawnJSON.String), &sp); err != nil {
			return nil, fmt.Errorf("town %d: bad spawn: %w", t.ID, err)
		}
		t.Spawn = &sp
	}
	return &t, nil
}

func (s *SQLite) loadMembers(ctx context.Context, t *town.Town) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, privileges_json FROM members WHERE town_id = ?`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var idStr, privsJSON string
		if err := rows.Scan(&idStr, &privsJSON); err != nil {
			return err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("town %d: bad member id: %w", t.ID, err)
		}
		var privs []town.Privilege
		if err := json.Unmarshal([]byte(privsJSON), &privs); err != nil {
			return fmt.Errorf("town %d: bad privileges: %w", t.ID, err)
		}
		t.Members[id] = privs
	}
	return rows.Err()
}

func (s *SQLite) UpdateTown(ctx context.Context, t *town.Town) error {
	var spawnJSON any
	if t.Spawn != nil {
		b, err := json.Marshal(t.Spawn)
		if err != nil {
			return err
		}
		spawnJSON = string(b)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`UPDATE towns SET name = ?, mayor = ?, bank = ?, spawn_json = ? WHERE id = ?`,
		t.Name, t.Mayor.String(), t.Bank, spawnJSON, t.ID); err != nil {
		return constraintErr(err)
	}
	for id, privs := range t.Members {
		b, err := json.Marshal(privs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET privileges_json = ? WHERE user_id = ? AND town_id = ?`,
			string(b), id.String(), t.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) CreateMember(ctx context.Context, townID int64, userID uuid.UUID, privileges []town.Privilege) error {
	b, err := json.Marshal(privileges)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO members (user_id, town_id, privileges_json) VALUES (?, ?, ?)`,
		userID.String(), townID, string(b))
	return constraintErr(err)
}

func (s *SQLite) DeleteMember(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE user_id = ?`, userID.String())
	return err
}

func (s *SQLite) GetUser(ctx context.Context, handle string) (user.User, error) {
	var (
		u     user.User
		idStr string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM users WHERE name = ? COLLATE NOCASE`, handle).
		Scan(&idStr, &u.Name)
	if err == sql.ErrNoRows {
		return user.User{}, ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return user.User{}, fmt.Errorf("user %s: bad id: %w", handle, err)
	}
	u.ID = id
	return u, nil
}

func (s *SQLite) SaveUser(ctx context.Context, u user.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		u.ID.String(), u.Name)
	return err
}

func (s *SQLite) GetClaimWorld(ctx context.Context, id claim.WorldID) (*claim.World, error) {
	var claimsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT claims_json FROM claim_worlds WHERE world = ?`, string(id)).
		Scan(&claimsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeWorld(id, claimsJSON)
}

func (s *SQLite) ListClaimWorlds(ctx context.Context) ([]*claim.World, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT world, claims_json FROM claim_worlds`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*claim.World
	for rows.Next() {
		var id, claimsJSON string
		if err := rows.Scan(&id, &claimsJSON); err != nil {
			return nil, err
		}
		w, err := decodeWorld(claim.WorldID(id), claimsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateClaimWorld(ctx context.Context, w *claim.World) error {
	b, err := json.Marshal(w.All())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claim_worlds (world, claims_json) VALUES (?, ?)
		 ON CONFLICT(world) DO UPDATE SET claims_json = excluded.claims_json`,
		string(w.ID), string(b))
	return err
}

func decodeWorld(id claim.WorldID, claimsJSON string) (*claim.World, error) {
	var claims []*claim.Claim
	if err := json.Unmarshal([]byte(claimsJSON), &claims); err != nil {
		return nil, fmt.Errorf("claim world %s: %w", id, err)
	}
	w := claim.NewWorld(id)
	for _, c := range claims {
		w.Put(c)
	}
	return w, nil
}
