// Package migrate applies the embedded SQL schema and the generated seeds.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/YvesL-Web/project-manager/internal/ids"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations returns the schema files shipped with the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seed is a named, parameterised statement applied at most once.
type Seed struct {
	Name string
	SQL  string
	Args []any
}

const adminRoleSQL = `insert into roles (id, name, description, rights)
	values ($1, 'admin', 'Full access', $2)
	on conflict (name) do update set rights = excluded.rights, updated_at = now()`

// AdminRoleSeed creates the admin role holding rights, or refreshes its rights when it
// already exists.
func AdminRoleSeed(rights string) Seed {
	return Seed{Name: "0001_admin_role", SQL: adminRoleSQL, Args: []any{ids.New(), rights}}
}

// Manager executes SQL migrations from an fs.FS and records them in bookkeeping tables.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           []Seed
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithSeeds registers seeds applied by Seed in name order.
func WithSeeds(seeds ...Seed) Option {
	return func(m *Manager) {
		m.seeds = append(m.seeds, seeds...)
	}
}

// NewManager constructs a Manager. A nil migrations FS means the embedded schema.
func NewManager(db *sql.DB, migrations fs.FS, opts ...Option) *Manager {
	if migrations == nil {
		migrations = Migrations()
	}
	m := &Manager{
		db:              db,
		migrations:      migrations,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	sort.SliceStable(m.seeds, func(i, j int) bool { return m.seeds[i].Name < m.seeds[j].Name })
	return m
}

// Up applies all pending migrations and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := fs.Glob(m.migrations, "*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var applied []string
	for _, name := range files {
		if executed[name] {
			continue
		}
		body, err := fs.ReadFile(m.migrations, name)
		if err != nil {
			return applied, err
		}
		if err := m.execScript(ctx, m.migrationsTable, name, string(body)); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", errors.New("no migrations applied")
	}
	last := executed[len(executed)-1]
	downName := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	body, err := fs.ReadFile(m.migrations, downName)
	if err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	if err := execStatements(ctx, tx, string(body)); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return "", err
	}
	return last, tx.Commit()
}

// Status returns ordered applied migrations.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

// Seed applies registered seeds idempotently and returns the names applied.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, m.seedsTable)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, seed := range m.seeds {
		if executed[seed.Name] {
			continue
		}
		if err := m.execSeed(ctx, seed); err != nil {
			return applied, fmt.Errorf("apply seed %s: %w", seed.Name, err)
		}
		applied = append(applied, seed.Name)
	}
	return applied, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// execScript runs every statement of script and records name in table, in one transaction.
func (m *Manager) execScript(ctx context.Context, table, name, script string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := execStatements(ctx, tx, script); err != nil {
		return err
	}
	if err := m.insertRecord(ctx, tx, table, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) execSeed(ctx context.Context, seed Seed) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, seed.SQL, seed.Args...); err != nil {
		return err
	}
	if err := m.insertRecord(ctx, tx, m.seedsTable, seed.Name); err != nil {
		return err
	}
	return tx.Commit()
}

func execStatements(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range splitStatements(script) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) insertRecord(ctx context.Context, tx *sql.Tx, table, name string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, m.now().UTC())
	return err
}

func (m *Manager) listExecuted(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

// splitStatements splits SQL on semicolons outside single-quoted strings.
func splitStatements(script string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	for _, r := range script {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
