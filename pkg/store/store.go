// Package store persists resolved profiles in a PostgreSQL directory and serves the
// mail accounts of local users.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/pressly/goose/v3"

	"github.com/codeGROOVE-dev/fedprobe/pkg/mail"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store is the PostgreSQL backed directory.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the database at dsn.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema migrations to the store's database.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

type column struct {
	name  string
	value any
}

// Upsert writes p to the global directory and to the install-wide contact table, keyed
// by the normalised profile URL. Empty fields never overwrite stored values.
func (s *Store) Upsert(ctx context.Context, p *profile.Profile) error {
	if p.URL == "" {
		return errors.New("upsert: profile has no url")
	}
	nurl := profile.NormaliseLink(p.URL)
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query, args := buildUpsert("gcontact", []string{"nurl"},
		[]column{{"nurl", nurl}},
		nonEmpty(directoryColumns(p)),
		column{"updated", now})
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert gcontact: %w", err)
	}

	query, args = buildUpsert("contact", []string{"uid", "nurl", "self"},
		[]column{{"uid", 0}, {"nurl", nurl}, {"self", false}},
		nonEmpty(contactColumns(p)),
		column{"success_update", now})
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	s.logger.DebugContext(ctx, "directory updated", "url", p.URL, "network", p.Network)
	return nil
}

func directoryColumns(p *profile.Profile) []column {
	return []column{
		{"name", p.Name},
		{"nick", p.Nick},
		{"url", p.URL},
		{"addr", p.Addr},
		{"photo", p.Photo},
		{"keywords", p.Keywords},
		{"location", p.Location},
		{"about", p.About},
		{"notify", p.Notify},
		{"network", string(p.Network)},
		{"server_url", p.BaseURL},
	}
}

func contactColumns(p *profile.Profile) []column {
	return []column{
		{"name", p.Name},
		{"nick", p.Nick},
		{"url", p.URL},
		{"addr", p.Addr},
		{"alias", p.Alias},
		{"keywords", p.Keywords},
		{"location", p.Location},
		{"about", p.About},
		{"batch", p.Batch},
		{"notify", p.Notify},
		{"poll", p.Poll},
		{"request", p.Request},
		{"confirm", p.Confirm},
		{"poco", p.Poco},
		{"network", string(p.Network)},
	}
}

func nonEmpty(cols []column) []column {
	out := cols[:0:0]
	for _, c := range cols {
		if s, ok := c.value.(string); ok && s == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// buildUpsert renders an INSERT ... ON CONFLICT DO UPDATE that writes keys plus fields and
// always refreshes stamp. Only fields and stamp are updated on conflict.
func buildUpsert(table string, conflict []string, keys, fields []column, stamp column) (string, []any) {
	all := make([]column, 0, len(keys)+len(fields)+1)
	all = append(all, keys...)
	all = append(all, fields...)
	all = append(all, stamp)

	names := make([]string, len(all))
	holders := make([]string, len(all))
	args := make([]any, len(all))
	for i, c := range all {
		names[i] = c.name
		holders[i] = "$" + strconv.Itoa(i+1)
		args[i] = c.value
	}

	updates := make([]string, 0, len(fields)+1)
	for _, c := range append(fields[:len(fields):len(fields)], stamp) {
		updates = append(updates, c.name+" = EXCLUDED."+c.name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(names, ", "),
		strings.Join(holders, ", "),
		strings.Join(conflict, ", "),
		strings.Join(updates, ", "))
	return b.String(), args
}

// MailAccount implements mail.AccountSource.
func (s *Store) MailAccount(ctx context.Context, uid int64) (*mail.Account, error) {
	const query = `
		SELECT m.server, m.port, m.ssltype, m.mailbox, m."user", m.pass, u.prvkey
		FROM mailacct m
		JOIN users u ON u.uid = m.uid
		WHERE m.uid = $1 AND m.server <> ''
		LIMIT 1`

	var acct mail.Account
	err := s.db.QueryRowContext(ctx, query, uid).Scan(
		&acct.Server,
		&acct.Port,
		&acct.SSLType,
		&acct.Mailbox,
		&acct.User,
		&acct.EncryptedPass,
		&acct.PrivateKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mail account for uid %d: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query mail account: %w", err)
	}
	return &acct, nil
}
