package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:conversation_sessions,alias:cs"`

	SessionKey string    `bun:"session_key,pk"`
	ThreadID   string    `bun:"thread_id,notnull"`
	Channel    string    `bun:"channel"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,nullzero"`
}

func (r *sessionRow) toSession() *ConversationSession {
	return &ConversationSession{
		SessionKey: r.SessionKey,
		ThreadID:   r.ThreadID,
		Channel:    r.Channel,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

// SQLStore persists sessions in Postgres or sqlite through bun. Rows carry an
// expires_at column; expired rows read as missing.
type SQLStore struct {
	db   *bun.DB
	opts storeOptions
}

// OpenSQLStore opens a bun database for driver "postgres" or "sqlite" and
// creates the sessions table when it is missing.
func OpenSQLStore(ctx context.Context, driver, dsn string, opts ...StoreOption) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("session store dsn is required")
	}

	var db *bun.DB
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pg":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case "sqlite":
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	store, err := NewSQLStore(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLStore(db *bun.DB, opts ...StoreOption) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db, opts: o}, nil
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Load(ctx context.Context, sessionKey string) (*ConversationSession, error) {
	if err := checkKey(sessionKey); err != nil {
		return nil, err
	}

	var row sessionRow
	err := s.db.NewSelect().
		Model(&row).
		Where("session_key = ?", sessionKey).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	if s.expired(&row) {
		return nil, ErrSessionNotFound
	}
	return row.toSession(), nil
}

func (s *SQLStore) Create(ctx context.Context, sess *ConversationSession) error {
	now := s.opts.now()
	if err := prepareWrite(sess, now); err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if s.opts.ttl > 0 {
			_, err := tx.NewDelete().
				Model((*sessionRow)(nil)).
				Where("session_key = ?", sess.SessionKey).
				Where("expires_at IS NOT NULL").
				Where("expires_at <= ?", now.UTC()).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("purge expired session: %w", err)
			}
		}

		row := s.toRow(sess, now)
		res, err := tx.NewInsert().
			Model(row).
			On("CONFLICT (session_key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert session rows affected: %w", err)
		}
		if n == 0 {
			return ErrSessionExists
		}
		return nil
	})
}

func (s *SQLStore) Save(ctx context.Context, sess *ConversationSession) error {
	now := s.opts.now()
	if err := prepareWrite(sess, now); err != nil {
		return err
	}

	_, err := s.db.NewInsert().
		Model(s.toRow(sess, now)).
		On("CONFLICT (session_key) DO UPDATE").
		Set("thread_id = EXCLUDED.thread_id").
		Set("channel = EXCLUDED.channel").
		Set("updated_at = EXCLUDED.updated_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, sessionKey string) error {
	if err := checkKey(sessionKey); err != nil {
		return err
	}
	_, err := s.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("session_key = ?", sessionKey).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLStore) toRow(sess *ConversationSession, now time.Time) *sessionRow {
	row := &sessionRow{
		SessionKey: sess.SessionKey,
		ThreadID:   sess.ThreadID,
		Channel:    sess.Channel,
		CreatedAt:  sess.CreatedAt,
		UpdatedAt:  sess.UpdatedAt,
	}
	if s.opts.ttl > 0 {
		row.ExpiresAt = now.UTC().Add(s.opts.ttl)
	}
	return row
}

func (s *SQLStore) expired(row *sessionRow) bool {
	if row.ExpiresAt.IsZero() {
		return false
	}
	return !s.opts.now().Before(row.ExpiresAt)
}
