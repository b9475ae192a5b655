package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "joingate/pkg/logx"
)

type sqliteStore struct {
	db      *sql.DB
	log     logx.Logger
	defLink string
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	schema, err := migration("sqlite.sql")
	if err == nil {
		_, err = db.ExecContext(ctx, schema)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite storage ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log, defLink: cfg.defaultLink()}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordJoin(ctx context.Context, req JoinRequest) (Recipient, error) {
	req = req.normalized()
	// A new row inherits the user's block flag.
	var blocked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(user_is_block), 0) FROM subscription_requests WHERE user_id = ?`, req.UserID).Scan(&blocked)
	if err != nil {
		return Recipient{}, fmt.Errorf("record join: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscription_requests(user_id, username, first_name, last_name, channel_id, channel_name, time_request, user_is_block)
		 VALUES(?,?,?,?,?,?,?,?)`,
		req.UserID, nullStr(req.Username), nullStr(req.FirstName), nullStr(req.LastName),
		req.ChannelID, nullStr(req.ChannelName), req.At.UTC().Format(time.RFC3339Nano), blocked,
	)
	if err != nil {
		return Recipient{}, fmt.Errorf("record join: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Recipient{}, err
	}
	return Recipient{
		ID:          id,
		UserID:      req.UserID,
		Username:    req.Username,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		RequestedAt: req.At,
		Blocked:     blocked,
	}, nil
}

func (s *sqliteStore) SetBlocked(ctx context.Context, userID int64, blocked bool) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscription_requests SET user_is_block = ? WHERE user_id = ?`, blocked, userID)
	if err != nil {
		return 0, fmt.Errorf("set blocked: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) ListNonBlocked(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM subscription_requests
		 GROUP BY user_id
		 HAVING MAX(user_is_block) = 0
		 ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ExportAll(ctx context.Context) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, username, first_name, last_name, channel_id, channel_name, time_request, user_is_block
		 FROM subscription_requests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var (
			r                          Recipient
			username, first, last, chn sql.NullString
			at                         string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &username, &first, &last, &r.ChannelID, &chn, &at, &r.Blocked); err != nil {
			return nil, err
		}
		r.Username, r.FirstName, r.LastName, r.ChannelName = username.String, first.String, last.String, chn.String
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			r.RequestedAt = t.Local()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountRecipients(ctx context.Context) (RecipientStats, error) {
	var st RecipientStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM subscription_requests),
			(SELECT COUNT(DISTINCT user_id) FROM subscription_requests),
			(SELECT COUNT(DISTINCT user_id) FROM subscription_requests WHERE user_is_block = 1)`,
	).Scan(&st.Rows, &st.Users, &st.Blocked)
	if err != nil {
		return RecipientStats{}, fmt.Errorf("count recipients: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) GetLink(ctx context.Context) (string, error) {
	var link string
	err := s.db.QueryRowContext(ctx, `SELECT link FROM channel ORDER BY id LIMIT 1`).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO channel(link) VALUES(?)`, s.defLink); err != nil {
			return "", fmt.Errorf("create default link: %w", err)
		}
		return s.defLink, nil
	}
	if err != nil {
		return "", fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

func (s *sqliteStore) SetLink(ctx context.Context, link string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channel SET link = ? WHERE id = (SELECT MIN(id) FROM channel)`, link)
	if err != nil {
		return fmt.Errorf("set link: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO channel(link) VALUES(?)`, link); err != nil {
		return fmt.Errorf("set link: %w", err)
	}
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_audit(at, run_id, actor_id, kind, attempted, delivered, failed, aborted, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.RunID, e.ActorID, e.Kind,
		e.Attempted, e.Delivered, e.Failed, e.Aborted, e.TookMS,
	)
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, run_id, actor_id, kind, attempted, delivered, failed, aborted, took_ms
		 FROM broadcast_audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.RunID, &e.ActorID, &e.Kind, &e.Attempted, &e.Delivered, &e.Failed, &e.Aborted, &e.TookMS); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = t.Local()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
