package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "joingate/pkg/logx"
)

type postgresStore struct {
	pool    *pgxpool.Pool
	log     logx.Logger
	defLink string
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.HealthCheckPeriod = time.Minute
	pcfg.ConnConfig.ConnectTimeout = 10 * time.Second

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(cctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	schema, err := migration("postgres.sql")
	if err == nil {
		_, err = pool.Exec(cctx, schema)
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres storage ready", logx.Int("max_conns", int(pcfg.MaxConns)))
	return &postgresStore{pool: pool, log: log, defLink: cfg.defaultLink()}, nil
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) RecordJoin(ctx context.Context, req JoinRequest) (Recipient, error) {
	req = req.normalized()
	r := Recipient{
		UserID:      req.UserID,
		Username:    req.Username,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		RequestedAt: req.At,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subscription_requests(user_id, username, first_name, last_name, channel_id, channel_name, time_request, user_is_block)
		 VALUES($1,$2,$3,$4,$5,$6,$7,
			COALESCE((SELECT bool_or(user_is_block) FROM subscription_requests WHERE user_id = $1), FALSE))
		 RETURNING id, user_is_block`,
		req.UserID, req.Username, req.FirstName, req.LastName, req.ChannelID, req.ChannelName, req.At,
	).Scan(&r.ID, &r.Blocked)
	if err != nil {
		return Recipient{}, fmt.Errorf("record join: %w", err)
	}
	return r, nil
}

func (s *postgresStore) SetBlocked(ctx context.Context, userID int64, blocked bool) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscription_requests SET user_is_block = $1 WHERE user_id = $2`, blocked, userID)
	if err != nil {
		return 0, fmt.Errorf("set blocked: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) ListNonBlocked(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM subscription_requests
		 GROUP BY user_id
		 HAVING NOT bool_or(user_is_block)
		 ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return ids, nil
}

func (s *postgresStore) ExportAll(ctx context.Context) ([]Recipient, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, username, first_name, last_name, channel_id, channel_name, time_request, user_is_block
		 FROM subscription_requests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Recipient, error) {
		var r Recipient
		err := row.Scan(&r.ID, &r.UserID, &r.Username, &r.FirstName, &r.LastName,
			&r.ChannelID, &r.ChannelName, &r.RequestedAt, &r.Blocked)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return out, nil
}

func (s *postgresStore) CountRecipients(ctx context.Context) (RecipientStats, error) {
	var st RecipientStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(DISTINCT user_id),
			COUNT(DISTINCT user_id) FILTER (WHERE user_is_block)
		 FROM subscription_requests`,
	).Scan(&st.Rows, &st.Users, &st.Blocked)
	if err != nil {
		return RecipientStats{}, fmt.Errorf("count recipients: %w", err)
	}
	return st, nil
}

func (s *postgresStore) GetLink(ctx context.Context) (string, error) {
	var link string
	err := s.pool.QueryRow(ctx, `SELECT link FROM channel ORDER BY id LIMIT 1`).Scan(&link)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.pool.Exec(ctx, `INSERT INTO channel(link) VALUES($1)`, s.defLink); err != nil {
			return "", fmt.Errorf("create default link: %w", err)
		}
		return s.defLink, nil
	}
	if err != nil {
		return "", fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

func (s *postgresStore) SetLink(ctx context.Context, link string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE channel SET link = $1 WHERE id = (SELECT MIN(id) FROM channel)`, link)
	if err != nil {
		return fmt.Errorf("set link: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO channel(link) VALUES($1)`, link); err != nil {
		return fmt.Errorf("set link: %w", err)
	}
	return nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO broadcast_audit(at, run_id, actor_id, kind, attempted, delivered, failed, aborted, took_ms)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.At, e.RunID, e.ActorID, e.Kind, e.Attempted, e.Delivered, e.Failed, e.Aborted, e.TookMS,
	)
	return err
}

func (s *postgresStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, at, run_id, actor_id, kind, attempted, delivered, failed, aborted, took_ms
		 FROM broadcast_audit ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditEntry, error) {
		var e AuditEntry
		err := row.Scan(&e.ID, &e.At, &e.RunID, &e.ActorID, &e.Kind,
			&e.Attempted, &e.Delivered, &e.Failed, &e.Aborted, &e.TookMS)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}
