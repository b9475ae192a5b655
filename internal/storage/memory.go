package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	rows    []Recipient
	nextID  int64
	link    string
	hasLink bool
	audit   []AuditEntry
	closed  bool
	defLink string
}

func NewMemory(cfg Config) *Memory {
	return &Memory{defLink: cfg.defaultLink()}
}

func (m *Memory) RecordJoin(ctx context.Context, req JoinRequest) (Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Recipient{}, ErrClosed
	}
	req = req.normalized()
	m.nextID++
	r := Recipient{
		ID:          m.nextID,
		UserID:      req.UserID,
		Username:    req.Username,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		RequestedAt: req.At,
	}
	// A new row inherits the user's block flag.
	for _, prev := range m.rows {
		if prev.UserID == req.UserID {
			r.Blocked = prev.Blocked
			break
		}
	}
	m.rows = append(m.rows, r)
	return r, nil
}

func (m *Memory) SetBlocked(ctx context.Context, userID int64, blocked bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for i := range m.rows {
		if m.rows[i].UserID == userID {
			m.rows[i].Blocked = blocked
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListNonBlocked(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	seen := make(map[int64]struct{}, len(m.rows))
	var out []int64
	for _, r := range m.rows {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		if !r.Blocked {
			out = append(out, r.UserID)
		}
	}
	return out, nil
}

func (m *Memory) ExportAll(ctx context.Context) ([]Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]Recipient(nil), m.rows...), nil
}

func (m *Memory) CountRecipients(ctx context.Context) (RecipientStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return RecipientStats{}, ErrClosed
	}
	users := map[int64]bool{}
	for _, r := range m.rows {
		users[r.UserID] = r.Blocked
	}
	st := RecipientStats{Rows: len(m.rows), Users: len(users)}
	for _, blocked := range users {
		if blocked {
			st.Blocked++
		}
	}
	return st, nil
}

func (m *Memory) GetLink(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if !m.hasLink {
		m.link, m.hasLink = m.defLink, true
	}
	return m.link, nil
}

func (m *Memory) SetLink(ctx context.Context, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.link, m.hasLink = link, true
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	limit = min(limit, len(m.audit))
	out := make([]AuditEntry, 0, limit)
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
