package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultLink is the placeholder channel link created on first read.
const DefaultLink = "https://telegram.org/"

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "memory" (default), "sqlite", "postgres".
type Config struct {
	Driver      string
	Path        string        // sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite; 0 means 5s
	MaxConns    int           // postgres; 0 keeps the pool default

	// DefaultLink overrides the placeholder link created on first read.
	DefaultLink string
}

// Recipient is one recorded join request. A user that asked to join several
// times has several rows.
type Recipient struct {
	ID          int64
	UserID      int64
	Username    string
	FirstName   string
	LastName    string
	ChannelID   int64
	ChannelName string
	RequestedAt time.Time
	Blocked     bool
}

// JoinRequest is the input of RecordJoin. A zero At means now.
type JoinRequest struct {
	UserID      int64
	Username    string
	FirstName   string
	LastName    string
	ChannelID   int64
	ChannelName string
	At          time.Time
}

type RecipientStats struct {
	Rows    int // recorded join requests
	Users   int // distinct users
	Blocked int // distinct users that blocked the bot
}

// AuditEntry records one finished broadcast run.
type AuditEntry struct {
	ID        int64
	At        time.Time
	RunID     string
	ActorID   int64
	Kind      string
	Attempted int
	Delivered int
	Failed    int
	Aborted   bool
	TookMS    int64
}

// Store is the persistence API shared by every driver.
type Store interface {
	// RecordJoin inserts a new row for every request, even repeated ones.
	RecordJoin(ctx context.Context, req JoinRequest) (Recipient, error)
	// SetBlocked sets the block flag on every row of userID and returns the
	// number of rows it matched. Repeating the call is harmless.
	SetBlocked(ctx context.Context, userID int64, blocked bool) (int, error)
	// ListNonBlocked returns distinct user ids without the block flag,
	// ordered by each user's first request.
	ListNonBlocked(ctx context.Context) ([]int64, error)
	// ExportAll returns every row ordered by row id.
	ExportAll(ctx context.Context) ([]Recipient, error)
	CountRecipients(ctx context.Context) (RecipientStats, error)

	// GetLink returns the stored channel link, creating the default one
	// when nothing is stored yet.
	GetLink(ctx context.Context) (string, error)
	// SetLink replaces the stored link. Concurrent writers: last one wins.
	SetLink(ctx context.Context, link string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns up to limit entries, newest first.
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	Close() error
}

func (r JoinRequest) normalized() JoinRequest {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return r
}

func (c Config) defaultLink() string {
	if c.DefaultLink != "" {
		return c.DefaultLink
	}
	return DefaultLink
}
