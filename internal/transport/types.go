package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage      UpdateKind = "message"
	UpdateCallback     UpdateKind = "callback"
	UpdateJoinRequest  UpdateKind = "join_request"
	UpdateMemberStatus UpdateKind = "member_status"
)

type Update struct {
	Kind         UpdateKind
	Message      *Message
	Callback     *Callback
	JoinRequest  *JoinRequest
	MemberStatus *MemberStatus
}

// SenderID returns the platform user that caused the update (0 if unknown).
func (u Update) SenderID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.FromID
	case u.Callback != nil:
		return u.Callback.FromID
	case u.JoinRequest != nil:
		return u.JoinRequest.UserID
	case u.MemberStatus != nil:
		return u.MemberStatus.UserID
	}
	return 0
}

type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaVideoNote MediaKind = "video_note"
)

// Media references a file already stored on the platform.
type Media struct {
	Kind   MediaKind
	FileID string
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Caption      string
	Media        *Media // nil for plain text
	IsPrivate    bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// JoinRequest is a pending request to join a channel or group the bot administers.
type JoinRequest struct {
	ChatID    int64
	ChatTitle string
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	At        time.Time
}

// Member statuses reported for the bot's own private chats.
const (
	MemberKicked = "kicked"
	MemberJoined = "member"
)

// MemberStatus reports a change of the bot's membership in a chat with a
// user; "kicked" means the user blocked the bot.
type MemberStatus struct {
	ChatID    int64
	UserID    int64
	OldStatus string
	NewStatus string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is a single inline button: URL buttons open a link, Data buttons
// produce callbacks.
type Button struct {
	Text string
	URL  string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// Keyboard is rendered as an inline keyboard when ReplyMarkupAdapter is nil.
	Keyboard [][]Button
	// ReplyKeyboard is a persistent reply keyboard of plain text buttons.
	// It is ignored when Keyboard is set.
	ReplyKeyboard [][]string
	// RemoveKeyboard hides a previously sent reply keyboard.
	RemoveKeyboard bool
	// ReplyMarkupAdapter carries adapter-specific markup (Telegram: *telebot.ReplyMarkup).
	ReplyMarkupAdapter any
}

// Document is an in-memory file upload.
type Document struct {
	Name string
	Data []byte
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, media Media, caption string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, doc Document, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a
// platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
