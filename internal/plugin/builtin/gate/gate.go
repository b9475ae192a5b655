// Package gate records channel join requests, walks new users through the
// "I am human" check and tracks whether they blocked the bot.
package gate

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"joingate/internal/config"
	"joingate/internal/eventbus"
	"joingate/internal/plugin"
	"joingate/internal/storage"
	kit "joingate/internal/transport"
	"joingate/internal/transport/telegram/router"
	logx "joingate/pkg/logx"
	"joingate/pkg/tgui"
)

const (
	HumanButton = "👤 Я человек!"

	greetingText    = "👋 Доброго времени суток! Благодарим вас за подписку на наш канал! Для принятия вашей заявки, подтвердите, что вы человек, нажав кнопку ниже! ✅"
	subscribeText   = "📢 Пожалуйста, подпишитесь на этот канал!"
	subscribeButton = "📢 Подписаться"
	thanksText      = "🙏 Спасибо за вашу заявку на подписку! Модераторы рассмотрят её в ближайшее время! ⏰"
	failureText     = "❌ Ошибка при нажатии на кнопку Я человек - %v"

	DefaultFollowupDelay = 90 * time.Second
	followupTimeout      = 30 * time.Second
)

// BlockChange is the payload of recipient.blocked and recipient.unblocked.
type BlockChange struct {
	UserID int64
	Rows   int
}

type Plugin struct {
	plugin.Base

	mu    sync.RWMutex
	delay time.Duration
}

func New() *Plugin { return &Plugin{delay: DefaultFollowupDelay} }

func (p *Plugin) Name() string { return "gate" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return fmt.Errorf("storage not available")
	}
	if deps.Config != nil {
		if cfg := deps.Config.Get(); cfg != nil {
			return p.OnConfigChange(ctx, cfg)
		}
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) OnConfigChange(ctx context.Context, cfg *config.Config) error {
	d, err := config.ParseDuration("gate.followup_delay", cfg.Gate.FollowupDelay, DefaultFollowupDelay)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
	return nil
}

func (p *Plugin) followupDelay() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delay
}

func (p *Plugin) Events() []router.EventRoute {
	return []router.EventRoute{
		{Name: "join_request", Kind: kit.UpdateJoinRequest, Timeout: 15 * time.Second, Handle: p.onJoinRequest},
		{Name: "member_status", Kind: kit.UpdateMemberStatus, Timeout: 15 * time.Second, Handle: p.onMemberStatus},
	}
}

func (p *Plugin) Messages() []router.MessageRoute {
	return []router.MessageRoute{{
		Name:    "human",
		Access:  router.AccessEveryone,
		Timeout: 15 * time.Second,
		Match: func(ctx context.Context, req *router.Request) bool {
			m := req.Message()
			return m != nil && m.Media == nil && m.Text == HumanButton
		},
		Handle: p.onHuman,
	}}
}

func (p *Plugin) onJoinRequest(ctx context.Context, req *router.Request) error {
	jr := req.Update.JoinRequest
	rec, err := p.Deps.Store.RecordJoin(ctx, storage.JoinRequest{
		UserID:      jr.UserID,
		Username:    jr.Username,
		FirstName:   jr.FirstName,
		LastName:    jr.LastName,
		ChannelID:   jr.ChatID,
		ChannelName: jr.ChatTitle,
		At:          jr.At,
	})
	if err != nil {
		return fmt.Errorf("record join: %w", err)
	}
	p.PublishEvent(eventbus.JoinRecorded, rec)

	if _, err := p.Deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: jr.UserID}, greetingText, tgui.ReplyButton(HumanButton)); err != nil {
		return fmt.Errorf("greet user %d: %w", jr.UserID, err)
	}
	return nil
}

// onHuman answers the verification button with the channel link and
// schedules the thank-you message. The thank-you is scheduled even when the
// link message fails; admins get the error.
func (p *Plugin) onHuman(ctx context.Context, req *router.Request) error {
	userID := req.FromID
	sendErr := p.sendSubscribe(ctx, userID)
	if sendErr != nil {
		req.Logger.Warn("subscribe prompt failed", logx.Err(sendErr))
		if err := p.NotifyAdmins(ctx, fmt.Sprintf(failureText, sendErr), nil); err != nil {
			req.Logger.Warn("admin notice failed", logx.Err(err))
		}
	}

	err := p.After("followup:"+strconv.FormatInt(userID, 10), p.followupDelay(), followupTimeout, func(ctx context.Context) error {
		_, err := p.Deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: userID}, thanksText, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("schedule follow-up: %w", err)
	}
	return sendErr
}

func (p *Plugin) sendSubscribe(ctx context.Context, userID int64) error {
	link, err := p.Deps.Store.GetLink(ctx)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	opt := tgui.NewInline().Row(tgui.URLBtn(subscribeButton, link)).Options()
	_, err = p.Deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: userID}, subscribeText, opt)
	return err
}

// onMemberStatus tracks the bot's own private chats: "kicked" means the user
// blocked the bot, "member" means they came back.
func (p *Plugin) onMemberStatus(ctx context.Context, req *router.Request) error {
	ms := req.Update.MemberStatus
	if ms.ChatID != ms.UserID {
		return nil
	}
	var blocked bool
	var typ string
	switch ms.NewStatus {
	case kit.MemberKicked:
		blocked, typ = true, eventbus.RecipientBlocked
	case kit.MemberJoined:
		blocked, typ = false, eventbus.RecipientUnblocked
	default:
		return nil
	}
	n, err := p.Deps.Store.SetBlocked(ctx, ms.UserID, blocked)
	if err != nil {
		return fmt.Errorf("set blocked=%v for %d: %w", blocked, ms.UserID, err)
	}
	req.Logger.Info("block flag changed", logx.Bool("blocked", blocked), logx.Int("rows", n))
	p.PublishEvent(typ, BlockChange{UserID: ms.UserID, Rows: n})
	return nil
}
