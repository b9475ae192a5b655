package broadcast

import (
	"context"
	"errors"
	"fmt"

	kit "joingate/internal/transport"
	logx "joingate/pkg/logx"
)

// OperatorSink forwards delivery failures to operator chats as one message
// holding the error text and the recipient id.
type OperatorSink struct {
	sender  kit.Adapter
	targets func() []int64
}

// NewOperatorSink sends to the chats returned by targets at the time of each
// failure, so a config reload takes effect mid-run.
func NewOperatorSink(sender kit.Adapter, targets func() []int64) *OperatorSink {
	return &OperatorSink{sender: sender, targets: targets}
}

func (s *OperatorSink) DeliveryFailed(ctx context.Context, recipientID int64, err error) error {
	text := fmt.Sprintf("%v\n%d", err, recipientID)
	var errs []error
	for _, chatID := range s.targets() {
		if _, serr := s.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil); serr != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, serr))
		}
	}
	return errors.Join(errs...)
}

// LogSink records delivery failures in the log.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) DeliveryFailed(ctx context.Context, recipientID int64, err error) error {
	s.log.Warn("broadcast delivery failed", logx.Int64("recipient_id", recipientID), logx.Err(err))
	return nil
}

// MultiSink fans a failure out to several sinks.
type MultiSink []DiagnosticSink

func (m MultiSink) DeliveryFailed(ctx context.Context, recipientID int64, err error) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if serr := s.DeliveryFailed(ctx, recipientID, err); serr != nil {
			errs = append(errs, serr)
		}
	}
	return errors.Join(errs...)
}
