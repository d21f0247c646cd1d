// Package notify delivers reminder payloads to Telegram chats. Payloads
// are sent with HTML formatting first and retried once as plain text when
// Telegram rejects the markup, so a malformed payload degrades instead of
// failing delivery.
package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"remindd/pkg/logx"
)

// sendFunc performs one raw send. Split out so tests can run the fallback
// logic without a bot.
type sendFunc func(ctx context.Context, to Target, text string, html bool) error

type Service struct {
	log     logx.Logger
	limiter *rate.Limiter
	send    sendFunc
}

// New builds a Telegram-backed notifier.
func New(cfg Config, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrDisabled
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return newWithSender(cfg, log, telegramSender(bot)), nil
}

func newWithSender(cfg Config, log logx.Logger, send sendFunc) *Service {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		send:    send,
	}
}

// Send delivers a payload to the opaque target descriptor. Blocks on the
// shared rate limiter; the caller bounds the whole call with its context.
func (s *Service) Send(ctx context.Context, target, payload string) error {
	to, err := ParseTarget(target)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	err = s.send(ctx, to, payload, true)
	if err == nil {
		return nil
	}
	if !isFormatError(err) {
		return err
	}

	// Telegram rejected the entities, not the message. Retry unformatted.
	s.log.Debug("html send rejected, retrying plain",
		logx.String("target", to.String()), logx.Err(err))
	return s.send(ctx, to, payload, false)
}

func telegramSender(bot *tele.Bot) sendFunc {
	return func(ctx context.Context, to Target, text string, html bool) error {
		opts := &tele.SendOptions{
			ThreadID:              to.ThreadID,
			DisableWebPagePreview: true,
		}
		if html {
			opts.ParseMode = tele.ModeHTML
		}
		_, err := bot.Send(tele.ChatID(to.ChatID), text, opts)
		return err
	}
}

// isFormatError recognizes Telegram's entity-parsing rejections, the only
// failures worth a plain-text retry.
func isFormatError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "can't parse entities") ||
		strings.Contains(msg, "unsupported start tag") ||
		strings.Contains(msg, "can't find end of the entity")
}
