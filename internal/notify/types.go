package notify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrBadTarget = errors.New("invalid delivery target")
)

type Config struct {
	Token      string
	RatePerSec int // outbound messages per second, shared across owners
}

// Target identifies a delivery destination. The scheduler treats targets
// as opaque strings; this is the telegram-shaped decoding of them:
// "chatID" or "chatID:threadID".
type Target struct {
	ChatID   int64
	ThreadID int
}

func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrBadTarget)
	}
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q", ErrBadTarget, s)
	}
	t := Target{ChatID: chatID}
	if hasThread {
		threadID, err := strconv.Atoi(threadPart)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q", ErrBadTarget, s)
		}
		t.ThreadID = threadID
	}
	return t, nil
}

func (t Target) String() string {
	if t.ThreadID != 0 {
		return fmt.Sprintf("%d:%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}
