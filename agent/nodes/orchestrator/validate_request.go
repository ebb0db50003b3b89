package orchestratornode

import (
	"strings"
	"time"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
)

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionKey := strings.TrimSpace(in.SessionKey)
	if sessionKey == "" {
		return nil, ErrInvalidSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	channel := in.Channel
	if channel == "" {
		channel = contractx.ChannelAPI
	}

	return &GraphState{
		SessionKey: sessionKey,
		Channel:    channel,
		Text:       text,
		Now:        nowFn().UTC(),
	}, nil
}
