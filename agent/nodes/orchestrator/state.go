package orchestratornode

import (
	"errors"
	"time"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	statex "github.com/Champsson/Kooler-Agent/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = statex.ErrInvalidSession
)

type GraphInput struct {
	SessionKey string
	Channel    contractx.Channel
	Text       string
}

type GraphOutput struct {
	Reply string
}

type GraphState struct {
	SessionKey string
	Channel    contractx.Channel
	Text       string
	Now        time.Time

	Session *statex.ConversationSession

	Reply string
}
