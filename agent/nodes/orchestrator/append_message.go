package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
)

func AppendMessage(ctx context.Context, in *GraphState, api contractx.AssistantAPI) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: session is not resolved", contractx.ErrValidation)
	}
	if err := api.AddUserMessage(ctx, in.Session.ThreadID, in.Text); err != nil {
		return nil, fmt.Errorf("%w: add message: %w", contractx.ErrProcessing, err)
	}
	return in, nil
}
