package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
)

const EmptyReply = "Error: Assistant returned an empty response"

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = EmptyReply
	}
	return GraphOutput{Reply: reply}, nil
}
