package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	nodex "github.com/Champsson/Kooler-Agent/agent/nodes/orchestrator"
)

func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_thread",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ResolveThread(ctx, in, o.store, o.api, &o.threads)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_thread: %w", err)
	}

	if err := graph.AddLambdaNode("append_message",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.AppendMessage(ctx, in, o.api)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node append_message: %w", err)
	}

	if err := graph.AddLambdaNode("run_assistant",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			assistantID, err := o.AssistantID(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", contractx.ErrProcessing, err)
			}
			return nodex.RunAssistant(ctx, in, o.api, o.tools, nodex.RunOptions{
				AssistantID:  assistantID,
				Stream:       o.cfg.Stream,
				PollInterval: o.cfg.PollInterval,
				Timeout:      o.cfg.RunTimeout,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_assistant: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "resolve_thread"},
		{"resolve_thread", "append_message"},
		{"append_message", "run_assistant"},
		{"run_assistant", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
