package sqlgen

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

// compileGenerateGraph chains prompt -> model -> clean_sql. Prompt variables are
// ddl, documentation, examples and question.
func compileGenerateGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, string], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{question}"),
	)

	graph := compose.NewGraph[map[string]any, string]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add sqlgen prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add sqlgen model node: %w", err)
	}
	if err := graph.AddLambdaNode("clean_sql",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (string, error) {
			if msg == nil {
				return "", fmt.Errorf("%w: empty model reply", contractx.ErrSchemaViolation)
			}
			return CleanSQL(msg.Content), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add sqlgen clean node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prompt"},
		{"prompt", "model"},
		{"model", "clean_sql"},
		{"clean_sql", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add sqlgen edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("sqlgen.generate"))
	if err != nil {
		return nil, fmt.Errorf("compile sqlgen graph: %w", err)
	}
	return runner, nil
}
