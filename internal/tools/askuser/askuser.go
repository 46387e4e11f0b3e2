// Package askuser provides the ask_user tool.
package askuser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/humaninput"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

// CancelledText is what the model sees when nobody answers in time.
const CancelledText = "The user did not answer (cancelled). Proceed with your best judgment, or call save_progress if you cannot continue without an answer."

// NewTool returns ask_user backed by asker.
func NewTool(asker engine.Asker) engine.Tool {
	return engine.Tool{
		Name:        "ask_user",
		Description: "Asks the human operator a question and waits for the answer. Provide options for a multiple-choice question; omit them for free text. Use for ambiguous meet names, missing URLs or confirming before long pipeline runs.",
		SchemaJSON:  `{"type":"object","properties":{"question":{"type":"string"},"options":{"type":"array","items":{"type":"string"},"description":"Allowed answers; the user may also reply with the option number"}},"required":["question"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			question, err := toolkit.String(args, "question")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			options := toolkit.Strings(args, "options")

			answer, err := asker.Ask(ctx, question, options)
			switch {
			case err == nil:
				return engine.TextOutput(fmt.Sprintf("User answered: %s", strings.TrimSpace(answer))), nil
			case errors.Is(err, humaninput.ErrCancelled):
				return engine.TextOutput(CancelledText), nil
			case ctx.Err() != nil:
				return engine.ToolOutput{}, ctx.Err()
			case errors.Is(err, humaninput.ErrBusy):
				return engine.ErrorOutput("another question is already waiting for an answer; ask one question at a time"), nil
			default:
				return engine.ErrorOutput("ask_user failed: %v", err), nil
			}
		},
		Metadata: engine.ToolMetadata{Category: "interaction"},
	}
}
