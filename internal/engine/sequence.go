package engine

import (
	"fmt"
)

// InterruptedResultText is the payload synthesized for a tool call that never got a result.
const InterruptedResultText = "ERROR: this tool call was interrupted before a result was recorded; call it again if still needed"

// SequenceGap describes an assistant message whose tool calls are not all answered by
// the next message.
type SequenceGap struct {
	Index      int      // index of the assistant message
	MissingIDs []string // tool-call ids without a result
	StrayIDs   []string // result ids in the next message with no matching call
}

// ValidateSequence returns every violation of the tool-call pairing rule.
func ValidateSequence(msgs []Message) []SequenceGap {
	var gaps []SequenceGap
	for i, msg := range msgs {
		var calls []ToolCall
		if msg.Role == RoleAssistant {
			calls = msg.ToolCalls()
		}

		answered := map[string]bool{}
		var next *Message
		if i+1 < len(msgs) && msgs[i+1].Role == RoleUser {
			next = &msgs[i+1]
			for _, r := range next.ToolResults() {
				answered[r.ToolCallID] = true
			}
		}

		gap := SequenceGap{Index: i}
		wanted := map[string]bool{}
		for _, c := range calls {
			wanted[c.ID] = true
			if !answered[c.ID] {
				gap.MissingIDs = append(gap.MissingIDs, c.ID)
			}
		}
		if next != nil {
			for _, r := range next.ToolResults() {
				if !wanted[r.ToolCallID] {
					gap.StrayIDs = append(gap.StrayIDs, r.ToolCallID)
				}
			}
		}
		if len(gap.MissingIDs) > 0 || len(gap.StrayIDs) > 0 {
			gaps = append(gaps, gap)
		}
	}

	// A results message at the start, or after another user message, answers nothing.
	for i, msg := range msgs {
		if msg.Role != RoleUser {
			continue
		}
		if i > 0 && msgs[i-1].Role == RoleAssistant {
			continue
		}
		var stray []string
		for _, r := range msg.ToolResults() {
			stray = append(stray, r.ToolCallID)
		}
		if len(stray) > 0 {
			gaps = append(gaps, SequenceGap{Index: i - 1, StrayIDs: stray})
		}
	}
	return gaps
}

// RepairSequence returns a history in which every tool call is answered by the very next
// message. Missing results become error placeholders; results with no matching call are
// dropped. The second return value counts the repairs made. The input is not modified.
func RepairSequence(msgs []Message) ([]Message, int) {
	out := make([]Message, 0, len(msgs)+1)
	repairs := 0

	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.Role == RoleUser {
			// Reached only when the previous message was not an assistant turn with calls
			// handled below, so any result blocks here are stray.
			cleaned, dropped := dropResults(msg, nil)
			repairs += dropped
			if !cleaned.Content.IsEmpty() {
				out = append(out, cleaned)
			}
			continue
		}

		out = append(out, msg)
		calls := msg.ToolCalls()
		if len(calls) == 0 {
			continue
		}

		var next *Message
		if i+1 < len(msgs) && msgs[i+1].Role == RoleUser {
			next = &msgs[i+1]
			i++
		}

		fixed, n := answerCalls(calls, next)
		repairs += n
		out = append(out, fixed)
	}
	return out, repairs
}

// answerCalls builds the user message that follows an assistant turn with calls. Results come
// first in call order, followed by whatever other blocks next carried.
func answerCalls(calls []ToolCall, next *Message) (Message, int) {
	existing := map[string]ToolResult{}
	var others []ContentBlock
	repairs := 0

	if next != nil {
		for _, b := range next.Content.Blocks() {
			if b.Kind == BlockToolResult && b.ToolResult != nil {
				existing[b.ToolResult.ToolCallID] = *b.ToolResult
				continue
			}
			others = append(others, b)
		}
	}

	blocks := make([]ContentBlock, 0, len(calls)+len(others))
	used := map[string]bool{}
	for _, c := range calls {
		if used[c.ID] {
			continue
		}
		used[c.ID] = true
		if r, ok := existing[c.ID]; ok {
			blocks = append(blocks, ToolResultBlock(r))
			continue
		}
		repairs++
		blocks = append(blocks, ToolResultBlock(placeholderResult(c.ID)))
	}
	for id := range existing {
		if !used[id] {
			repairs++
		}
	}
	blocks = append(blocks, others...)
	return Message{Role: RoleUser, Content: Blocks(blocks...)}, repairs
}

func dropResults(msg Message, keep map[string]bool) (Message, int) {
	if msg.Content.IsPlain() {
		return msg, 0
	}
	var blocks []ContentBlock
	dropped := 0
	for _, b := range msg.Content.Blocks() {
		if b.Kind == BlockToolResult && (b.ToolResult == nil || !keep[b.ToolResult.ToolCallID]) {
			dropped++
			continue
		}
		blocks = append(blocks, b)
	}
	if dropped == 0 {
		return msg, 0
	}
	return Message{Role: msg.Role, Content: Blocks(blocks...)}, dropped
}

func placeholderResult(callID string) ToolResult {
	return ToolResult{
		ToolCallID: callID,
		Parts:      []Part{TextPart(InterruptedResultText)},
		IsError:    true,
	}
}

// syntheticResults answers calls whose execution was skipped.
func syntheticResults(calls []ToolCall, reason string) Message {
	blocks := make([]ContentBlock, 0, len(calls))
	for _, c := range calls {
		blocks = append(blocks, ToolResultBlock(ToolResult{
			ToolCallID: c.ID,
			Parts:      []Part{TextPart(fmt.Sprintf("ERROR: %s was not executed: %s", c.Name, reason))},
			IsError:    true,
		}))
	}
	return Message{Role: RoleUser, Content: Blocks(blocks...)}
}
