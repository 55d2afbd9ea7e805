package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"
)

type indexedCall struct {
	idx  int
	call ToolCallRecord
}

// executeTools runs the calls of one terminal event and returns their result
// messages in index order. Tools marked Parallel run concurrently with each
// other; everything else runs sequentially. Results completing after
// cancellation are dropped, and the bool reports whether the round was cut
// short.
func (s *runStream) executeTools(calls []ToolCallRecord, tools []Tool, logger *slog.Logger) ([]Message, bool) {
	if len(calls) == 0 {
		return nil, false
	}

	toolMap := map[string]Tool{}
	for _, t := range tools {
		toolMap[t.Spec().Name] = t
	}

	// Split serial and parallel calls, preserving original positions so the
	// result messages flush in index order regardless of completion order.
	var serialCalls, parallelCalls []indexedCall
	for i, call := range calls {
		tool, ok := toolMap[call.Name]
		if ok && tool.Spec().Parallel {
			parallelCalls = append(parallelCalls, indexedCall{idx: i, call: call})
		} else {
			serialCalls = append(serialCalls, indexedCall{idx: i, call: call})
		}
	}

	results := make([]*ToolResult, len(calls))
	cancelled := false

	for _, ic := range serialCalls {
		if s.ctx.Err() != nil {
			cancelled = true
			break
		}
		res := s.executeSingleTool(ic.call, toolMap, logger)
		if s.ctx.Err() != nil {
			// In-flight executors run to completion, but their results are
			// only appended if the run is still live.
			cancelled = true
			break
		}
		results[ic.idx] = &res
	}

	if !cancelled && len(parallelCalls) > 0 {
		type item struct {
			idx int
			res ToolResult
		}
		out := make(chan item, len(parallelCalls))
		var wg sync.WaitGroup

		for _, ic := range parallelCalls {
			wg.Go(func() {
				if s.ctx.Err() != nil {
					return
				}
				res := s.executeSingleTool(ic.call, toolMap, logger)
				out <- item{idx: ic.idx, res: res}
			})
		}
		wg.Wait()
		close(out)

		if s.ctx.Err() != nil {
			cancelled = true
		} else {
			for it := range out {
				results[it.idx] = &it.res
			}
		}
	}

	msgs := make([]Message, 0, len(calls))
	for _, res := range results {
		if res == nil {
			continue
		}
		msgs = append(msgs, Message{
			Role:       RoleTool,
			Content:    res.Content,
			ToolCallID: res.CallID,
		})
	}
	return msgs, cancelled
}

func (s *runStream) executeSingleTool(call ToolCallRecord, toolMap map[string]Tool, logger *slog.Logger) ToolResult {
	tool, ok := toolMap[call.Name]
	if !ok {
		logger.Warn("tool not found", "name", call.Name, "call_id", call.CallID)
		return toolNotFoundResult(call)
	}
	if call.ArgsJSON != "" && !gjson.Valid(call.ArgsJSON) {
		logger.Warn("unparseable tool arguments", "name", call.Name, "call_id", call.CallID)
		return argumentErrorResult(call)
	}

	s.emit(RunEvent{Type: RunEventToolExecStart, ToolCallID: call.CallID, ToolName: call.Name, ToolArgs: call.ArgsJSON})

	toolCtx, cancel := context.WithCancel(s.ctx)
	res, err := tool.Execute(toolCtx, call)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res = interruptedToolResult(call)
		} else {
			res = errorToolResult(call, err)
		}
	}
	if res.CallID == "" {
		res.CallID = call.CallID
	}
	if res.Name == "" {
		res.Name = call.Name
	}

	s.emit(RunEvent{Type: RunEventToolExecEnd, ToolCallID: call.CallID, ToolName: call.Name, ToolArgs: call.ArgsJSON, ToolResult: &res})
	return res
}

func toolNotFoundResult(call ToolCallRecord) ToolResult {
	return ToolResult{
		CallID:  call.CallID,
		Name:    call.Name,
		IsError: true,
		Content: fmt.Sprintf("tool not found: %s", call.Name),
	}
}

func argumentErrorResult(call ToolCallRecord) ToolResult {
	return ToolResult{
		CallID:  call.CallID,
		Name:    call.Name,
		IsError: true,
		Content: "tool arguments are not valid JSON",
	}
}

func interruptedToolResult(call ToolCallRecord) ToolResult {
	return ToolResult{
		CallID:  call.CallID,
		Name:    call.Name,
		IsError: true,
		Content: "tool call interrupted",
	}
}

func errorToolResult(call ToolCallRecord, err error) ToolResult {
	return ToolResult{
		CallID:  call.CallID,
		Name:    call.Name,
		IsError: true,
		Content: err.Error(),
	}
}
