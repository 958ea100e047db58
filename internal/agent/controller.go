package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/martindkaz/email-reader/internal/tools"
)

// StepKind identifies what a Step reports.
type StepKind string

const (
	// StepReasoning is emitted after each engine response.
	StepReasoning StepKind = "reasoning"
	// StepToolResult is emitted after each tool dispatch.
	StepToolResult StepKind = "tool_result"
	// StepDone is emitted once, with the final answer.
	StepDone StepKind = "done"
)

// Step is one observable state transition of the loop.
type Step struct {
	Kind     StepKind
	Reply    *Reply // set for StepReasoning
	ToolName string // set for StepToolResult
	Result   string // set for StepToolResult
	Final    string // set for StepDone
}

// Result is the terminal outcome of a loop run.
type Result struct {
	Answer string
	Err    error
}

// Controller runs the tool-use loop over an append-only conversation log.
// It is single-threaded: one query at a time, no concurrent calls.
type Controller struct {
	engine  Engine
	bridge  *tools.Bridge
	logger  *slog.Logger
	history []Turn
}

// New creates a controller over the given engine and bridge.
func New(engine Engine, bridge *tools.Bridge, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{engine: engine, bridge: bridge, logger: logger}
}

// Run processes one user query to completion and returns the final
// answer. Blocking variant of the loop.
func (c *Controller) Run(ctx context.Context, userQuery string) (string, error) {
	return c.loop(ctx, userQuery, func(Step) {})
}

// Start runs the loop in the background and delivers the terminal result
// on the returned channel. Identical semantics to Run.
func (c *Controller) Start(ctx context.Context, userQuery string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		answer, err := c.loop(ctx, userQuery, func(Step) {})
		ch <- Result{Answer: answer, Err: err}
	}()
	return ch
}

// Stream runs the loop and yields a Step after every reasoning response
// and every tool dispatch, for observability. The terminal result arrives
// on the second channel after the step channel closes.
func (c *Controller) Stream(ctx context.Context, userQuery string) (<-chan Step, <-chan Result) {
	steps := make(chan Step)
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		answer, err := c.loop(ctx, userQuery, func(s Step) { steps <- s })
		close(steps)
		done <- Result{Answer: answer, Err: err}
	}()
	return steps, done
}

// loop is the shared state machine: awaiting-response, then dispatching
// any requested tool calls in order, until a response carries none.
//
// The bridge session is established before the first reasoning step and
// bridge-held scratch resources are released on every exit path.
func (c *Controller) loop(ctx context.Context, userQuery string, emit func(Step)) (string, error) {
	if err := c.bridge.EnsureSession(ctx); err != nil {
		return "", fmt.Errorf("establish tool session: %w", err)
	}
	defer c.bridge.Close()

	c.history = append(c.history, userTurn(userQuery))

	for {
		reply, err := c.engine.Respond(ctx, c.history, tools.Catalog())
		if err != nil {
			return "", fmt.Errorf("reasoning step: %w", err)
		}
		c.history = append(c.history, Turn{Role: RoleAssistant, Content: reply.Raw})
		emit(Step{Kind: StepReasoning, Reply: reply})

		if len(reply.ToolCalls) == 0 {
			emit(Step{Kind: StepDone, Final: reply.Text})
			return reply.Text, nil
		}

		results := make([]ContentBlock, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			c.logger.Info("dispatching tool call", "tool", call.Name)
			text, err := c.bridge.Call(ctx, call.Name, call.Args)
			if err != nil {
				// Only session establishment can error, and it already
				// succeeded; treat a late credential loss as fatal.
				return "", err
			}
			results = append(results, toolResultBlock(call.ID, text))
			emit(Step{Kind: StepToolResult, ToolName: call.Name, Result: text})
		}
		c.history = append(c.history, Turn{Role: RoleUser, Content: results})
	}
}

// History returns the conversation log accumulated so far.
func (c *Controller) History() []Turn {
	return c.history
}
