package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martindkaz/email-reader/internal/agent"
	"github.com/martindkaz/email-reader/internal/tools"
)

var (
	agentModel     string
	agentMaxTokens int
	agentShowSteps bool
)

var agentCmd = &cobra.Command{
	Use:   "agent [query...]",
	Short: "Ask an LLM agent that can search your mailbox",
	Long: `Run a tool-use agent that answers questions about your Outlook mailbox.
The agent calls the search_emails, get_email_details, and
list_email_attachments tools as it sees fit until it has an answer.

With arguments, runs a single query and exits. Without, starts an
interactive session.

Requires ANTHROPIC_API_KEY in the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Agent.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}

		model := agentModel
		if model == "" {
			model = cfg.Agent.Model
		}
		maxTokens := agentMaxTokens
		if maxTokens == 0 {
			maxTokens = cfg.Agent.MaxTokens
		}

		session, err := newSession()
		if err != nil {
			return err
		}
		bridge := tools.NewBridge(session, tools.WithLogger(logger))
		engine := agent.NewAnthropicClient(cfg.Agent.APIKey, model,
			agent.WithMaxTokens(maxTokens),
			agent.WithAnthropicLogger(logger),
		)
		ctrl := agent.New(engine, bridge, logger)

		if len(args) > 0 {
			return runAgentQuery(cmd.Context(), ctrl, strings.Join(args, " "))
		}
		return runAgentInteractive(ctrl, model)
	},
}

// runAgentQuery processes one query, optionally showing intermediate
// steps, and prints the final answer.
func runAgentQuery(ctx context.Context, ctrl *agent.Controller, query string) error {
	if !agentShowSteps {
		answer, err := ctrl.Run(ctx, query)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	steps, done := ctrl.Stream(ctx, query)
	for step := range steps {
		switch step.Kind {
		case agent.StepReasoning:
			for _, call := range step.Reply.ToolCalls {
				fmt.Fprintf(os.Stderr, "[tool call: %s]\n", call.Name)
			}
		case agent.StepToolResult:
			fmt.Fprintf(os.Stderr, "[%s returned %d chars]\n", step.ToolName, len(step.Result))
		case agent.StepDone:
			fmt.Println(step.Final)
		}
	}
	res := <-done
	return res.Err
}

// runAgentInteractive is the REPL. Ctrl+C cancels the current request,
// not the session.
func runAgentInteractive(ctrl *agent.Controller, model string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	fmt.Printf("email-reader agent (model: %s)\n", model)
	fmt.Println("This agent can search and analyze your Outlook mailbox.")
	fmt.Println("Type your question, or 'quit' to exit. Ctrl+C cancels the current request.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" || line == "q" {
			break
		}

		reqCtx, reqCancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-sigCh:
				reqCancel()
			case <-reqCtx.Done():
			}
		}()

		if err := runAgentQuery(reqCtx, ctrl, line); err != nil {
			if reqCtx.Err() != nil {
				fmt.Fprintln(os.Stderr, "\n(cancelled)")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		}
		reqCancel()
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVar(&agentModel, "model", "", "Model name (default from config)")
	agentCmd.Flags().IntVar(&agentMaxTokens, "max-tokens", 0, "Max tokens per response (default from config)")
	agentCmd.Flags().BoolVar(&agentShowSteps, "show-steps", false, "Print tool calls and results as they happen")
}
