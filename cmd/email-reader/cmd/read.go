package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martindkaz/email-reader/internal/graph"
	"github.com/martindkaz/email-reader/internal/ledger"
)

var (
	readTo             string
	readQueryRaw       string
	readQueryAnd       string
	readQueryOr        string
	readQueryPhrase    string
	readQuerySingle    string
	readOneByOne       bool
	readIgnorePrevious bool
	readPageSize       int
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Walk mailbox search results, skipping previously seen messages",
	Long: `Walk messages matching a search, deduplicating against the local ledger
of previously processed messages.

Two modes:
  --one-by-one   interactive: fetch and show one message at a time
  (default)      batch: fetch a page of results and print one combined document

The query is given either as --to <address> (messages sent to that
address) or as exactly one of the --query* flags, which select how the
text is embedded in the search expression.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newSession()
		if err != nil {
			return err
		}
		if err := session.Connect(cmd.Context()); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		ts, err := session.TokenSource()
		if err != nil {
			return err
		}

		client := graph.NewClient(ts,
			graph.WithEndpoint(cfg.Graph.Endpoint),
			graph.WithLogger(logger),
		)
		defer client.ReleaseScratchDir()

		led := openLedger(readIgnorePrevious)
		defer led.Close()

		if readOneByOne {
			return walkOneByOne(cmd.Context(), client, led)
		}
		return walkBatch(cmd.Context(), client, led)
	},
}

// resolveQuery maps the mutually exclusive query flags to one query
// string and match mode. --to doubles as a recipient query in batch mode.
func resolveQuery() (string, graph.MatchMode, error) {
	switch {
	case readQueryRaw != "":
		return readQueryRaw, graph.MatchRaw, nil
	case readQueryAnd != "":
		return readQueryAnd, graph.MatchAnd, nil
	case readQueryOr != "":
		return readQueryOr, graph.MatchOr, nil
	case readQueryPhrase != "":
		return readQueryPhrase, graph.MatchPhrase, nil
	case readQuerySingle != "":
		return readQuerySingle, graph.MatchSingle, nil
	case readTo != "":
		return "to:" + readTo, graph.MatchSingle, nil
	}
	return "", graph.MatchRaw, fmt.Errorf("no query given: use --to or one of the --query* flags")
}

// walkOneByOne fetches one message per cursor step, showing each new one
// in full and waiting for the user between messages.
func walkOneByOne(ctx context.Context, client *graph.Client, led ledger.Ledger) error {
	if readTo == "" {
		return fmt.Errorf("--one-by-one requires --to")
	}

	stdin := bufio.NewScanner(os.Stdin)
	cursor := ""
	shown := 0
	for {
		if ctx.Err() != nil {
			fmt.Println("\nInterrupted.")
			return nil
		}

		msg, next, err := client.GetNext(ctx, readTo, cursor)
		if err != nil {
			return err
		}
		if msg == nil {
			fmt.Printf("No more emails. Showed %d new message(s); ledger holds %d.\n", shown, led.Count())
			return nil
		}

		if led.IsProcessed(msg.InternetMessageID) {
			fmt.Printf("Skipping already processed: %s\n", msg.Subject)
		} else {
			fmt.Println(client.RenderFull(ctx, msg))
			// One message's attachments at a time on disk.
			client.ReleaseScratchDir()
			if err := led.MarkProcessed(msg.InternetMessageID); err != nil {
				logger.Warn("record processed message failed", "error", err)
			}
			shown++
		}

		if next == "" {
			fmt.Printf("End of results. Showed %d new message(s).\n", shown)
			return nil
		}
		cursor = next

		fmt.Print("\nPress Enter for the next email, q to quit: ")
		if !stdin.Scan() {
			return nil
		}
		if strings.TrimSpace(stdin.Text()) == "q" {
			return nil
		}
	}
}

// walkBatch follows cursors until the page size is filled or the results
// run out, then prints one combined document of the unseen messages.
func walkBatch(ctx context.Context, client *graph.Client, led ledger.Ledger) error {
	query, mode, err := resolveQuery()
	if err != nil {
		return err
	}

	var fresh []graph.Message
	cursor := ""
	pages := 0
	for {
		msgs, next, err := client.Search(ctx, query, readPageSize, cursor, mode)
		if err != nil {
			return err
		}
		pages++
		for _, m := range msgs {
			if !led.IsProcessed(m.InternetMessageID) {
				fresh = append(fresh, m)
			}
		}
		if next == "" || len(fresh) >= readPageSize || ctx.Err() != nil {
			break
		}
		cursor = next
	}

	if len(fresh) == 0 {
		fmt.Println("No new emails found.")
		return nil
	}

	fmt.Println(client.RenderBatch(fresh))
	fmt.Printf("\n%d new message(s) across %d page(s).\n", len(fresh), pages)

	for _, m := range fresh {
		if err := led.MarkProcessed(m.InternetMessageID); err != nil {
			logger.Warn("record processed message failed", "error", err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().StringVar(&readTo, "to", "", "Walk messages sent to this address")
	readCmd.Flags().StringVar(&readQueryRaw, "query", "", "Search query, passed through unchanged")
	readCmd.Flags().StringVar(&readQueryAnd, "query-and", "", "Search query, all words must match")
	readCmd.Flags().StringVar(&readQueryOr, "query-or", "", "Search query, any word matches")
	readCmd.Flags().StringVar(&readQueryPhrase, "query-phrase", "", "Search query as one exact phrase")
	readCmd.Flags().StringVar(&readQuerySingle, "query-single", "", "Search query quoted once, not tokenized")
	readCmd.Flags().BoolVar(&readOneByOne, "one-by-one", false, "Interactive one-message-at-a-time walk")
	readCmd.Flags().BoolVar(&readIgnorePrevious, "ignore-previous", false, "Bypass the processed-message ledger")
	readCmd.Flags().IntVar(&readPageSize, "page-size", 25, "Messages per batch")
	readCmd.MarkFlagsMutuallyExclusive("query", "query-and", "query-or", "query-phrase", "query-single")
}
