package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/siherrmann/knowledge/core/dispatch"
	"github.com/siherrmann/knowledge/core/tools"
	"github.com/spf13/cobra"
)

// defaultCallTimeout bounds one-off calls on top of the tool timeouts.
const defaultCallTimeout = 2 * time.Minute

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [arguments]",
		Short: "Run a single tool call and print its result",
		Long: `Run a single tool call and print its result.

Arguments are a JSON object, "-" reads them from stdin.

Examples:
  knowledge call kb_search '{"query":"connection pooling","limit":5}'
  knowledge call kb_stats
  cat entries.json | knowledge call kb_bulk_import -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if len(args) == 2 {
				raw = json.RawMessage(args[1])
				if args[1] == "-" {
					b, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("error reading arguments: %w", err)
					}
					raw = b
				}
			}
			return runCall(cmd, args[0], raw)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the database and embedder, exit non-zero when unhealthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, tools.NameHealth, nil)
		},
	}
}

func runCall(cmd *cobra.Command, name string, raw json.RawMessage) error {
	k, _, err := open()
	if err != nil {
		return err
	}
	defer k.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCallTimeout)
	defer cancel()

	result := k.CallTool(ctx, name, raw)
	if err := printResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if code, message, ok := dispatch.DecodeError(result); ok {
		return fmt.Errorf("%s failed with %s: %s", name, code, message)
	}
	if name == tools.NameHealth && unhealthy(result) {
		return fmt.Errorf("knowledge base is unhealthy")
	}
	return nil
}

func printResult(w io.Writer, result *dispatch.Result) error {
	for _, content := range result.Content {
		if _, err := fmt.Fprintln(w, content.Text); err != nil {
			return err
		}
	}
	return nil
}

func unhealthy(result *dispatch.Result) bool {
	var health tools.HealthResponse
	if len(result.Content) == 0 || json.Unmarshal([]byte(result.Content[0].Text), &health) != nil {
		return true
	}
	return health.Status == tools.StatusUnhealthy
}
