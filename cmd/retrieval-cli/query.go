package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sitesage-ai/retrieval-engine/internal/retrieval"
	"github.com/sitesage-ai/retrieval-engine/pkg/engine"
)

func newQueryCmd() *cobra.Command {
	var domainStr string

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Run a classified, strategy-routed query against a domain",
		Long: `Classify the question, route it through the retrieval strategies and
print the scored results with the validation verdict.

Example:
  retrieval-cli query --domain 8f14e45f-... "pumps under \$50"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domainID, err := uuid.Parse(domainStr)
			if err != nil {
				return fmt.Errorf("invalid --domain: %w", err)
			}
			return runQuery(cmd.Context(), domainID, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&domainStr, "domain", "d", "", "domain UUID (required)")
	cmd.MarkFlagRequired("domain")
	return cmd
}

func runQuery(ctx context.Context, domainID uuid.UUID, question string) error {
	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	var spin *spinner.Spinner
	if !outputJSON {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = " retrieving..."
		spin.Start()
	}

	resp, err := eng.Retrieve(ctx, domainID, question)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}

	printResponse(resp)
	return nil
}

func printResponse(resp *retrieval.Response) {
	bold := color.New(color.Bold)
	bold.Printf("Intent: %s (confidence %.2f)\n", resp.Intent.Type, resp.Intent.Confidence)
	fmt.Printf("Strategies: %s\n", joinKinds(resp.Attempted))
	printVerdict(resp.Report.Verdict)
	fmt.Println()

	if len(resp.Results) == 0 {
		color.New(color.FgYellow).Println("No results.")
		return
	}
	for i, res := range resp.Results {
		bold.Printf("%d. [%.2f %s]\n", i+1, res.Score, res.MatchKind)
		fmt.Printf("   %s\n", truncate(res.Text, 200))
	}
	fmt.Printf("\n%d results in %dms", len(resp.Results), resp.Duration.Milliseconds())
	if resp.FromCache {
		fmt.Print(" (cached)")
	}
	fmt.Println()
}

func printVerdict(v retrieval.Verdict) {
	switch v {
	case retrieval.VerdictExcellent, retrieval.VerdictGood:
		color.New(color.FgGreen).Printf("Quality: %s\n", v)
	case retrieval.VerdictFair:
		color.New(color.FgYellow).Printf("Quality: %s\n", v)
	default:
		color.New(color.FgRed).Printf("Quality: %s\n", v)
	}
}

func joinKinds(kinds []retrieval.StrategyKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, " → ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
