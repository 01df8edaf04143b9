package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sitesage-ai/retrieval-engine/internal/storage"
	"github.com/sitesage-ai/retrieval-engine/pkg/engine"
)

func newPagesCmd() *cobra.Command {
	var domainStr string

	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List the stored pages of a domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			domainID, err := uuid.Parse(domainStr)
			if err != nil {
				return fmt.Errorf("invalid --domain: %w", err)
			}

			eng, err := engine.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}
			defer eng.Close()

			pages, err := eng.Pages(cmd.Context(), domainID)
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(pages)
			}
			for _, p := range pages {
				printPage(p)
			}
			fmt.Printf("\n%d pages\n", len(pages))
			return nil
		},
	}

	cmd.Flags().StringVarP(&domainStr, "domain", "d", "", "domain UUID (required)")
	cmd.MarkFlagRequired("domain")
	return cmd
}

func printPage(p *storage.Page) {
	status := color.New(color.FgGreen)
	switch p.IngestStatus {
	case storage.IngestStatusFailed:
		status = color.New(color.FgRed)
	case storage.IngestStatusPendingRetry, storage.IngestStatusNew:
		status = color.New(color.FgYellow)
	}
	status.Printf("%-13s", p.IngestStatus)
	fmt.Printf(" %s", p.URL)
	if !p.LastIngestedAt.IsZero() {
		fmt.Printf("  (last ingested %s)", p.LastIngestedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

func newStalenessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "staleness",
		Short: "Report pages older than the freshness threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := engine.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}
			defer eng.Close()

			report, err := eng.StalenessReport(cmd.Context())
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(report)
			}
			if len(report.Pages) == 0 {
				color.New(color.FgGreen).Println("✓ corpus is fresh")
				return nil
			}
			color.New(color.FgYellow).Printf("⚠ %d stale pages (threshold %s)\n", len(report.Pages), report.Threshold)
			for _, p := range report.Pages {
				fmt.Printf("  %s  last ingested %s\n", p.URL, p.LastIngestedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}
