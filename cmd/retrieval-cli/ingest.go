package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/sitesage-ai/retrieval-engine/internal/ingest"
	"github.com/sitesage-ai/retrieval-engine/pkg/engine"
)

func newIngestCmd() *cobra.Command {
	var domainStr string
	var urlPrefix string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest scraped page text files into a domain's corpus",
		Long: `Ingest one or more text files as scraped pages.

Each file becomes one page; its URL is derived from the file name under
--url-prefix. Unchanged files are skipped by fingerprint.

Example:
  retrieval-cli ingest --domain 8f14e45f-... --url-prefix https://acme.test pages/*.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domainID, err := uuid.Parse(domainStr)
			if err != nil {
				return fmt.Errorf("invalid --domain: %w", err)
			}
			return runIngest(cmd.Context(), domainID, urlPrefix, args)
		},
	}

	cmd.Flags().StringVarP(&domainStr, "domain", "d", "", "domain UUID (required)")
	cmd.Flags().StringVar(&urlPrefix, "url-prefix", "file://", "URL prefix for ingested files")
	cmd.MarkFlagRequired("domain")
	return cmd
}

func runIngest(ctx context.Context, domainID uuid.UUID, urlPrefix string, files []string) error {
	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	pages := make([]ingest.ScrapedPage, 0, len(files))
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		pages = append(pages, ingest.ScrapedPage{
			DomainID:  domainID,
			URL:       urlPrefix + "/" + filepath.Base(f),
			RawText:   string(raw),
			FetchedAt: time.Now(),
		})
	}

	var bar *progressbar.ProgressBar
	if !outputJSON {
		bar = progressbar.NewOptions(len(pages),
			progressbar.OptionSetDescription("ingesting"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	outcomes := make([]ingest.Outcome, len(pages))
	for i, page := range pages {
		outcomes[i] = eng.IngestPage(ctx, page)
		if bar != nil {
			bar.Add(1)
		}
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(outcomes)
	}

	counts := map[ingest.Status]int{}
	for _, o := range outcomes {
		counts[o.Status]++
		switch o.Status {
		case ingest.StatusFailed:
			color.New(color.FgRed).Printf("✗ %s: %s\n", o.URL, o.Reason)
		case ingest.StatusSkipped:
			color.New(color.FgYellow).Printf("- %s: unchanged\n", o.URL)
		default:
			color.New(color.FgGreen).Printf("✓ %s: %s (%d chunks)\n", o.URL, o.Status, o.Chunks)
		}
	}
	fmt.Printf("\n%d inserted, %d replaced, %d skipped, %d failed\n",
		counts[ingest.StatusInserted], counts[ingest.StatusReplaced],
		counts[ingest.StatusSkipped], counts[ingest.StatusFailed])
	if counts[ingest.StatusFailed] > 0 {
		return fmt.Errorf("%d pages failed", counts[ingest.StatusFailed])
	}
	return nil
}
