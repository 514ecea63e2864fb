package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"billradar/api/internal/config"
	"billradar/api/internal/enrich"
	"billradar/api/internal/ingest"
	"billradar/api/internal/llm"
	"billradar/api/internal/oda"
	"billradar/api/internal/pdftext"
	"billradar/api/internal/store"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "radarctl",
		Short:         "Operational tooling for the Billradar ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newIngestCommand())
	cmd.AddCommand(newBackfillCommand())
	return cmd
}

func newIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass against the ODA API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, svc, cleanup, err := buildService()
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func newBackfillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Patch up historical rows",
	}
	cmd.AddCommand(newBackfillPDFsCommand())
	cmd.AddCommand(newBackfillPolicyCommand())
	return cmd
}

func newBackfillPDFsCommand() *cobra.Command {
	var (
		limit   int
		offset  int
		all     bool
		maxRows int
	)
	cmd := &cobra.Command{
		Use:   "pdfs",
		Short: "Resolve PDF links for proposals that predate PDF enrichment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, svc, cleanup, err := buildService()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := svc.BackfillPDFURLs(ctx, ingest.BackfillOptions{
				Limit:       limit,
				Offset:      offset,
				OnlyMissing: !all,
				MaxRows:     maxRows,
			})
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "proposals per pass")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip before starting")
	cmd.Flags().BoolVar(&all, "all", false, "revisit proposals that already have PDF links")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "total row cap across the pass (0 = unbounded)")
	return cmd
}

func newBackfillPolicyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Run policy analysis over proposals that lack one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, svc, cleanup, err := buildService()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := svc.BackfillPolicy(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "proposals per pass")
	return cmd
}

// buildService wires the ingestion service the same way the API server does,
// minus the HTTP surface. The returned context cancels on SIGINT/SIGTERM.
func buildService() (context.Context, *ingest.Service, func(), error) {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		db.Close()
		stop()
		return nil, nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	llmClient, err := llm.NewClient(ctx, llm.Config{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.LLMModel,
		JSONMode: cfg.LLMJSONMode,
		TopP:     cfg.LLMTopP,
	})
	if err != nil {
		db.Close()
		stop()
		return nil, nil, nil, fmt.Errorf("gemini client failed: %w", err)
	}

	enricher := enrich.NewEnricher(llmClient)
	policyCfg := enrich.PolicyConfig{
		Enabled:       cfg.PolicyAnalysis,
		Temperature:   cfg.PolicyTemperature,
		PromptVersion: cfg.PolicyPromptVersion,
	}
	policy := enrich.NewPolicyAnalyzer(nil, policyCfg)
	if llmClient != nil {
		policy = enrich.NewPolicyAnalyzer(llmClient, policyCfg)
	}

	odaClient := oda.NewClient(oda.Config{
		BaseURL:    cfg.ODABaseURL,
		DocDelay:   cfg.ODADocDelay,
		DocRetries: cfg.ODADocRetries,
	})

	svc := ingest.NewService(dataStore, odaClient, enricher, policy, ingest.Config{
		FetchPDFURLs:  cfg.ODAFetchPDFURLs,
		OldBillCutoff: cfg.ODAOldBillCutoff,
		PDFMaxPages:   cfg.PDFMaxPages,
	})
	if cfg.EnrichFetchPDFs {
		svc.SetPDFFetcher(pdftext.NewFetcher(cfg.PDFFetchUserAgent, cfg.PDFFetchReferer, 30*time.Second))
	}

	cleanup := func() {
		db.Close()
		stop()
	}
	return ctx, svc, cleanup, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
