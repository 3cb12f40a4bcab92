package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lore.fm/arcs/internal/cli"
	"lore.fm/arcs/internal/pipeline"
	payloadschema "lore.fm/arcs/schema"
)

func runConsolidate(args []string) int {
	fs := flag.NewFlagSet("consolidate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	partition := fs.String("partition", "", "Restrict the run to one partition")
	threshold := fs.Float64("threshold", 0, "Similarity threshold in (0, 1]; defaults to the configured suggestion")
	dryRun := fs.Bool("dry-run", false, "Report intended merges and deletions without writing")
	rulesPath := fs.String("rules", "", "Keyword rules JSON file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer rt.close()

	rules, err := loadKeywordRules(*rulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load keyword rules: %v\n", err)
		return 1
	}

	report, err := rt.svc.Consolidate(ctx, pipeline.ConsolidateOptions{
		PartitionKey: *partition,
		Threshold:    rt.resolveThreshold(*threshold),
		DryRun:       *dryRun,
		Rules:        rules,
		Config:       rt.pipelineConfig(),
	})
	if err != nil {
		rt.logger.Error().Err(err).Msg("consolidation run failed")
		fmt.Fprintf(os.Stderr, "Consolidation failed: %v\n", err)
		return 1
	}

	if err := printJSON(report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print report: %v\n", err)
		return 1
	}

	if failed := report.FailedPartitions(); failed > 0 {
		fmt.Fprintf(os.Stderr, "Consolidation finished with %d failed partitions\n", failed)
		return 1
	}
	return 0
}

func loadKeywordRules(path string) ([]pipeline.KeywordRule, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	payload, err := payloadschema.ValidateKeywordRulesPayload(json.RawMessage(raw))
	if err != nil {
		return nil, err
	}

	rules := make([]pipeline.KeywordRule, 0, len(payload.Rules))
	for _, rule := range payload.Rules {
		rules = append(rules, pipeline.KeywordRule{
			Name:         rule.Name,
			PartitionKey: rule.PartitionKey,
			Phrases:      rule.Phrases,
		})
	}
	return rules, nil
}
