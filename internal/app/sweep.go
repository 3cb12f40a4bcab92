package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lore.fm/arcs/internal/cli"
	"lore.fm/arcs/internal/pipeline"
)

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	partition := fs.String("partition", "", "Restrict the sweep to one partition")
	dryRun := fs.Bool("dry-run", false, "Report candidates without deleting")

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

	partitions := []string{*partition}
	if *partition == "" {
		partitions, err = rt.pool.ListPartitions(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list partitions: %v\n", err)
			return 1
		}
	}

	type sweepReport struct {
		PartitionKey string               `json:"partition_key"`
		Result       pipeline.SweepResult `json:"result"`
	}

	reports := make([]sweepReport, 0, len(partitions))
	for _, partitionKey := range partitions {
		result, err := rt.svc.SweepRetention(ctx, partitionKey, rt.pipelineConfig(), *dryRun)
		if err != nil {
			rt.logger.Error().Err(err).Str("partition", partitionKey).Msg("retention sweep failed")
			fmt.Fprintf(os.Stderr, "Sweep failed for partition %s: %v\n", partitionKey, err)
			return 1
		}
		reports = append(reports, sweepReport{PartitionKey: partitionKey, Result: result})
	}

	if err := printJSON(reports); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print result: %v\n", err)
		return 1
	}
	return 0
}
