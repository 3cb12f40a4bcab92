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

func runDigest(args []string) int {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	partition := fs.String("partition", "", "Restrict the digest to one partition")
	limit := fs.Int("limit", 10, "Most-active arcs stamped per partition")

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

	result, err := rt.svc.BuildDigest(ctx, pipeline.DigestOptions{
		PartitionKey: *partition,
		Limit:        *limit,
		Config:       rt.pipelineConfig(),
	})
	if err != nil {
		rt.logger.Error().Err(err).Msg("digest build failed")
		fmt.Fprintf(os.Stderr, "Digest failed: %v\n", err)
		return 1
	}

	if err := printJSON(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print result: %v\n", err)
		return 1
	}
	return 0
}
