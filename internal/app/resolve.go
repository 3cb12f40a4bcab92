package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"lore.fm/arcs/internal/cli"
	"lore.fm/arcs/internal/pipeline"
	payloadschema "lore.fm/arcs/schema"
)

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "-", "Fragment JSON file; one object or an array, - for stdin")
	threshold := fs.Float64("threshold", 0, "Similarity threshold in (0, 1]; defaults to the configured suggestion")
	newArcCap := fs.Int("new-arc-cap", 0, "Max new arcs per batch; defaults to the configured cap")

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

	raw, err := readInput(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		return 1
	}

	fragments, err := decodeFragments(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid fragment payload: %v\n", err)
		return 1
	}
	if len(fragments) == 0 {
		fmt.Fprintln(os.Stderr, "No fragments in input")
		return 1
	}

	arcCap := *newArcCap
	if arcCap <= 0 {
		arcCap = rt.cfg.NewArcCap
	}

	batch, err := rt.svc.ResolveBatch(ctx, fragments, rt.resolveThreshold(*threshold), rt.pipelineConfig(), arcCap)
	if err != nil {
		rt.logger.Error().Err(err).Msg("resolve batch failed")
		fmt.Fprintf(os.Stderr, "Resolve failed: %v\n", err)
		return 1
	}

	if err := printJSON(batch); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print result: %v\n", err)
		return 1
	}

	if len(batch.Deferred) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d unmatched fragments deferred by the new-arc cap\n", len(batch.Deferred))
	}
	return 0
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// decodeFragments accepts either one fragment object or a JSON array of
// fragments, each validated against the payload schema.
func decodeFragments(raw []byte) ([]pipeline.Fragment, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("input is empty")
	}

	var payloads []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, fmt.Errorf("decode fragment array: %w", err)
		}
	} else {
		payloads = []json.RawMessage{json.RawMessage(trimmed)}
	}

	fragments := make([]pipeline.Fragment, 0, len(payloads))
	for i, payload := range payloads {
		validated, err := payloadschema.ValidateFragmentPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		fragments = append(fragments, pipeline.Fragment{
			PartitionKey: validated.PartitionKey,
			Name:         validated.Name,
			Category:     validated.Category,
			Summary:      validated.Summary,
			KeyPoints:    validated.KeyPoints,
			Perspective:  validated.Perspective,
			SourceID:     validated.SourceID,
			Relevance:    validated.Relevance,
			OccurredAt:   validated.OccurredAtTime(),
		})
	}
	return fragments, nil
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
