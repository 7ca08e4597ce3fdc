package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/startup"
)

const maxLineBytes = 1 << 20

type replayOptions struct {
	tenantID  string
	file      string
	batchSize int
	events    bool
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	ro := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Feed a JSON-lines file of field-sets through the processor in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return replay(cmd.Context(), opts, ro, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&ro.tenantID, "tenant", "", "tenant the field-sets belong to")
	cmd.Flags().StringVar(&ro.file, "file", "", "JSON-lines file, one field-set per line (- for stdin)")
	cmd.Flags().IntVar(&ro.batchSize, "batch-size", 100, "field-sets per batch")
	cmd.Flags().BoolVar(&ro.events, "events", false, "publish order events while replaying")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func replay(ctx context.Context, opts *rootOptions, ro *replayOptions, out io.Writer) error {
	if ro.batchSize <= 0 {
		return fmt.Errorf("batch-size must be positive")
	}

	in := os.Stdin
	if ro.file != "-" {
		f, err := os.Open(ro.file)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", ro.file, err)
		}
		defer f.Close()
		in = f
	}

	a := newApp(opts.cfg, opts.logger)
	s := startup.NewStartup(opts.logger, opts.cfg.StartupMaxAttempts)
	a.register(s, ro.events)
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()

	start := time.Now()
	totals := map[string]int{}
	var stats models.MatchStats
	err := readBatches(in, ro.batchSize, func(batch []*models.FieldSet) error {
		result, err := a.processor.ProcessBatch(ctx, ro.tenantID, batch)
		if err != nil {
			return err
		}
		for _, o := range result.Outcomes {
			totals[o.Action]++
		}
		stats.Add(result.Stats)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "replayed for tenant %s in %s\n", ro.tenantID, time.Since(start).Round(time.Millisecond))
	for _, action := range []string{
		processor.ActionCreated, processor.ActionMerged, processor.ActionUnchanged,
		processor.ActionSkipped, processor.ActionInvalid, processor.ActionFailed,
	} {
		fmt.Fprintf(out, "  %-10s %d\n", action, totals[action])
	}
	fmt.Fprintf(out, "  identity=%d fuzzy=%d none=%d conflict_rejects=%d window_rejects=%d\n",
		stats.IdentityMatch, stats.FuzzyMatch, stats.NoMatch, stats.ConflictReject, stats.WindowReject)
	return nil
}

// readBatches decodes one field-set per non-blank line and hands them to fn
// in batches of size, preserving file order.
func readBatches(r io.Reader, size int, fn func([]*models.FieldSet) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	batch := make([]*models.FieldSet, 0, size)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var fs models.FieldSet
		if err := json.Unmarshal(raw, &fs); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, &fs)

		if len(batch) == size {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]*models.FieldSet, 0, size)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
