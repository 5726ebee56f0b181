package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/okian/encuesta/internal/replay"
	"github.com/okian/encuesta/pkg/logger"
)

const (
	defaultBatch   = 10
	defaultWorkers = 1
	defaultTimeout = 5 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:8080", "Base URL of the service")
		idFile    = flag.String("file", "", `File with deal ids ("-" for stdin)`)
		batch     = flag.Int("batch", defaultBatch, "Ids per webhook call")
		workers   = flag.Int("workers", defaultWorkers, "Concurrent webhook calls")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFormat = flag.String("log-format", "text", "Log format: text or json")
		verbose   = flag.Bool("verbose", false, "Log every batch")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		replay.ShowHelp()
		return
	}

	if err := logger.Init(logger.WithFormat(*logFormat), logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(2)
	}

	ids, err := collectIDs(*idFile, flag.Args(), os.Stdin)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &replay.Config{
		BaseURL:   strings.TrimRight(*baseURL, "/"),
		BatchSize: *batch,
		Workers:   *workers,
		Timeout:   *timeout,
		Verbose:   *verbose,
	}
	sum, err := replay.Run(ctx, cfg, ids, logger.Named("replay"))
	if sum != nil {
		printSummary(os.Stdout, sum)
	}
	if err != nil {
		os.Stderr.WriteString("replay failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	if sum.Failed > 0 {
		os.Exit(1)
	}
}

func collectIDs(path string, args []string, stdin io.Reader) ([]string, error) {
	switch {
	case path == "-":
		return replay.ReadIDs(stdin)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open id file: %w", err)
		}
		defer f.Close()
		return replay.ReadIDs(f)
	case len(args) > 0:
		return replay.ReadIDs(strings.NewReader(strings.Join(args, "\n")))
	default:
		return replay.ReadIDs(stdin)
	}
}

func printSummary(w io.Writer, sum *replay.Summary) {
	fmt.Fprintf(w, "run %s: %d events in %d batches (%d failed) in %s\n",
		sum.RunID, sum.Events, sum.Batches, sum.Failed, sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "eligible: %d\n", sum.Eligible)

	statuses := make([]string, 0, len(sum.ByStatus))
	for st := range sum.ByStatus {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(w, "  %-24s %d\n", st, sum.ByStatus[st])
	}

	if len(sum.Counters) > 0 {
		fmt.Fprintln(w, "today's counters:")
		for _, c := range sum.Counters {
			fmt.Fprintf(w, "  %-12s %3d / %d\n", c.Concept, c.CurrentCount, c.Limit)
		}
	}
}
