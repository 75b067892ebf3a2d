package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfenderov/feedfilter/internal/coord"
	"github.com/mfenderov/feedfilter/internal/events"
	"github.com/mfenderov/feedfilter/internal/pipeline"
	"github.com/mfenderov/feedfilter/internal/platform"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	watchOutput string
	watchHost   string
	watchPoll   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Keep filtering a saved feed page as it grows",
	Long: `Watch a saved feed page. Whenever the file is rewritten, new posts are
merged into the page, classified after a short quiet period and hidden if
they match. The filtered page is written after every pass.

Example:
  feedfilter watch capture.html --output filtered.html`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "write the filtered page here (required)")
	watchCmd.Flags().StringVar(&watchHost, "host", "", "platform host (default: platform.host)")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", 2*time.Second, "how often to pick up settings changed by other commands (0 disables)")
	watchCmd.MarkFlagRequired("output")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := args[0]
	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	doc, err := platform.NewDocument(f)
	f.Close()
	if err != nil {
		return err
	}

	p, err := a.feed(ctx, doc, watchHost)
	if err != nil {
		return err
	}
	importer, err := importerFor(a, doc, watchHost)
	if err != nil {
		return err
	}

	passes := make(chan struct{}, 1)
	c, err := coord.New(coord.Config{
		Pipeline: p,
		Settings: a.settingsSource(),
		Debounce: a.cfg.Scanner.Debounce,
		OnRun: func(r *pipeline.Result, err error) {
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Pass failed: %v\n", err)
				return
			}
			printSummary(cmd, r)
			select {
			case passes <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer c.Register(a.bus)()

	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s, press Ctrl+C to stop\n", path)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return platform.Follow(gctx, path, importer)
	})
	g.Go(func() error {
		return pollSettings(gctx, a, c, watchPoll)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-passes:
				if err := writeDocument(cmd, doc, watchOutput); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	c.Stop()
	return writeDocument(cmd, doc, watchOutput)
}

// pollSettings announces settings written by other processes on the bus, the
// way the settings context does in-process.
func pollSettings(ctx context.Context, a *app, c *coord.Coordinator, every time.Duration) error {
	if every <= 0 {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		snap, err := a.settings.Load(ctx)
		if err != nil {
			slog.Warn("failed to reload settings", "error", err)
			continue
		}
		state := c.State()
		if topics := snap.Topics.Normalize(); !topics.Equal(state.Topics) {
			a.bus.Publish(ctx, events.KindTopicsUpdated, events.TopicsUpdated{Topics: topics})
		}
		if snap.Enabled != state.Enabled {
			a.bus.Publish(ctx, events.KindExtensionStateChanged, events.ExtensionStateChanged{Enabled: &snap.Enabled})
		}
	}
}

func importerFor(a *app, doc *platform.Document, host string) (platform.Importer, error) {
	if host == "" {
		host = a.cfg.Platform.Host
	}
	adapter, err := platform.ForHost(host, doc)
	if err != nil {
		return nil, err
	}
	importer, ok := adapter.(platform.Importer)
	if !ok {
		return nil, fmt.Errorf("%s pages cannot be merged", host)
	}
	return importer, nil
}
