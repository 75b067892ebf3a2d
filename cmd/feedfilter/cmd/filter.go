package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mfenderov/feedfilter/internal/fetcher"
	"github.com/mfenderov/feedfilter/internal/pipeline"
	"github.com/mfenderov/feedfilter/internal/platform"
	"github.com/spf13/cobra"
)

var (
	filterOutput string
	filterHost   string
	filterRescan bool
)

var filterCmd = &cobra.Command{
	Use:   "filter <file|url>",
	Short: "Filter a feed page once",
	Long: `Classify every post on a saved or fetched feed page and hide the ones
that match the selected topics.

Examples:
  # Filter a saved page and write the result
  feedfilter filter home.html --output filtered.html

  # Fetch a page (and up to fetcher.max_pages continuation pages)
  feedfilter filter https://x.com/home

  # Re-evaluate a page that was already filtered
  feedfilter filter filtered.html --rescan`,
	Args: cobra.ExactArgs(1),
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)

	filterCmd.Flags().StringVarP(&filterOutput, "output", "o", "", "write the filtered page here (default: stdout)")
	filterCmd.Flags().StringVar(&filterHost, "host", "", "platform host (default: platform.host, or the URL host)")
	filterCmd.Flags().BoolVar(&filterRescan, "rescan", false, "ignore processed markers left by an earlier run")
}

func runFilter(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	doc, host, err := loadFeed(ctx, a, args[0])
	if err != nil {
		return err
	}
	if filterHost != "" {
		host = filterHost
	}

	p, err := a.feed(ctx, doc, host)
	if err != nil {
		return err
	}

	run := p.Run
	if filterRescan {
		run = p.Rescan
	}
	result, err := run(ctx)
	if err != nil {
		return fmt.Errorf("filter failed: %w", err)
	}
	printSummary(cmd, result)

	return writeDocument(cmd, doc, filterOutput)
}

// loadFeed reads a saved page or fetches a URL with its continuation pages.
// The returned host is the URL host for fetched pages.
func loadFeed(ctx context.Context, a *app, source string) (*platform.Document, string, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", source, err)
		}
		defer f.Close()
		doc, err := platform.NewDocument(f)
		return doc, "", err
	}

	u, err := url.Parse(source)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse URL: %w", err)
	}

	headers := map[string]string{}
	if a.cfg.Fetcher.Cookie != "" {
		headers["Cookie"] = a.cfg.Fetcher.Cookie
	}
	f := fetcher.New(fetcher.Config{
		Delay:     a.cfg.Fetcher.Delay,
		MaxPages:  a.cfg.Fetcher.MaxPages,
		UserAgent: a.cfg.Fetcher.UserAgent,
		Timeout:   a.cfg.Fetcher.Timeout,
		Headers:   headers,
	})
	pages, err := f.Fetch(ctx, source)
	if err != nil {
		return nil, "", err
	}

	doc, err := platform.ParseDocument(pages[0].HTML)
	if err != nil {
		return nil, "", err
	}
	if len(pages) > 1 {
		importer, err := importerFor(a, doc, u.Host)
		if err != nil {
			return nil, "", err
		}
		for _, page := range pages[1:] {
			n, err := importer.Import(page.HTML)
			if err != nil {
				slog.Warn("failed to merge page", "url", page.URL, "error", err)
				continue
			}
			slog.Debug("merged page", "url", page.URL, "posts", n)
		}
	}
	return doc, u.Host, nil
}

func printSummary(cmd *cobra.Command, r *pipeline.Result) {
	if r.Skipped {
		fmt.Fprintln(cmd.ErrOrStderr(), "Filtering is disabled.")
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Scanned: %d, cached: %d, classified: %d, failed: %d, changed: %d\n",
		r.Scanned, r.CacheHits, r.Classified, r.Failed, r.Mutations)
	for _, e := range r.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "  Warning: %v\n", e)
	}
}

func writeDocument(cmd *cobra.Command, doc *platform.Document, path string) error {
	out, err := doc.Render()
	if err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	if path == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
