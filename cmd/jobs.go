package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/numberwatch/internal/crawl"
	"github.com/JakeFAU/numberwatch/internal/reconcile"
)

func newCrawlCmd() *cobra.Command {
	var opts crawl.Options
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Discovers and downloads new order PDFs",
		Long: `Fetches the configured listing pages, follows every article link, and
downloads PDFs that are not yet known. Use --limit to cap the number of new
documents queued (0 keeps the configured default, negative is unbounded).`,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			res, err := appInstance.Crawl(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("run crawl: %w", err)
			}
			appInstance.Logger().Info("Crawl command finished.", zap.Int("created", res.Created))
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().StringVar(&opts.Proxy, "proxy", "", "proxy URL for this run")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum new documents to download")
	return cmd
}

func newParseCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Extracts numbers from downloaded PDFs",
		Long:  `Parses up to --count pending documents, oldest first, and stores the numbers found.`,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			results, err := appInstance.Parse(cmd.Context(), count)
			if err != nil {
				return fmt.Errorf("run parse: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), results)
		}),
	}
	cmd.Flags().IntVar(&count, "count", 1, "documents to parse")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var opts reconcile.Options
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Matches pending watches against parsed numbers",
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			summary, err := appInstance.Reconcile(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("run reconcile: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		}),
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "watches to check (0 keeps the configured default)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduler and the ops HTTP server",
		Long: `Starts the cron scheduler for crawl, parse and reconcile together with
the HTTP server exposing /healthz, /readyz, /metrics and job triggers.
Stops gracefully on SIGINT or SIGTERM.`,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			return appInstance.Serve(cmd.Context())
		}),
	}
}
