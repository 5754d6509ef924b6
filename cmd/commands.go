package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open the browser session and process traffic until it closes.",
		Long: `watch opens the start page in a Chrome session. Log in and browse the
shop and product lists; matching API traffic is decoded and stored. Once the
shop list and one product-list request have been seen, every shop is replayed
(unless replay.auto is false, in which case POST /v1/run-once starts it).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return app.Watch(cmd.Context())
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the reporting API over the stored records.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context())
		},
	}
}

func newRunOnceCmd() *cobra.Command {
	var templatePath string
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Replay a saved request template against every stored target and print the report.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			var tmpl *monitor.RequestTemplate
			if templatePath != "" {
				t, err := loadTemplate(templatePath)
				if err != nil {
					return err
				}
				tmpl = &t
			}
			report, err := app.RunOnce(cmd.Context(), tmpl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&templatePath, "template", "", "JSON file with url, method, headers and body of a product-list request")
	return cmd
}

func newRankCmd() *cobra.Command {
	var (
		window time.Duration
		n      int
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Print growth and score rankings over recently stored rows.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n < 0 {
				return fmt.Errorf("--n must be >= 0")
			}
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			report, err := app.Rank(cmd.Context(), window, n)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "lookback window (default ranking.window)")
	cmd.Flags().IntVar(&n, "n", 0, "entries per global list (default ranking.top_n)")
	return cmd
}

type templateFile struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

func loadTemplate(path string) (monitor.RequestTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return monitor.RequestTemplate{}, fmt.Errorf("read template: %w", err)
	}
	var f templateFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return monitor.RequestTemplate{}, fmt.Errorf("parse template: %w", err)
	}
	tmpl, err := monitor.NewRequestTemplate(f.URL, f.Method, f.Headers, f.Body)
	if err != nil {
		return monitor.RequestTemplate{}, fmt.Errorf("invalid template: %w", err)
	}
	return tmpl, nil
}
