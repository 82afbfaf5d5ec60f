package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/streams-data-service/internal/app"
	"github.com/couchcryptid/streams-data-service/internal/config"
	"github.com/couchcryptid/streams-data-service/internal/observability"
	"github.com/couchcryptid/streams-data-service/internal/streams"
)

type downloadFlags struct {
	username  string
	password  string
	gauges    []string
	start     string
	end       string
	variables []string
	datasets  []string
	output    string
}

var verbose bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "streams-download",
		Short:        "Download STREAMS gauge data from HydroShare",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "log at debug level to stderr")
	root.AddCommand(newDownloadCmd(), newOptionsCmd())
	return root
}

func newOptionsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "options",
		Short: "Print the selectable water quality variables and datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp()
			if err != nil {
				return err
			}
			defer cleanup()
			return printOptions(cmd.OutOrStdout(), a.Service.Options(), asJSON)
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print JSON instead of YAML")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var f downloadFlags
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Build a zip archive of per-gauge CSV extracts",
		Long: `Build a zip archive of per-gauge CSV extracts.

The HydroShare password is read from --password or HYDROSHARE_PASSWORD.

Examples:
  # Water temperature and streamflow for one gauge during 2020
  streams-download download -u alice -g USGS-01234567 \
    --start 2020-01-01 --end 2020-12-31 \
    -v "Water Temperature" -d Streamflow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.username, "username", "u", os.Getenv("HYDROSHARE_USERNAME"), "HydroShare username")
	flags.StringVar(&f.password, "password", "", "HydroShare password")
	flags.StringSliceVarP(&f.gauges, "gauge", "g", nil, "gauge identifier (repeatable)")
	flags.StringVar(&f.start, "start", "", "range start (YYYY-MM-DD or RFC 3339)")
	flags.StringVar(&f.end, "end", "", "range end (YYYY-MM-DD or RFC 3339)")
	flags.StringSliceVarP(&f.variables, "variable", "v", nil, "water quality variable label (repeatable)")
	flags.StringSliceVarP(&f.datasets, "dataset", "d", nil, "other dataset label (repeatable)")
	flags.StringVarP(&f.output, "output", "o", "streams-data.zip", "archive path")
	_ = cmd.MarkFlagRequired("gauge")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func runDownload(cmd *cobra.Command, f downloadFlags) error {
	if f.password == "" {
		f.password = os.Getenv("HYDROSHARE_PASSWORD")
	}
	if f.username == "" || f.password == "" {
		return errors.New("HydroShare username and password are required")
	}
	start, err := parseDate(f.start)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := parseDate(f.end)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	a, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := a.Service.Login(ctx, f.username, f.password)
	if err != nil {
		return err
	}
	defer a.Service.Logout(sess.Token)

	data, err := a.Service.BuildDownload(ctx, sess.Token, streams.DownloadRequest{
		Gauges:                f.gauges,
		Start:                 start,
		End:                   end,
		WaterQualityVariables: f.variables,
		Datasets:              f.datasets,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(f.output, data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", f.output, len(data))
	return nil
}

func buildApp() (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := observability.NewLoggerTo(os.Stderr, level, "text")

	a, err := app.New(cfg, logger, observability.NewUnregisteredMetrics())
	if err != nil {
		return nil, nil, err
	}
	a.Service.SetReady(true)
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}, nil
}

func printOptions(w io.Writer, opts streams.CatalogOptions, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(opts)
	}
	out := struct {
		WaterQualityVariables map[string][]string `yaml:"water_quality_variables"`
		OtherDatasets         []string            `yaml:"other_datasets"`
		SessionTTLHours       float64             `yaml:"session_ttl_hours"`
	}{opts.WaterQualityVariables, opts.OtherDatasets, opts.SessionTTLHours}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

// parseDate accepts a calendar date or an RFC 3339 instant; dates are UTC midnight.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}
