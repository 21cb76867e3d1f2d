package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidemark-io/tidemark/pkg/auth"
	"github.com/tidemark-io/tidemark/pkg/config"
	"github.com/tidemark-io/tidemark/pkg/logger"
	"github.com/tidemark-io/tidemark/pkg/observability"
	"github.com/tidemark-io/tidemark/pkg/pipeline"
	"github.com/tidemark-io/tidemark/pkg/report"
	"github.com/tidemark-io/tidemark/pkg/sink"
	"github.com/tidemark-io/tidemark/pkg/source"
	"github.com/tidemark-io/tidemark/pkg/source/baidu"
	"github.com/tidemark-io/tidemark/pkg/source/google"
)

var version = "0.1.0"

// Manifest is the run configuration file: the pipeline settings plus the
// requests to execute.
type Manifest struct {
	Pipeline config.PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`

	// GoogleAPIVersion selects v4 (default) or v3 for all Google requests
	GoogleAPIVersion string `mapstructure:"google_api_version" yaml:"google_api_version"`
	// BaiduMethod selects the Tongji report method
	BaiduMethod string `mapstructure:"baidu_method" yaml:"baidu_method"`

	Requests []ManifestRequest `mapstructure:"requests" yaml:"requests"`
}

// ManifestRequest is one report request in wire-friendly form.
type ManifestRequest struct {
	Vendor     string            `mapstructure:"vendor" yaml:"vendor"`
	AccountID  string            `mapstructure:"account_id" yaml:"account_id"`
	StartDate  string            `mapstructure:"start_date" yaml:"start_date"`
	EndDate    string            `mapstructure:"end_date" yaml:"end_date"`
	Dimensions []string          `mapstructure:"dimensions" yaml:"dimensions"`
	Metrics    []string          `mapstructure:"metrics" yaml:"metrics"`
	PageSize   int               `mapstructure:"page_size" yaml:"page_size"`
	Filters    map[string]string `mapstructure:"filters" yaml:"filters"`
	Targets    []sink.Target     `mapstructure:"targets" yaml:"targets"`
}

func main() {
	root := &cobra.Command{
		Use:   "tidemark",
		Short: "Tidemark - web analytics extraction pipeline",
		Long: `Tidemark extracts report data from Google Analytics and Baidu Tongji,
normalizes it into typed tables, and dispatches it to object stores,
relational databases, BigQuery, or in-memory targets.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Tidemark v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile, logLevel, metricsAddr string
	var enableTracing bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an extraction pipeline",
		Long: `Run all requests from a manifest file.

Example:
  tidemark run --config manifest.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), configFile, logLevel, metricsAddr, enableTracing)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the run manifest (required)")
	_ = runCmd.MarkFlagRequired("config")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().BoolVar(&enableTracing, "trace", false, "Emit spans to stdout")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPipeline(ctx context.Context, configFile, logLevel, metricsAddr string, enableTracing bool) error {
	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := observability.InitTracing(observability.TracingConfig{
		ServiceName: "tidemark",
		Enabled:     enableTracing,
	}); err != nil {
		return err
	}
	defer observability.Shutdown(context.Background()) //nolint:errcheck

	manifest := &Manifest{Pipeline: *config.NewPipelineConfig("tidemark")}
	if err := config.Load(configFile, manifest); err != nil {
		return err
	}
	if err := manifest.Pipeline.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}

	specs, err := buildSpecs(manifest)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	clients := buildClients(manifest)
	dispatcher := sink.NewDispatcher(manifest.Pipeline.Performance.DispatchConcurrency, sink.NewFactory(sink.NewMemoryStore()))
	orchestrator := pipeline.New(&manifest.Pipeline, clients, dispatcher)

	results := orchestrator.Run(ctx, specs)

	failed := 0
	for _, r := range results {
		if r.State != pipeline.StateCompleted {
			failed++
			logger.Error("request failed",
				zap.String("vendor", r.Vendor),
				zap.String("account_id", r.Request.AccountID),
				zap.Error(r.Err))
		}
	}
	logger.Info("run finished",
		zap.Int("requests", len(results)),
		zap.Int("failed", failed))

	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(results))
	}
	return nil
}

func buildClients(manifest *Manifest) []source.Client {
	cfg := &manifest.Pipeline

	googleCaller := auth.NewGoogleCaller(cfg.Credentials.Google, cfg.Timeouts.Request)
	baiduCaller := auth.NewBaiduCaller(cfg.Credentials.Baidu, cfg.Timeouts.Request)

	return []source.Client{
		google.New(googleCaller, cfg, google.Options{APIVersion: manifest.GoogleAPIVersion}),
		baidu.New(baiduCaller, cfg, baidu.Options{Method: manifest.BaiduMethod}),
	}
}

func buildSpecs(manifest *Manifest) ([]pipeline.RequestSpec, error) {
	specs := make([]pipeline.RequestSpec, 0, len(manifest.Requests))
	for i, mr := range manifest.Requests {
		start, err := report.ParseDate(mr.StartDate)
		if err != nil {
			return nil, fmt.Errorf("request %d: invalid start_date: %w", i, err)
		}
		end, err := report.ParseDate(mr.EndDate)
		if err != nil {
			return nil, fmt.Errorf("request %d: invalid end_date: %w", i, err)
		}

		pageSize := mr.PageSize
		if pageSize <= 0 {
			pageSize = manifest.Pipeline.Performance.PageSize
		}

		req := &report.Request{
			DateRange:  report.DateRange{Start: start, End: end},
			Dimensions: mr.Dimensions,
			Metrics:    mr.Metrics,
			AccountID:  mr.AccountID,
			PageSize:   pageSize,
			Filters:    mr.Filters,
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}

		specs = append(specs, pipeline.RequestSpec{
			Vendor:  mr.Vendor,
			Request: req,
			Targets: mr.Targets,
		})
	}
	return specs, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
