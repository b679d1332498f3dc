// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kryptosteuer/internal/aggregate"
	"kryptosteuer/internal/diagnostics"
	"kryptosteuer/internal/engine"
	"kryptosteuer/internal/eventsource"
	"kryptosteuer/internal/logging"
	"kryptosteuer/internal/money"
	"kryptosteuer/internal/priceoracle"
	"kryptosteuer/internal/report"
	"kryptosteuer/internal/txmodel"
)

var (
	flagTaxYear      int
	flagFromYear     int
	flagToYear       int
	flagOutputFormat string
	flagOutputDir    string
	flagPrices       string
)

var reportCmd = &cobra.Command{
	Use:   "report [exchange-export.csv ...]",
	Short: "compute FIFO disposal gains/losses and the per-year tax summary",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().IntVar(&flagTaxYear, "tax-year", 0, "report a single tax year (0 = use --from-year/--to-year)")
	reportCmd.Flags().IntVar(&flagFromYear, "from-year", 0, "first tax year to include (0 = config default)")
	reportCmd.Flags().IntVar(&flagToYear, "to-year", 0, "last tax year to include (0 = config default)")
	reportCmd.Flags().StringVar(&flagOutputFormat, "output-format", "", "csv|human|json (default: config)")
	reportCmd.Flags().StringVar(&flagOutputDir, "output-dir", "", "directory to write the report into (default: config)")
	reportCmd.Flags().StringVar(&flagPrices, "prices", "", "CSV price table (asset,date,price_eur) consulted before any network provider")
}

func runReport(cmd *cobra.Command, args []string) error {
	log := logging.Default()
	if cfg.Verbose {
		log = logging.New(os.Stderr, true)
	}

	fromYear, toYear := resolveYearRange()

	start := time.Date(fromYear, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(toYear+1, 1, 1, 0, 0, 0, 0, time.UTC)

	source := buildSource(args)

	var providers []priceoracle.Provider
	if flagPrices != "" {
		table := priceoracle.NewStaticTableProvider()
		if err := table.LoadCSV(flagPrices); err != nil {
			return fmt.Errorf("loading price table: %w", err)
		}
		providers = append(providers, table)
	}
	providers = append(providers,
		priceoracle.NewKrakenOHLCProvider(cfg.KrakenBaseURL, log.Component("kraken")),
		priceoracle.NewCoinGeckoProvider(cfg.CoinGeckoBaseURL, log.Component("coingecko")),
	)
	oracle := priceoracle.New(providers,
		priceoracle.WithLogger(log.Component("priceoracle")),
		priceoracle.WithCacheTTL(cfg.PriceCacheTTL),
	)

	eng := engine.New(source, oracle, engine.WithLogger(log.Component("engine")))

	result, err := eng.Run(context.Background(), start, end)
	if err != nil {
		return fmt.Errorf("running engine: %w", err)
	}

	aggOpts := []aggregate.Option{}
	if threshold, ok := otherIncomeOverride(); ok {
		aggOpts = append(aggOpts, aggregate.WithOtherIncomeThreshold(threshold))
	}
	agg := aggregate.New(aggOpts...)
	summaries := agg.Summarize(result.Disposals, result.RewardIncome)

	disposalsOut := result.Disposals
	if flagTaxYear != 0 {
		summaries = filterYear(summaries, flagTaxYear)
		disposalsOut = filterDisposalYear(disposalsOut, flagTaxYear)
	}

	outputDir := cfg.OutputDir
	if flagOutputDir != "" {
		outputDir = flagOutputDir
	}
	format := cfg.OutputFormat
	if flagOutputFormat != "" {
		format = flagOutputFormat
	}

	var reporter report.Reporter
	var ext string
	switch format {
	case "human":
		reporter, ext = report.HumanReporter{}, "txt"
	case "json":
		reporter, ext = report.JSONReporter{Indent: true}, "json"
	default:
		reporter, ext = report.CSVReporter{}, "csv"
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	outPath := filepath.Join(outputDir, fmt.Sprintf("kryptosteuer-report.%s", ext))
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	// Diagnostics render severity-first, then event time, so the most
	// serious problems head the report; each one is also streamed to the
	// structured log as it is collected.
	coll := diagnostics.NewCollector().OnAdd(func(d diagnostics.Diagnostic) {
		logDiagnostic(log.Component("diagnostics"), d)
	})
	for _, d := range result.Diagnostics {
		coll.Add(d)
	}

	if err := reporter.Render(f, disposalsOut, summaries, coll.Ordered()); err != nil {
		f.Close()
		return fmt.Errorf("rendering report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing report file: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "wrote", outPath)

	if coll.HasErrors() {
		// Exit code 2 iff any error-severity diagnostic was emitted,
		// distinct from exit code 1's fatal configuration error. Cobra's
		// RunE error path exits 1, so this bypasses it.
		os.Exit(2)
	}
	return nil
}

// buildSource picks the event source per file extension: .json files read
// as JSON dumps, everything else as CSV exports. Mixing both in one
// invocation is supported.
func buildSource(paths []string) eventsource.EventSource {
	var csvPaths, jsonPaths []string
	for _, p := range paths {
		if strings.HasSuffix(strings.ToLower(p), ".json") {
			jsonPaths = append(jsonPaths, p)
		} else {
			csvPaths = append(csvPaths, p)
		}
	}
	if len(jsonPaths) == 0 {
		return eventsource.NewCSVEventSource(csvPaths...)
	}
	if len(csvPaths) == 0 {
		return eventsource.NewJSONEventSource(jsonPaths...)
	}
	return multiSource{
		eventsource.NewCSVEventSource(csvPaths...),
		eventsource.NewJSONEventSource(jsonPaths...),
	}
}

// multiSource concatenates several sources into one fetch.
type multiSource []eventsource.EventSource

func (m multiSource) Fetch(ctx context.Context, start, end time.Time) ([]eventsource.RawEvent, error) {
	var all []eventsource.RawEvent
	for _, s := range m {
		events, err := s.Fetch(ctx, start, end)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return all, nil
}

// logDiagnostic maps a diagnostic's severity onto the matching structured
// log level.
func logDiagnostic(log logging.Logger, d diagnostics.Diagnostic) {
	fields := map[string]any{"kind": string(d.Kind), "ref_id": d.RefID}
	switch d.Severity {
	case diagnostics.Error:
		log.Err(string(d.Kind), d.Message, nil, fields)
	case diagnostics.Warn:
		log.Warning(string(d.Kind), d.Message, fields)
	default:
		log.Event(d.Message, fields)
	}
}

func filterDisposalYear(disposals []txmodel.DisposalRecord, year int) []txmodel.DisposalRecord {
	var out []txmodel.DisposalRecord
	for _, d := range disposals {
		if d.TaxYear == year {
			out = append(out, d)
		}
	}
	return out
}

func resolveYearRange() (int, int) {
	if flagTaxYear != 0 {
		return flagTaxYear, flagTaxYear
	}
	from, to := cfg.FromYear, cfg.ToYear
	if flagFromYear != 0 {
		from = flagFromYear
	}
	if flagToYear != 0 {
		to = flagToYear
	}
	return from, to
}

func otherIncomeOverride() (money.Money, bool) {
	if cfg.OtherIncomeThresholdEUR == "" {
		return money.Zero, false
	}
	v, err := money.Parse(cfg.OtherIncomeThresholdEUR)
	if err != nil {
		return money.Zero, false
	}
	return v, true
}

func filterYear(summaries []txmodel.YearSummary, year int) []txmodel.YearSummary {
	var out []txmodel.YearSummary
	for _, s := range summaries {
		if s.TaxYear == year {
			out = append(out, s)
		}
	}
	return out
}
