// Command rowbench drives a row store table through its streaming and
// compaction paths and reports throughput. Each subcommand loads a fixed
// fact-style table, runs one engine feature end to end, and prints a
// summary. An optional Prometheus endpoint exposes live table statistics
// while a run is in flight.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexhholmes/rowstore"
	"github.com/alexhholmes/rowstore/logger"
	"github.com/alexhholmes/rowstore/metrics"
)

var (
	rows        int
	blockRows   int
	bufBytes    int
	logKind     string
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "rowbench",
		Short: "Benchmark driver for the rowstore engine",
		Long: `rowbench loads an in-memory row store table and exercises one of its
streaming features: copy-on-write snapshot scans, elastic index builds,
or block compaction. It reports rows per second and bytes moved.`,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&rows, "rows", 200_000, "rows to load before the run")
	pf.IntVar(&blockRows, "block-rows", 0, "row capacity per block (0 keeps the default block size)")
	pf.IntVar(&bufBytes, "buffer", 128*1024, "output buffer size in bytes")
	pf.StringVar(&logKind, "log", "off", "table logger: zap, logrus, or off")
	pf.StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(snapshotCmd, elasticCmd, compactCmd)
}

func buildLogger() (rowstore.Logger, error) {
	switch logKind {
	case "zap":
		zl, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("zap: %w", err)
		}
		return logger.NewZap(zl), nil
	case "logrus":
		return logger.NewLogrus(logrus.New()), nil
	case "off", "":
		return rowstore.DiscardLogger{}, nil
	}
	return nil, fmt.Errorf("unknown logger %q", logKind)
}

// benchSchema mirrors a typical fact table: two int32 keys followed by
// seven int64 measures, 64 payload bytes per row.
func benchSchema() *rowstore.Schema {
	return rowstore.NewSchema(
		rowstore.Int32, rowstore.Int32,
		rowstore.Int64, rowstore.Int64, rowstore.Int64,
		rowstore.Int64, rowstore.Int64, rowstore.Int64, rowstore.Int64,
	)
}

func openTable(name string) (*rowstore.Table, error) {
	log, err := buildLogger()
	if err != nil {
		return nil, err
	}
	opts := []rowstore.Option{rowstore.WithLogger(log)}
	if blockRows > 0 {
		opts = append(opts, rowstore.WithBlockCapacity(blockRows))
	}
	return rowstore.New(name, benchSchema(), opts...)
}

func loadRows(table *rowstore.Table, n int) error {
	vals := make([]int64, 9)
	for i := 0; i < n; i++ {
		vals[0] = int64(i)
		vals[1] = int64(i % 1024)
		for c := 2; c < len(vals); c++ {
			vals[c] = int64(i * c)
		}
		if _, err := table.Insert(vals); err != nil {
			return fmt.Errorf("load row %d: %w", i, err)
		}
	}
	return nil
}

// serveMetrics starts the optional Prometheus endpoint. It returns
// immediately; the listener runs for the remainder of the process.
func serveMetrics(tables ...metrics.Source) {
	if metricsAddr == "" {
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(tables...))

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	go func() {
		if err := http.ListenAndServe(metricsAddr, router); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	fmt.Printf("Serving metrics on %s/metrics\n", metricsAddr)
}
