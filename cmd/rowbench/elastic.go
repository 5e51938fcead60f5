package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexhholmes/rowstore"
)

var (
	elasticPartitions uint64
	elasticPerCall    int

	elasticCmd = &cobra.Command{
		Use:   "elastic",
		Short: "Build an elastic index over half the token space",
		Long: `Loads the table and builds an elastic index for tokens in the lower
half of the partition space, pacing the build with tuplesPerCall. The
index stays registered until the run ends so inserts and deletes keep
maintaining it.`,
		RunE: runElastic,
	}
)

func init() {
	elasticCmd.Flags().Uint64Var(&elasticPartitions, "partitions", 16384, "total hash partitions")
	elasticCmd.Flags().IntVar(&elasticPerCall, "per-call", 4096, "rows scanned per stream call")
}

func runElastic(cmd *cobra.Command, args []string) error {
	table, err := openTable("elastic_bench")
	if err != nil {
		return err
	}
	defer table.Close()

	if err := loadRows(table, rows); err != nil {
		return err
	}
	serveMetrics(table)

	cfg, err := elasticConfig(elasticPartitions, elasticPerCall)
	if err != nil {
		return err
	}
	if err := table.ActivateStream(rowstore.StreamElasticIndex, 0, cfg); err != nil {
		return err
	}

	var (
		calls     int
		start     = time.Now()
		lastPrint = start
	)
	out := rowstore.NewOutputStreams()
	for {
		remaining, _ := table.StreamMore(out)
		if remaining < 0 {
			return fmt.Errorf("elastic stream rejected the call")
		}
		calls++
		if remaining == 0 {
			break
		}
		if now := time.Now(); now.Sub(lastPrint) >= time.Second {
			fmt.Printf("\rCalls: %d | indexed: %d | remaining ~%d",
				calls, table.ElasticIndexSize(), remaining)
			lastPrint = now
		}
	}

	elapsed := time.Since(start).Seconds()
	fmt.Printf("\n\nCompleted:\n")
	fmt.Printf("  Rows:     %d scanned in %d calls\n", rows, calls)
	fmt.Printf("  Index:    %d entries\n", table.ElasticIndexSize())
	fmt.Printf("  Time:     %.2fs (%.0f rows/s)\n", elapsed, float64(rows)/elapsed)
	printStats(table)

	return table.DeactivateStream(rowstore.StreamElasticIndex)
}

// elasticConfig indexes tokens in [0, partitions/2) of the second column.
func elasticConfig(partitions uint64, perCall int) ([]byte, error) {
	type tokenRange struct {
		Start uint64 `json:"start"`
		End   uint64 `json:"end"`
	}
	type hashRange struct {
		Column          int          `json:"column"`
		TotalPartitions uint64       `json:"totalPartitions"`
		Ranges          []tokenRange `json:"ranges"`
	}
	type predicate struct {
		HashRange hashRange `json:"hashRange"`
	}
	cfg := map[string]any{
		"tuplesPerCall": perCall,
		"predicates": []predicate{{
			HashRange: hashRange{
				Column:          1,
				TotalPartitions: partitions,
				Ranges:          []tokenRange{{Start: 0, End: partitions / 2}},
			},
		}},
	}
	return json.Marshal(cfg)
}
