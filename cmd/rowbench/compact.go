package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexhholmes/rowstore"
)

var (
	compactKeep int

	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Fragment the table and measure compaction",
		Long: `Loads the table, deletes all but every Nth row to fragment the block
set, then compacts and reports rows moved and blocks reclaimed.`,
		RunE: runCompact,
	}
)

func init() {
	compactCmd.Flags().IntVar(&compactKeep, "keep", 10, "keep every Nth row when fragmenting")
}

func runCompact(cmd *cobra.Command, args []string) error {
	if compactKeep < 1 {
		return fmt.Errorf("--keep must be at least 1")
	}
	table, err := openTable("compact_bench")
	if err != nil {
		return err
	}
	defer table.Close()

	if err := loadRows(table, rows); err != nil {
		return err
	}
	serveMetrics(table)

	var doomed []rowstore.Address
	it := table.Iterator()
	for i := 0; it.Next(); i++ {
		if i%compactKeep != 0 {
			doomed = append(doomed, it.Address())
		}
	}
	for _, addr := range doomed {
		if err := table.Delete(addr); err != nil {
			return err
		}
	}

	before := table.Stats()
	fmt.Printf("Fragmented: %d live rows across %d blocks\n", before.ActiveRows, before.Blocks)

	start := time.Now()
	reclaimed := table.Compact()
	elapsed := time.Since(start).Seconds()

	after := table.Stats()
	fmt.Printf("\nCompleted:\n")
	fmt.Printf("  Reclaimed: %d blocks (%d -> %d)\n", reclaimed, before.Blocks, after.Blocks)
	fmt.Printf("  Moves:     %d rows\n", after.Moves-before.Moves)
	fmt.Printf("  Time:      %.3fs\n", elapsed)
	printStats(table)
	return nil
}
