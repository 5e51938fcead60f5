package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexhholmes/rowstore"
)

var (
	snapStreams int
	snapChurn   int

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Drain a copy-on-write snapshot stream",
		Long: `Loads the table, activates a snapshot stream, and drains it to
completion. With --streams > 1 the rows fan out across modulo predicates
on the first column; --churn applies that many deletes and inserts
between calls to exercise the copy-on-write path.`,
		RunE: runSnapshot,
	}
)

func init() {
	snapshotCmd.Flags().IntVar(&snapStreams, "streams", 1, "output buffers (modulo fan-out when > 1)")
	snapshotCmd.Flags().IntVar(&snapChurn, "churn", 0, "mutations applied between stream calls")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	table, err := openTable("snapshot_bench")
	if err != nil {
		return err
	}
	defer table.Close()

	if err := loadRows(table, rows); err != nil {
		return err
	}
	serveMetrics(table)

	cfg, err := snapshotConfig(snapStreams)
	if err != nil {
		return err
	}
	if err := table.ActivateStream(rowstore.StreamSnapshot, 0, cfg); err != nil {
		return err
	}

	bufs := make([][]byte, snapStreams)
	for i := range bufs {
		bufs[i] = make([]byte, bufBytes)
	}

	var (
		calls      int
		totalBytes int64
		start      = time.Now()
		lastPrint  = start
	)
	for {
		streams := make([]*rowstore.OutputStream, snapStreams)
		for i := range streams {
			streams[i] = rowstore.NewOutputStream(bufs[i])
		}
		out := rowstore.NewOutputStreams(streams...)

		remaining, _ := table.StreamMore(out)
		if remaining < 0 {
			return fmt.Errorf("snapshot stream rejected the buffers")
		}
		calls++
		totalBytes += int64(out.BytesWritten())

		if remaining == 0 {
			break
		}
		if err := churnRows(table, snapChurn); err != nil {
			return err
		}

		if now := time.Now(); now.Sub(lastPrint) >= time.Second {
			elapsed := now.Sub(start).Seconds()
			fmt.Printf("\rCalls: %d | %.2f MB (%.0f MB/s) | remaining ~%d",
				calls, mb(totalBytes), mb(totalBytes)/elapsed, remaining)
			lastPrint = now
		}
	}

	elapsed := time.Since(start).Seconds()
	fmt.Printf("\n\nCompleted:\n")
	fmt.Printf("  Rows:     %d across %d buffers\n", rows, snapStreams)
	fmt.Printf("  Calls:    %d\n", calls)
	fmt.Printf("  Data:     %.2f MB (%.0f MB/s)\n", mb(totalBytes), mb(totalBytes)/elapsed)
	fmt.Printf("  Time:     %.2fs\n", elapsed)
	printStats(table)
	return nil
}

// snapshotConfig fans rows out by value(0) % streams. A single stream
// needs no predicates at all.
func snapshotConfig(streams int) ([]byte, error) {
	if streams <= 1 {
		return nil, nil
	}
	type modulo struct {
		Column    int   `json:"column"`
		Divisor   int64 `json:"divisor"`
		Remainder int64 `json:"remainder"`
	}
	type predicate struct {
		Modulo modulo `json:"modulo"`
	}
	preds := make([]predicate, streams)
	for i := range preds {
		preds[i] = predicate{Modulo: modulo{Column: 0, Divisor: int64(streams), Remainder: int64(i)}}
	}
	return json.Marshal(map[string]any{"predicates": preds})
}

// churnRows deletes the first n live rows and inserts n fresh ones.
// Rows inserted mid-scan are skipped by the snapshot, so churn never
// extends the run.
func churnRows(table *rowstore.Table, n int) error {
	if n <= 0 {
		return nil
	}
	doomed := make([]rowstore.Address, 0, n)
	it := table.Iterator()
	for len(doomed) < n && it.Next() {
		doomed = append(doomed, it.Address())
	}
	for _, addr := range doomed {
		if err := table.Delete(addr); err != nil {
			return err
		}
	}
	vals := make([]int64, 9)
	for i := 0; i < n; i++ {
		vals[0] = int64(rows + i)
		if _, err := table.Insert(vals); err != nil {
			return err
		}
	}
	return nil
}

func mb(n int64) float64 { return float64(n) / (1024 * 1024) }

func printStats(table *rowstore.Table) {
	st := table.Stats()
	fmt.Printf("  Stats:    blocks=%d pending=%d moves=%d reclaimed=%d\n",
		st.Blocks, st.PendingBlocks, st.Moves, st.BlocksReclaimed)
}
