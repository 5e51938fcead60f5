package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/rowstore"
)

type staticSource struct {
	name  string
	stats rowstore.Stats
}

func (s staticSource) Name() string          { return s.name }
func (s staticSource) Stats() rowstore.Stats { return s.stats }

func TestCollectorExportsPerTable(t *testing.T) {
	t.Parallel()

	coll := NewCollector(
		staticSource{name: "a", stats: rowstore.Stats{ActiveRows: 3, Blocks: 2, Inserts: 5}},
	)
	coll.Add(staticSource{name: "b", stats: rowstore.Stats{ActiveRows: 7, Deletes: 1}})

	expected := `# HELP rowstore_active_rows Number of live rows in the table.
# TYPE rowstore_active_rows gauge
rowstore_active_rows{table="a"} 3
rowstore_active_rows{table="b"} 7
# HELP rowstore_deletes_total Rows deleted since the table opened.
# TYPE rowstore_deletes_total counter
rowstore_deletes_total{table="a"} 0
rowstore_deletes_total{table="b"} 1
# HELP rowstore_inserts_total Rows inserted since the table opened.
# TYPE rowstore_inserts_total counter
rowstore_inserts_total{table="a"} 5
rowstore_inserts_total{table="b"} 0
`
	require.NoError(t, testutil.CollectAndCompare(coll, strings.NewReader(expected),
		"rowstore_active_rows", "rowstore_inserts_total", "rowstore_deletes_total"))
}

func TestCollectorOverLiveTable(t *testing.T) {
	t.Parallel()

	tbl, err := rowstore.New("live", rowstore.NewSchema(rowstore.Int64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(tbl)))

	addr, err := tbl.Insert([]int64{1})
	require.NoError(t, err)
	_, err = tbl.Insert([]int64{2})
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(addr))

	// Values are read at scrape time, nothing is pushed
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 12, count, "one metric per stat per table")

	expected := `# HELP rowstore_active_rows Number of live rows in the table.
# TYPE rowstore_active_rows gauge
rowstore_active_rows{table="live"} 1
# HELP rowstore_deletes_total Rows deleted since the table opened.
# TYPE rowstore_deletes_total counter
rowstore_deletes_total{table="live"} 1
# HELP rowstore_inserts_total Rows inserted since the table opened.
# TYPE rowstore_inserts_total counter
rowstore_inserts_total{table="live"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"rowstore_active_rows", "rowstore_inserts_total", "rowstore_deletes_total"))
}
