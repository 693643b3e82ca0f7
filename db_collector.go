package spacesync

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// DBCollector exposes the health of the underlying pebble store: compaction
// pressure, memtable footprint, and WAL volume.
type DBCollector struct {
	db *pebble.DB

	compactionCount *prometheus.Desc
	compactionDebt  *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc

	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc

	diskUsage *prometheus.Desc
}

func NewDBCollector(db *pebble.DB) *DBCollector {
	return &DBCollector{
		db: db,

		compactionCount: prometheus.NewDesc(
			"spacesync_db_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"spacesync_db_compaction_estimated_debt_bytes",
			"Estimated bytes to compact to reach a stable state",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"spacesync_db_memtable_size_bytes",
			"Current size of the memtables in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"spacesync_db_memtable_count_total",
			"Current count of memtables",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			"spacesync_db_wal_files_total",
			"Number of live WAL files",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"spacesync_db_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"spacesync_db_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			nil, nil,
		),
		diskUsage: prometheus.NewDesc(
			"spacesync_db_disk_usage_bytes",
			"Total disk space used by the database",
			nil, nil,
		),
	}
}

func (dc *DBCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- dc.compactionCount
	ch <- dc.compactionDebt
	ch <- dc.memtableSize
	ch <- dc.memtableCount
	ch <- dc.walFiles
	ch <- dc.walSize
	ch <- dc.walBytesWritten
	ch <- dc.diskUsage
}

func (dc *DBCollector) Collect(ch chan<- prometheus.Metric) {
	metrics := dc.db.Metrics()

	ch <- prometheus.MustNewConstMetric(
		dc.compactionCount, prometheus.CounterValue,
		float64(metrics.Compact.Count))
	ch <- prometheus.MustNewConstMetric(
		dc.compactionDebt, prometheus.GaugeValue,
		float64(metrics.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(
		dc.memtableSize, prometheus.GaugeValue,
		float64(metrics.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(
		dc.memtableCount, prometheus.GaugeValue,
		float64(metrics.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(
		dc.walFiles, prometheus.GaugeValue,
		float64(metrics.WAL.Files))
	ch <- prometheus.MustNewConstMetric(
		dc.walSize, prometheus.GaugeValue,
		float64(metrics.WAL.Size))
	ch <- prometheus.MustNewConstMetric(
		dc.walBytesWritten, prometheus.CounterValue,
		float64(metrics.WAL.BytesWritten))
	ch <- prometheus.MustNewConstMetric(
		dc.diskUsage, prometheus.GaugeValue,
		float64(metrics.DiskSpaceUsage()))
}
