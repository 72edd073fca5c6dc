package collect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// chunksTotal counts processed chunks by outcome
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "absorb_chunks_total",
		Help: "Total chunks processed by source, table and status",
	}, []string{"source", "table", "status"})

	// chunkBytesTotal counts raw payload bytes stored
	chunkBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "absorb_chunk_bytes_total",
		Help: "Total raw payload bytes stored by source and table",
	}, []string{"source", "table"})

	// fetchDuration tracks upstream fetch latency per chunk
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "absorb_fetch_duration_seconds",
		Help:    "Chunk fetch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"source", "table"})

	// plannedChunks is the size of the latest plan per table
	plannedChunks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "absorb_planned_chunks",
		Help: "Chunks in the most recent collection plan",
	}, []string{"source", "table"})

	// runsTotal counts collection runs by result
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "absorb_collection_runs_total",
		Help: "Total collection runs by result",
	}, []string{"result"})
)
