package db

import (
	"context"
	"fmt"
	"time"
)

// StatsPartitionCount stores per-partition arc and evidence counts.
type StatsPartitionCount struct {
	PartitionKey string `json:"partition_key"`
	Arcs         int64  `json:"arcs"`
	Events       int64  `json:"events"`
}

// StatsTotals stores totals across partitions.
type StatsTotals struct {
	Arcs         int64 `json:"arcs"`
	Events       int64 `json:"events"`
	CacheEntries int64 `json:"cache_entries"`
}

// EngineStats is the read model returned by the stats command and API.
type EngineStats struct {
	Day        string                `json:"day"`
	Partitions []StatsPartitionCount `json:"partitions"`
	Totals     StatsTotals           `json:"totals"`
	ArcsToday  int64                 `json:"arcs_created_today"`
}

// QueryEngineStats returns per-partition and total counts plus daily throughput.
func (p *Pool) QueryEngineStats(ctx context.Context, dayStart, dayEnd time.Time) (*EngineStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &EngineStats{
		Day:        startUTC.Format("2006-01-02"),
		Partitions: make([]StatsPartitionCount, 0, 8),
	}

	const countsQuery = `
SELECT
	a.partition_key,
	COUNT(*)::BIGINT AS arcs,
	COALESCE(SUM(a.event_count), 0)::BIGINT AS events
FROM arcs.arcs a
GROUP BY a.partition_key
ORDER BY a.partition_key
`
	rows, err := p.Query(ctx, countsQuery)
	if err != nil {
		return nil, fmt.Errorf("query partition counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row StatsPartitionCount
		if err := rows.Scan(&row.PartitionKey, &row.Arcs, &row.Events); err != nil {
			return nil, fmt.Errorf("scan partition counts: %w", err)
		}
		stats.Partitions = append(stats.Partitions, row)
		stats.Totals.Arcs += row.Arcs
		stats.Totals.Events += row.Events
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partition counts: %w", err)
	}

	const cacheQuery = `SELECT COUNT(*)::BIGINT FROM arcs.embedding_cache`
	if err := p.QueryRow(ctx, cacheQuery).Scan(&stats.Totals.CacheEntries); err != nil {
		return nil, fmt.Errorf("query embedding cache count: %w", err)
	}

	const todayQuery = `
SELECT COUNT(*)::BIGINT
FROM arcs.arcs a
WHERE a.created_at >= $1 AND a.created_at < $2
`
	if err := p.QueryRow(ctx, todayQuery, startUTC, endUTC).Scan(&stats.ArcsToday); err != nil {
		return nil, fmt.Errorf("query arcs created today: %w", err)
	}

	return stats, nil
}
