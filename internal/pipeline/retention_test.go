package pipeline

import (
	"testing"
	"time"

	"lore.fm/arcs/internal/db"
)

func TestSweepDue_EitherWindowAloneFires(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	conf := Config{MaxAgeDays: 30, InactivityDays: 7, KeyPointCap: 12, LookbackDays: 30}.normalized()
	ageCutoff := now.AddDate(0, 0, -conf.MaxAgeDays)
	inactivityCutoff := now.AddDate(0, 0, -conf.InactivityDays)

	cases := []struct {
		name string
		arc  db.ArcRecord
		want bool
	}{
		{
			"inactive under max age",
			db.ArcRecord{StartedAt: now.AddDate(0, 0, -20), LastUpdatedAt: now.AddDate(0, 0, -10)},
			true,
		},
		{
			"over max age but recently updated",
			db.ArcRecord{StartedAt: now.AddDate(0, 0, -40), LastUpdatedAt: now.AddDate(0, 0, -1)},
			true,
		},
		{
			"young and active",
			db.ArcRecord{StartedAt: now.AddDate(0, 0, -5), LastUpdatedAt: now.AddDate(0, 0, -1)},
			false,
		},
		{
			"exactly on both cutoffs",
			db.ArcRecord{StartedAt: ageCutoff, LastUpdatedAt: inactivityCutoff},
			false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := sweepDue(tc.arc, ageCutoff, inactivityCutoff); got != tc.want {
				t.Fatalf("sweepDue = %v, want %v", got, tc.want)
			}
		})
	}
}
