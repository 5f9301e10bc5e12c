package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labeledHit(score float64, direction string, impactPct float64, ttiMS int64, age time.Duration, now time.Time) Hit {
	return Hit{
		Item: &Item{
			Labeled:     true,
			ContentTime: now.Add(-age),
			Outcome: &OutcomeLabel{
				Direction:    direction,
				ImpactPct:    impactPct,
				TimeToImpact: ttiMS,
				Confidence:   0.9,
			},
		},
		Score: score,
	}
}

func plainHit(score, sentiment float64, age time.Duration, now time.Time) Hit {
	return Hit{
		Item: &Item{
			Sentiment:   sentiment,
			ContentTime: now.Add(-age),
		},
		Score: score,
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil, time.Now())
	assert.Equal(t, 0, stats.TotalResults)
	assert.Nil(t, stats.Impact)
}

func TestComputeStatsAverageScore(t *testing.T) {
	now := time.Now().UTC()
	hits := []Hit{
		plainHit(0.8, 0, time.Minute, now),
		plainHit(0.6, 0, time.Minute, now),
	}
	stats := ComputeStats(hits, now)
	assert.Equal(t, 2, stats.TotalResults)
	assert.InDelta(t, 0.7, stats.AvgScore, 1e-9)
}

func TestComputeStatsImpactBreakdownRequiresHalfLabeled(t *testing.T) {
	now := time.Now().UTC()

	// 1 of 3 labeled: no breakdown
	hits := []Hit{
		labeledHit(0.9, "up", 12, 60000, time.Hour, now),
		plainHit(0.8, 0.5, time.Hour, now),
		plainHit(0.7, -0.5, time.Hour, now),
	}
	stats := ComputeStats(hits, now)
	assert.Nil(t, stats.Impact)

	// 2 of 3 labeled: breakdown present
	hits[1] = labeledHit(0.8, "down", -8, 120000, time.Hour, now)
	stats = ComputeStats(hits, now)
	require.NotNil(t, stats.Impact)
	assert.Equal(t, 1, stats.Impact.UpCount)
	assert.Equal(t, 1, stats.Impact.DownCount)
	assert.InDelta(t, 2.0, stats.Impact.MeanImpactPct, 1e-9)
	assert.InDelta(t, 90000, stats.Impact.MeanTimeToImpactMS, 1e-9)
}

func TestComputeStatsSentimentDistribution(t *testing.T) {
	now := time.Now().UTC()
	hits := []Hit{
		plainHit(0.9, 0.8, time.Minute, now),
		plainHit(0.9, -0.8, time.Minute, now),
		plainHit(0.9, 0.0, time.Minute, now),
	}
	stats := ComputeStats(hits, now)
	assert.Equal(t, 1, stats.Sentiment["positive"])
	assert.Equal(t, 1, stats.Sentiment["negative"])
	assert.Equal(t, 1, stats.Sentiment["neutral"])
}

func TestComputeStatsTemporalHistogram(t *testing.T) {
	now := time.Now().UTC()
	hits := []Hit{
		plainHit(0.9, 0, 30*time.Minute, now),
		plainHit(0.9, 0, 5*time.Hour, now),
		plainHit(0.9, 0, 3*24*time.Hour, now),
		plainHit(0.9, 0, 30*24*time.Hour, now),
	}
	stats := ComputeStats(hits, now)
	assert.Equal(t, 1, stats.Temporal.LastHour)
	assert.Equal(t, 1, stats.Temporal.LastDay)
	assert.Equal(t, 1, stats.Temporal.LastWeek)
	assert.Equal(t, 1, stats.Temporal.Older)
}
