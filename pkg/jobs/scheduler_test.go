package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/dispatch"
)

type fakeRetryMaint struct {
	purged, depth int
	retention     time.Duration
}

func (f *fakeRetryMaint) PurgeDLQ(ctx context.Context, retention time.Duration) (int, error) {
	f.retention = retention
	return f.purged, nil
}

func (f *fakeRetryMaint) CountDLQ(ctx context.Context) (int, error) {
	return f.depth, nil
}

type fakeEdgeMaint struct {
	swept, expired int
	staleAfter     time.Duration
}

func (f *fakeEdgeMaint) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	f.staleAfter = staleAfter
	return f.swept, nil
}

func (f *fakeEdgeMaint) ExpireActions(ctx context.Context) (int, error) {
	return f.expired, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	threshold float64
	floor     float64
	ceil      float64
	stats     dispatch.Stats
	reclaimed int
}

func (f *fakeDispatcher) Threshold() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threshold
}

func (f *fakeDispatcher) SetThreshold(t float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t < f.floor {
		t = f.floor
	}
	if t > f.ceil {
		t = f.ceil
	}
	f.threshold = t
	return t
}

func (f *fakeDispatcher) GetStats() dispatch.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeDispatcher) ReclaimStale(ctx context.Context, minIdle time.Duration) (int, error) {
	return f.reclaimed, nil
}

type fakeProber struct {
	failures map[string]error
	probes   int
}

func (f *fakeProber) HealthCheckAll(ctx context.Context) map[string]error {
	f.probes++
	return f.failures
}

func testScheduler(d *fakeDispatcher) (*Scheduler, *fakeRetryMaint, *fakeEdgeMaint) {
	cfg := &config.Config{}
	cfg.Detection = config.DefaultDetectionConfig()
	cfg.Retry = config.DefaultRetryConfig()
	cfg.Realtime = config.DefaultRealtimeConfig()
	cfg.Jobs = config.DefaultJobsConfig()
	retry := &fakeRetryMaint{purged: 3, depth: 7}
	edge := &fakeEdgeMaint{swept: 2, expired: 1}
	return New(cfg, retry, edge, d, &fakeProber{}), retry, edge
}

func TestDLQAgingUsesConfiguredRetention(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.3, floor: 0.1, ceil: 0.9}
	s, retry, _ := testScheduler(d)

	s.runDLQAging(context.Background())
	assert.Equal(t, 7*24*time.Hour, retry.retention)
}

func TestEdgeSweepUsesHeartbeatStale(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.3, floor: 0.1, ceil: 0.9}
	s, _, edge := testScheduler(d)

	s.runEdgeLivenessSweep(context.Background())
	assert.Equal(t, 3*time.Minute, edge.staleAfter)
}

func TestThresholdTuningRaisesOnHighPromoteRate(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.3, floor: 0.1, ceil: 0.9}
	s, _, _ := testScheduler(d)

	d.stats = dispatch.Stats{Processed: 100, Promoted: 80}
	s.runThresholdTuning(context.Background())
	assert.InDelta(t, 0.35, d.Threshold(), 1e-9)
}

func TestThresholdTuningLowersOnLowPromoteRate(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.3, floor: 0.1, ceil: 0.9}
	s, _, _ := testScheduler(d)

	d.stats = dispatch.Stats{Processed: 100, Promoted: 1}
	s.runThresholdTuning(context.Background())
	assert.InDelta(t, 0.25, d.Threshold(), 1e-9)
}

func TestThresholdTuningSkipsSmallAndBalancedWindows(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.3, floor: 0.1, ceil: 0.9}
	s, _, _ := testScheduler(d)

	// Too few decisions.
	d.stats = dispatch.Stats{Processed: 5, Promoted: 5}
	s.runThresholdTuning(context.Background())
	assert.InDelta(t, 0.3, d.Threshold(), 1e-9)

	// Healthy promote rate.
	d.stats = dispatch.Stats{Processed: 105, Promoted: 25}
	s.runThresholdTuning(context.Background())
	assert.InDelta(t, 0.3, d.Threshold(), 1e-9)
}

func TestThresholdTuningDiffsAgainstWindow(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.3, floor: 0.1, ceil: 0.9}
	s, _, _ := testScheduler(d)

	// First window promotes heavily; threshold rises.
	d.stats = dispatch.Stats{Processed: 100, Promoted: 80}
	s.runThresholdTuning(context.Background())
	require.InDelta(t, 0.35, d.Threshold(), 1e-9)

	// Next window adds only dismissals; the old promotions must not count
	// again.
	d.stats = dispatch.Stats{Processed: 200, Promoted: 81}
	s.runThresholdTuning(context.Background())
	assert.InDelta(t, 0.30, d.Threshold(), 1e-9)
}

func TestBaselineRecomputeRecentersHalfway(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.7, floor: 0.1, ceil: 0.9}
	s, _, _ := testScheduler(d)

	s.runBaselineRecompute(context.Background())
	assert.InDelta(t, 0.5, d.Threshold(), 1e-9, "halfway from 0.7 toward the 0.3 baseline")

	s.runBaselineRecompute(context.Background())
	assert.InDelta(t, 0.4, d.Threshold(), 1e-9)
}

func TestStartRegistersConfiguredJobs(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.3, floor: 0.1, ceil: 0.9}
	s, _, _ := testScheduler(d)
	s.cfg.Jobs.ConnectorProbes = "" // disabled

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 5)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	d := &fakeDispatcher{threshold: 0.3, floor: 0.1, ceil: 0.9}
	s, _, _ := testScheduler(d)
	s.cfg.Jobs.DLQAging = "not a schedule"

	err := s.Start(context.Background())
	require.Error(t, err)
}

func TestNilDependenciesDisableJobs(t *testing.T) {
	cfg := &config.Config{}
	cfg.Detection = config.DefaultDetectionConfig()
	cfg.Retry = config.DefaultRetryConfig()
	cfg.Realtime = config.DefaultRealtimeConfig()
	cfg.Jobs = config.DefaultJobsConfig()
	s := New(cfg, nil, nil, nil, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Empty(t, s.cron.Entries())
}
