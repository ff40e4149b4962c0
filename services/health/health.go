// Package health tracks whether the engine is reachable and healthy, and
// switches searches off when it has been down for too long.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meghashyamc/presssync/config"
	"github.com/meghashyamc/presssync/db/kvdb"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	StatusNever    = "never"
	StatusStale    = "stale"
	StatusOK       = "ok"
	StatusAlert    = "alert"
	StatusShutdown = "shutdown"

	ClusterGreen   = "green"
	ClusterYellow  = "yellow"
	ClusterRed     = "red"
	ClusterInvalid = "invalid"

	heartbeatKey = "beat"

	// DeactivatedByHeartbeat marks a deactivation the monitor may undo.
	DeactivatedByHeartbeat = "heartbeat"
)

// Heartbeat is the persisted record of the last probes.
type Heartbeat struct {
	Queried    time.Time `json:"queried"`
	Verified   time.Time `json:"verified"`
	LastStatus string    `json:"last_status"`
}

// ClusterHealthChecker is the engine call the monitor probes with.
type ClusterHealthChecker interface {
	ClusterHealth(ctx context.Context) (*searchdb.ClusterHealth, error)
}

// Activation is the engine's active flag.
type Activation interface {
	IsActive(ctx context.Context) (bool, error)
	SetActive(ctx context.Context, active bool) error
	Deactivate(ctx context.Context, reason string) error
	DeactivatedBy(ctx context.Context) (string, error)
}

type Options struct {
	Interval          time.Duration
	IncreaseInterval  time.Duration
	AlertThreshold    time.Duration
	ShutdownThreshold time.Duration
	StaleThreshold    time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:          cfg.GetHeartbeatInterval(),
		IncreaseInterval:  cfg.GetHeartbeatIncreaseInterval(),
		AlertThreshold:    cfg.GetAlertThreshold(),
		ShutdownThreshold: cfg.GetShutdownThreshold(),
		StaleThreshold:    cfg.GetStaleThreshold(),
	}
}

type Monitor struct {
	logger     logger.Logger
	engine     ClusterHealthChecker
	db         kvdb.DB
	activation Activation
	metrics    *metrics.Metrics
	opts       Options
	now        func() time.Time

	probes singleflight.Group

	mu        sync.Mutex
	heartbeat *Heartbeat
}

func New(logger logger.Logger, engine ClusterHealthChecker, db kvdb.DB, activation Activation, m *metrics.Metrics, opts Options) *Monitor {
	return &Monitor{
		logger:     logger,
		engine:     engine,
		db:         db,
		activation: activation,
		metrics:    m,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the monitor's time source.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Check probes the engine unless this request already did so. Concurrent
// probes share one engine call. force skips the request cache.
func (m *Monitor) Check(ctx context.Context, force bool) bool {
	cache := cacheFrom(ctx)
	if !force {
		if healthy, checked := cache.get(); checked {
			return healthy
		}
	}

	result, _, _ := m.probes.Do("cluster_health", func() (any, error) {
		return m.probe(ctx), nil
	})
	healthy := result.(bool)
	cache.set(healthy)
	return healthy
}

func (m *Monitor) probe(ctx context.Context) bool {
	status := ClusterInvalid
	health, err := m.engine.ClusterHealth(ctx)
	if err != nil {
		m.logger.Warn("engine health probe failed", "err", err.Error())
	} else if health.Status != "" {
		status = health.Status
	}
	healthy := status == ClusterGreen || status == ClusterYellow

	m.mu.Lock()
	beat := m.loadLocked()
	now := m.now()
	beat.Queried = now
	if healthy {
		beat.Verified = now
	}
	beat.LastStatus = status
	m.saveLocked(beat)
	m.mu.Unlock()

	m.metrics.ObserveProbe(healthy)
	return healthy
}

// Heartbeat returns a copy of the last recorded probes.
func (m *Monitor) Heartbeat() Heartbeat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.loadLocked()
}

// Status classifies the heartbeat: never verified, stale (nobody probed
// recently), ok, alert, or shutdown by the age of the last verified pulse.
func (m *Monitor) Status() string {
	return m.statusOf(m.Heartbeat(), m.now())
}

func (m *Monitor) statusOf(beat Heartbeat, now time.Time) string {
	switch {
	case beat.Verified.IsZero():
		return StatusNever
	case now.Sub(beat.Queried) > m.opts.StaleThreshold:
		return StatusStale
	case now.Sub(beat.Verified) <= m.opts.AlertThreshold:
		return StatusOK
	case now.Sub(beat.Verified) <= m.opts.ShutdownThreshold:
		return StatusAlert
	default:
		return StatusShutdown
	}
}

// HasPulse reports whether the engine was verified healthy within the named
// threshold (StatusAlert or StatusShutdown). When the heartbeat is stale the
// threshold is measured from the last probe instead of from now.
//
// A failing answer is retried with a live check only for contexts marked by
// WithAdmin that have not checked during this request. Search traffic is
// never marked, so it always reads the recorded heartbeat.
func (m *Monitor) HasPulse(ctx context.Context, threshold string) bool {
	if m.withinThreshold(threshold) {
		return true
	}
	if !IsAdmin(ctx) {
		return false
	}
	if _, checked := cacheFrom(ctx).get(); checked {
		return false
	}

	m.Check(ctx, false)
	return m.withinThreshold(threshold)
}

func (m *Monitor) withinThreshold(threshold string) bool {
	limit := m.opts.ShutdownThreshold
	if threshold == StatusAlert {
		limit = m.opts.AlertThreshold
	}

	beat := m.Heartbeat()
	if beat.Verified.IsZero() {
		return false
	}

	reference := m.now()
	if m.statusOf(beat, reference) == StatusStale {
		reference = beat.Queried
	}
	return reference.Sub(beat.Verified) <= limit
}

// Run probes the engine until ctx is done. After a failed probe the next one
// comes sooner.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("heartbeat started", "interval", m.opts.Interval.String())
	for {
		interval := m.Beat(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("heartbeat stopped", "reason", ctx.Err())
			return
		}
	}
}

// Beat runs one probe, applies activation changes, and returns the delay
// before the next one.
func (m *Monitor) Beat(ctx context.Context) time.Duration {
	healthy := m.Check(ctx, true)
	status := m.Status()
	m.metrics.SetHeartbeatStatus(status)

	if m.activation != nil {
		m.applyActivation(ctx, status, healthy)
	}

	if !healthy {
		return m.opts.IncreaseInterval
	}
	return m.opts.Interval
}

func (m *Monitor) applyActivation(ctx context.Context, status string, healthy bool) {
	if status == StatusShutdown {
		active, err := m.activation.IsActive(ctx)
		if err != nil {
			m.logger.Error("could not read active flag", "err", err.Error())
			return
		}
		if active {
			m.logger.Warn("engine has no pulse, deactivating", "heartbeat", m.Heartbeat())
			if err := m.activation.Deactivate(ctx, DeactivatedByHeartbeat); err != nil {
				m.logger.Error("could not deactivate engine", "err", err.Error())
			}
		}
		return
	}

	if !healthy {
		return
	}
	deactivatedBy, err := m.activation.DeactivatedBy(ctx)
	if err != nil {
		m.logger.Error("could not read deactivation reason", "err", err.Error())
		return
	}
	if deactivatedBy == DeactivatedByHeartbeat {
		m.logger.Info("engine pulse is back, reactivating")
		if err := m.activation.SetActive(ctx, true); err != nil {
			m.logger.Error("could not reactivate engine", "err", err.Error())
		}
	}
}

// Report is the engine health as shown to operators.
type Report struct {
	Status        string    `json:"status"`
	ClusterStatus string    `json:"cluster_status"`
	Queried       time.Time `json:"queried"`
	Verified      time.Time `json:"verified"`
	Degraded      bool      `json:"degraded"`
	Down          bool      `json:"down"`
}

func (m *Monitor) Report() Report {
	beat := m.Heartbeat()
	status := m.statusOf(beat, m.now())
	report := Report{
		Status:        status,
		ClusterStatus: beat.LastStatus,
		Queried:       beat.Queried,
		Verified:      beat.Verified,
	}
	switch {
	case status == StatusShutdown || beat.LastStatus == ClusterRed || beat.LastStatus == ClusterInvalid:
		report.Down = true
	case status == StatusAlert || beat.LastStatus == ClusterYellow:
		report.Degraded = true
	}
	return report
}

// Reset forgets the heartbeat.
func (m *Monitor) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeat = &Heartbeat{}
	if err := m.db.Delete(kvdb.HeartbeatBucket, heartbeatKey); err != nil && !errors.Is(err, kvdb.ErrNotFound) {
		return fmt.Errorf("failed to delete heartbeat: %w", err)
	}
	return nil
}

func (m *Monitor) loadLocked() *Heartbeat {
	if m.heartbeat != nil {
		return m.heartbeat
	}

	beat := &Heartbeat{}
	value, err := m.db.Get(kvdb.HeartbeatBucket, heartbeatKey)
	switch {
	case errors.Is(err, kvdb.ErrNotFound):
	case err != nil:
		m.logger.Error("could not load heartbeat", "err", err.Error())
	default:
		if err := json.Unmarshal([]byte(value), beat); err != nil {
			m.logger.Error("could not decode heartbeat", "err", err.Error())
			beat = &Heartbeat{}
		}
	}
	m.heartbeat = beat
	return beat
}

func (m *Monitor) saveLocked(beat *Heartbeat) {
	m.heartbeat = beat
	data, err := json.Marshal(beat)
	if err != nil {
		m.logger.Error("could not encode heartbeat", "err", err.Error())
		return
	}
	if err := m.db.Set(kvdb.HeartbeatBucket, heartbeatKey, string(data)); err != nil {
		m.logger.Error("could not save heartbeat", "err", err.Error())
	}
}
