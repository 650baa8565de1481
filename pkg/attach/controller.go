package attach

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terrane-io/terrane/pkg/telemetry"
)

// Config holds attachment controller settings.
type Config struct {
	// Interval is the health check polling interval.
	Interval time.Duration

	// HealthyThreshold is the number of consecutive passing checks that
	// moves a target to Healthy.
	HealthyThreshold int

	// UnhealthyThreshold is the number of consecutive failing checks
	// that moves a Healthy target to Unhealthy.
	UnhealthyThreshold int
}

// DefaultConfig returns the default controller settings.
func DefaultConfig() Config {
	return Config{
		Interval:           10 * time.Second,
		HealthyThreshold:   2,
		UnhealthyThreshold: 2,
	}
}

// Controller keeps target group membership consistent with the compute
// pool and gates routing on per-target health. It runs as a continuous
// reconciliation loop, independent from the plan/apply cycle.
//
// Health check results are state-machine input, never errors; only probe
// infrastructure failures are reported as operational errors, and those
// are logged and retried on the next interval.
type Controller struct {
	cfg       Config
	pool      PoolSource
	prober    Prober
	registrar Registrar

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher

	// mu guards targets; Run mutates, Status reads.
	mu      sync.RWMutex
	targets map[TargetID]*TargetHealth
}

// NewController creates an attachment controller. Metrics and events may
// be nil.
func NewController(cfg Config, pool PoolSource, prober Prober, registrar Registrar, logger *telemetry.Logger, metrics *telemetry.Metrics, events *telemetry.EventPublisher) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = DefaultConfig().HealthyThreshold
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = DefaultConfig().UnhealthyThreshold
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Controller{
		cfg:       cfg,
		pool:      pool,
		prober:    prober,
		registrar: registrar,
		logger:    logger.NewComponentLogger("attach"),
		metrics:   metrics,
		events:    events,
		targets:   make(map[TargetID]*TargetHealth),
	}
}

// Run executes the reconciliation loop until the context is cancelled.
// Pool membership events are handled as they arrive; health checks run on
// the configured interval.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Infof("starting attachment controller (interval=%s, healthy=%d, unhealthy=%d)",
		c.cfg.Interval, c.cfg.HealthyThreshold, c.cfg.UnhealthyThreshold)

	if err := c.syncMembership(ctx); err != nil {
		c.logger.WithError(err).Warn("initial membership sync failed, retrying on interval")
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	events := c.pool.Events()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("attachment controller stopped")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handlePoolEvent(ctx, ev)
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass: membership sync followed by one
// health check per tracked target.
func (c *Controller) Tick(ctx context.Context) {
	if err := c.syncMembership(ctx); err != nil {
		c.logger.WithError(err).Warn("membership sync failed, retrying on next interval")
	}
	c.checkAll(ctx)
}

// handlePoolEvent reconciles one pushed membership change immediately.
func (c *Controller) handlePoolEvent(ctx context.Context, ev PoolEvent) {
	switch ev.Type {
	case PoolEventAdded:
		c.addTarget(ctx, ev.Target)
	case PoolEventRemoved:
		c.removeTarget(ctx, ev.Target)
	}
}

// syncMembership reconciles tracked targets against the pool snapshot. It
// also retries registrations and deregistrations that failed earlier.
func (c *Controller) syncMembership(ctx context.Context) error {
	members, err := c.pool.Snapshot(ctx)
	if err != nil {
		return err
	}

	current := make(map[TargetID]struct{}, len(members))
	for _, m := range members {
		current[m] = struct{}{}
		c.mu.RLock()
		_, tracked := c.targets[m]
		c.mu.RUnlock()
		if !tracked {
			c.addTarget(ctx, m)
		}
	}

	c.mu.RLock()
	var stale []TargetID
	for id := range c.targets {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	c.mu.RUnlock()
	for _, id := range stale {
		c.removeTarget(ctx, id)
	}

	return nil
}

// addTarget registers a new pool member, excluded from routing until it
// proves healthy.
func (c *Controller) addTarget(ctx context.Context, target TargetID) {
	if err := c.registrar.Register(ctx, target); err != nil {
		c.logger.WithTarget(string(target)).WithError(err).Warn("register failed, retrying on next interval")
		return
	}

	now := time.Now()
	c.mu.Lock()
	c.targets[target] = &TargetHealth{
		Target:         target,
		State:          StateInitial,
		LastTransition: now,
	}
	c.mu.Unlock()

	c.logger.WithTarget(string(target)).Info("target registered")
	c.recordState(target, StateInitial)
}

// removeTarget deregisters a target that left the pool, whatever its
// health state.
func (c *Controller) removeTarget(ctx context.Context, target TargetID) {
	c.mu.Lock()
	th, ok := c.targets[target]
	if ok {
		th.State = StateDraining
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.registrar.Deregister(ctx, target); err != nil {
		c.logger.WithTarget(string(target)).WithError(err).Warn("deregister failed, retrying on next interval")
		return
	}

	c.mu.Lock()
	delete(c.targets, target)
	c.mu.Unlock()

	c.logger.WithTarget(string(target)).Info("target deregistered")
	if c.metrics != nil {
		c.metrics.RemoveTargetHealth(string(target))
	}
}

// checkAll probes every tracked target once and feeds the results to the
// state machine.
func (c *Controller) checkAll(ctx context.Context) {
	c.mu.RLock()
	ids := make([]TargetID, 0, len(c.targets))
	for id, th := range c.targets {
		if th.State != StateDraining {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range ids {
		passing, err := c.prober.Probe(ctx, id)
		if err != nil {
			// Infrastructure failure: the check result is unknown, so it
			// is not state-machine input.
			c.logger.WithTarget(string(id)).WithError(err).Warn("health probe infrastructure failure")
			if c.metrics != nil {
				c.metrics.RecordProbeInfraError()
			}
			continue
		}
		c.observe(ctx, id, passing)
	}
}

// observe feeds one check result into a target's state machine and applies
// any resulting routing change.
func (c *Controller) observe(ctx context.Context, target TargetID, passing bool) {
	c.mu.Lock()
	th, ok := c.targets[target]
	if !ok {
		c.mu.Unlock()
		return
	}

	th.LastChecked = time.Now()
	if passing {
		th.ConsecutivePasses++
		th.ConsecutiveFailures = 0
	} else {
		th.ConsecutiveFailures++
		th.ConsecutivePasses = 0
	}

	from := th.State
	to := from
	switch {
	case (from == StateInitial || from == StateUnhealthy) && th.ConsecutivePasses >= c.cfg.HealthyThreshold:
		to = StateHealthy
	case from == StateHealthy && th.ConsecutiveFailures >= c.cfg.UnhealthyThreshold:
		to = StateUnhealthy
	}
	c.mu.Unlock()

	if to == from {
		return
	}

	// Routing is switched before the state is committed; if the registrar
	// call fails the counters stay at the threshold and the transition is
	// retried on the next interval.
	if err := c.registrar.SetRoutable(ctx, target, to.Routable()); err != nil {
		c.logger.WithTarget(string(target)).WithError(err).Warn("routing update failed, retrying on next interval")
		return
	}

	now := time.Now()
	c.mu.Lock()
	th.State = to
	th.LastTransition = now
	c.mu.Unlock()

	c.logger.WithTarget(string(target)).Infof("health transition %s -> %s", from, to)
	if c.metrics != nil {
		c.metrics.RecordHealthTransition(string(from), string(to))
	}
	if c.events != nil {
		c.events.PublishHealthTransition(string(target), string(from), string(to))
	}
	c.recordState(target, to)
}

// recordState publishes the target's state gauge.
func (c *Controller) recordState(target TargetID, state HealthState) {
	if c.metrics != nil {
		c.metrics.SetTargetHealth(string(target), string(state))
	}
}

// Status returns a snapshot of all tracked targets, sorted by target ID.
func (c *Controller) Status() []TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TargetHealth, 0, len(c.targets))
	for _, th := range c.targets {
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Routable returns the targets currently receiving traffic.
func (c *Controller) Routable() []TargetID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []TargetID
	for id, th := range c.targets {
		if th.State.Routable() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
