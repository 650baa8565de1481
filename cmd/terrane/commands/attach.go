package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/attach"
	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/provider"
	"github.com/terrane-io/terrane/pkg/resource"
)

func newAttachCommand() *cobra.Command {
	var (
		targetGroup        string
		interval           time.Duration
		healthyThreshold   int
		unhealthyThreshold int
		probePort          int
		probePath          string
		metricsAddr        string
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Run the health-gated attachment controller",
		Long: `Continuously converge target-group membership with the applied compute
pool, gating routing on observed target health.

Instances from the applied state form the pool. Each member is registered
with the target group but excluded from routing until it passes consecutive
health checks; consecutive failures remove it from routing without
deregistering it. Instances that leave the applied state are drained and
deregistered.

Runs until interrupted.`,
		Example: `  # Attach applied instances to a target group
  terrane attach --target-group target_group.app

  # Faster checks with stricter thresholds
  terrane attach --target-group target_group.app --interval 5s --unhealthy-threshold 3

  # Expose controller metrics
  terrane attach --target-group target_group.app --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", rt.tel.Metrics.Handler())
					server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
					_ = server.ListenAndServe()
				}()
			}

			tgRecord, found, err := rt.store.Get(resource.ID(targetGroup))
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("target group %s is not in applied state, apply the topology first", targetGroup)
			}

			prov, err := rt.providers.Lookup(resource.TypeTargetGroupAttachment)
			if err != nil {
				return err
			}

			pool := newStorePool(rt.store)
			prober := newHTTPProber(pool, probePort, probePath)
			registrar := newProviderRegistrar(prov, tgRecord)

			controller := attach.NewController(
				attach.Config{
					Interval:           interval,
					HealthyThreshold:   healthyThreshold,
					UnhealthyThreshold: unhealthyThreshold,
				},
				pool, prober, registrar,
				rt.tel.Logger, rt.tel.Metrics, rt.tel.Events,
			)

			if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&targetGroup, "target-group", "", "target group resource ID (type.name)")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "health check interval")
	cmd.Flags().IntVar(&healthyThreshold, "healthy-threshold", 2, "consecutive passes before a target is routable")
	cmd.Flags().IntVar(&unhealthyThreshold, "unhealthy-threshold", 2, "consecutive failures before routing stops")
	cmd.Flags().IntVar(&probePort, "probe-port", 80, "target port for health checks")
	cmd.Flags().StringVar(&probePath, "probe-path", "/healthz", "target path for health checks")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for the metrics endpoint")
	_ = cmd.MarkFlagRequired("target-group")

	return cmd
}

// storePool sources the compute pool from applied instance records.
type storePool struct {
	store engine.StateStore

	mu    sync.Mutex
	addrs map[attach.TargetID]string
}

func newStorePool(store engine.StateStore) *storePool {
	return &storePool{store: store, addrs: make(map[attach.TargetID]string)}
}

// Snapshot lists the provider IDs of all applied instances and refreshes
// the target address map as a side effect.
func (p *storePool) Snapshot(_ context.Context) ([]attach.TargetID, error) {
	records, err := p.store.List()
	if err != nil {
		return nil, err
	}

	var out []attach.TargetID
	addrs := make(map[attach.TargetID]string)
	for _, rec := range records {
		if rec.Type != resource.TypeInstance {
			continue
		}
		id := attach.TargetID(rec.ProviderID)
		out = append(out, id)
		if ip, ok := rec.Outputs["private_ip"].(string); ok {
			addrs[id] = ip
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	p.mu.Lock()
	p.addrs = addrs
	p.mu.Unlock()
	return out, nil
}

// Events returns nil: the store has no push channel, membership changes
// are picked up by the controller's interval sync.
func (p *storePool) Events() <-chan attach.PoolEvent {
	return nil
}

func (p *storePool) addr(target attach.TargetID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.addrs[target]
	return a, ok
}

// newHTTPProber builds a prober that GETs the target's health endpoint.
// Any response below 500 passes; connection errors are failing checks, not
// probe infrastructure errors, since an unreachable target is unhealthy.
func newHTTPProber(pool *storePool, port int, path string) attach.Prober {
	client := &http.Client{Timeout: 3 * time.Second}
	return attach.ProbeFunc(func(ctx context.Context, target attach.TargetID) (bool, error) {
		addr, ok := pool.addr(target)
		if !ok {
			return false, fmt.Errorf("no address recorded for target %s", target)
		}
		url := fmt.Sprintf("http://%s%s", net.JoinHostPort(addr, fmt.Sprintf("%d", port)), path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, nil
		}
		resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError, nil
	})
}

// providerRegistrar manages target_group_attachment resources through the
// provider layer.
type providerRegistrar struct {
	provider    provider.Provider
	targetGroup *engine.AppliedResource

	mu          sync.Mutex
	attachments map[attach.TargetID]string
}

func newProviderRegistrar(prov provider.Provider, tg *engine.AppliedResource) *providerRegistrar {
	return &providerRegistrar{
		provider:    prov,
		targetGroup: tg,
		attachments: make(map[attach.TargetID]string),
	}
}

func (r *providerRegistrar) Register(ctx context.Context, target attach.TargetID) error {
	r.mu.Lock()
	_, exists := r.attachments[target]
	r.mu.Unlock()
	if exists {
		return nil
	}

	res, err := r.provider.Create(ctx, resource.TypeTargetGroupAttachment, map[string]any{
		"target_group_arn": r.targetGroup.Outputs["arn"],
		"target_id":        string(target),
		"routable":         false,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.attachments[target] = res.ProviderID
	r.mu.Unlock()
	return nil
}

func (r *providerRegistrar) Deregister(ctx context.Context, target attach.TargetID) error {
	r.mu.Lock()
	id, exists := r.attachments[target]
	r.mu.Unlock()
	if !exists {
		return nil
	}

	if err := r.provider.Delete(ctx, resource.TypeTargetGroupAttachment, id); err != nil && !provider.IsNotFound(err) {
		return err
	}

	r.mu.Lock()
	delete(r.attachments, target)
	r.mu.Unlock()
	return nil
}

func (r *providerRegistrar) SetRoutable(ctx context.Context, target attach.TargetID, routable bool) error {
	r.mu.Lock()
	id, exists := r.attachments[target]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("target %s is not registered", target)
	}

	_, err := r.provider.Update(ctx, resource.TypeTargetGroupAttachment, id, map[string]any{
		"target_group_arn": r.targetGroup.Outputs["arn"],
		"target_id":        string(target),
		"routable":         routable,
	})
	return err
}
