package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/terrane-io/terrane/pkg/config"
	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/provider"
	"github.com/terrane-io/terrane/pkg/providers/sim"
	"github.com/terrane-io/terrane/pkg/resource"
	"github.com/terrane-io/terrane/pkg/stores"
	"github.com/terrane-io/terrane/pkg/telemetry"
)

// runtime bundles the components every command needs: telemetry, the state
// store, and the provider registry.
type runtime struct {
	tel       *telemetry.Telemetry
	store     *stores.SQLiteStore
	providers *provider.Registry
}

// openRuntime initializes telemetry, opens and migrates the state store,
// and registers the simulated provider for every known resource type. Run
// events are persisted to the store's event log.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	cfg.Logging.Output = "stderr"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: statePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	// Persist every published event to the store's append-only event log.
	tel.Events.Subscribe(func(ev telemetry.Event) {
		_ = store.AppendEvent(context.Background(), &stores.EventRecord{
			RunID:      ev.RunID,
			ResourceID: ev.ResourceID,
			Type:       ev.Type,
			Level:      ev.Level,
			Message:    ev.Message,
			Timestamp:  ev.Timestamp,
		})
	}, nil)

	registry := provider.NewRegistry()
	simProvider := sim.New()
	registry.RegisterAll(simProvider,
		resource.TypeVPC,
		resource.TypeSubnet,
		resource.TypeRouteTable,
		resource.TypeRoute,
		resource.TypeSecurityGroup,
		resource.TypeLoadBalancer,
		resource.TypeTargetGroup,
		resource.TypeTargetGroupAttachment,
		resource.TypeLaunchTemplate,
		resource.TypeAutoscalingGroup,
		resource.TypeInstance,
	)

	return &runtime{
		tel:       tel,
		store:     store,
		providers: registry,
	}, nil
}

// close releases the runtime's resources.
func (r *runtime) close(ctx context.Context) {
	_ = r.tel.Shutdown(ctx)
	_ = r.store.Close()
}

// loadTopologyOnly loads and validates the topology file without expansion.
func loadTopologyOnly() (*config.Topology, error) {
	return config.Load(topologyPath)
}

// loadGraph loads the topology file, applies command line variables,
// expands counted declarations, and builds the dependency graph.
func loadGraph() (*config.Topology, *engine.Graph, error) {
	topo, err := config.Load(topologyPath)
	if err != nil {
		return nil, nil, err
	}

	overrides := make(map[string]any, len(varFlags))
	for _, flag := range varFlags {
		name, value, err := config.ParseVarFlag(flag)
		if err != nil {
			return nil, nil, err
		}
		overrides[name] = value
	}
	vars := config.MergeVars(topo.Vars, overrides)

	expanded, err := engine.NewExpander(vars).Expand(topo.Descriptors())
	if err != nil {
		return nil, nil, err
	}

	graph, err := engine.NewGraphBuilder().Build(expanded)
	if err != nil {
		return nil, nil, err
	}
	return topo, graph, nil
}

// printPlan renders a plan for the terminal or as JSON.
func printPlan(plan *engine.Plan) error {
	if jsonOutput {
		return printJSON(plan)
	}

	if !plan.HasChanges() {
		fmt.Printf("Plan %s: no changes. Topology matches applied state.\n", plan.ID)
		return nil
	}

	fmt.Printf("Plan %s:\n\n", plan.ID)
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.Action == engine.ActionNoOp {
			continue
		}
		fmt.Printf("  %-7s %-40s %s\n", s.Action, s.ResourceID, s.Reason)
	}
	sum := plan.Summary
	fmt.Printf("\nSummary: %d to create, %d to update, %d to delete, %d to replace, %d unchanged.\n",
		sum.ToCreate, sum.ToUpdate, sum.ToDelete, sum.ToReplace, sum.NoChange)
	return nil
}

// printApplyResult renders an apply result for the terminal or as JSON.
func printApplyResult(res *engine.ApplyResult) error {
	if jsonOutput {
		return printJSON(res)
	}

	sum := res.Summary()
	fmt.Printf("\nRun %s %s: %d succeeded, %d no-op, %d failed, %d blocked, %d cancelled.\n",
		res.RunID, res.Status, sum.Succeeded, sum.NoOp, sum.Failed, sum.Blocked, sum.Cancelled)

	if sum.Failed == 0 && sum.Blocked == 0 {
		return nil
	}

	ids := make([]string, 0, len(res.Steps))
	for id := range res.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sr := res.Steps[id]
		if sr.Error == nil {
			continue
		}
		fmt.Printf("  %-9s %-40s %s\n", sr.Status, sr.ResourceID, sr.Error.Message)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// saveRun records the run and its summary in the store.
func saveRun(ctx context.Context, store *stores.SQLiteStore, res *engine.ApplyResult) error {
	summary, err := json.Marshal(res.Summary())
	if err != nil {
		return err
	}
	completed := res.CompletedAt
	return store.SaveRun(ctx, &stores.RunRecord{
		ID:          res.RunID,
		PlanID:      res.PlanID,
		Status:      string(res.Status),
		StartedAt:   res.StartedAt,
		CompletedAt: &completed,
		Summary:     string(summary),
	})
}
