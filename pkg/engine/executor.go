package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/terrane-io/terrane/pkg/provider"
	"github.com/terrane-io/terrane/pkg/resource"
	"github.com/terrane-io/terrane/pkg/telemetry"
)

// Executor applies plans against providers with bounded parallelism. Steps
// run as soon as every step they depend on has succeeded; a failure marks
// the step's transitive dependents Blocked without touching unrelated
// branches. Each successful step is committed to the state store before its
// dependents are released.
type Executor struct {
	// store persists applied records; mutated once per successful step.
	store StateStore

	// providers resolves resource types to their backend.
	providers *provider.Registry

	// parallelism bounds the number of concurrent provider calls.
	parallelism int

	// maxRetries bounds retry attempts per step for retryable errors.
	maxRetries int

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	tracer  *telemetry.Tracer
}

// ExecutorOptions configures an Executor. Zero values select defaults;
// telemetry fields may be nil.
type ExecutorOptions struct {
	// Parallelism is the worker count. Defaults to 10.
	Parallelism int

	// MaxRetries is the retry budget per step. Defaults to 3.
	MaxRetries int

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
	Tracer  *telemetry.Tracer
}

// NewExecutor creates an executor over the given store and providers.
func NewExecutor(store StateStore, providers *provider.Registry, opts ExecutorOptions) *Executor {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 10
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Executor{
		store:       store,
		providers:   providers,
		parallelism: opts.Parallelism,
		maxRetries:  opts.MaxRetries,
		logger:      logger.NewComponentLogger("executor"),
		metrics:     opts.Metrics,
		events:      opts.Events,
		tracer:      opts.Tracer,
	}
}

// workItem is a dispatched step with its references resolved.
type workItem struct {
	step  *Step
	attrs map[string]any
}

// completion is a worker's report back to the coordinator.
type completion struct {
	step    *Step
	result  *StepResult
	outputs map[string]any
}

// Apply executes a plan and returns the per-step outcome report. Step
// failures never fail the run as a whole; they are reflected in the result
// statuses. Apply itself errors only on an invalid plan.
func (e *Executor) Apply(ctx context.Context, plan *Plan) (*ApplyResult, error) {
	if plan == nil {
		return nil, NewPermanentError("plan is nil", nil).WithCode(ErrCodeValidation)
	}

	res := &ApplyResult{
		RunID:     uuid.New().String(),
		PlanID:    plan.ID,
		Status:    RunStatusRunning,
		Steps:     make(map[string]*StepResult, len(plan.Steps)),
		StartedAt: time.Now(),
	}

	runCtx := ctx
	if e.tracer != nil {
		var end func()
		runCtx, end = e.tracer.RunSpan(ctx, res.RunID)
		defer end()
	}

	steps := make(map[string]*Step, len(plan.Steps))
	remaining := make(map[string]int, len(plan.Steps))
	dependents := make(map[string][]string)
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if _, dup := steps[s.ID]; dup {
			return nil, NewPermanentError(fmt.Sprintf("duplicate step %s", s.ID), nil).
				WithCode(ErrCodeValidation)
		}
		steps[s.ID] = s
		res.Steps[s.ID] = &StepResult{
			StepID:     s.ID,
			ResourceID: s.ResourceID,
			Action:     s.Action,
			Status:     StepStatusPending,
		}
	}
	for i := range plan.Steps {
		s := &plan.Steps[i]
		for _, dep := range s.DependsOn {
			if _, ok := steps[dep]; !ok {
				return nil, NewPermanentError(
					fmt.Sprintf("step %s depends on unknown step %s", s.ID, dep), nil,
				).WithCode(ErrCodeValidation)
			}
			dependents[dep] = append(dependents[dep], s.ID)
		}
		remaining[s.ID] = len(s.DependsOn)
	}

	logger := e.logger.WithRunID(res.RunID)
	logger.Infof("starting run for plan %s with %d steps", plan.ID, len(plan.Steps))
	if e.metrics != nil {
		e.metrics.RecordRunStarted()
	}
	if e.events != nil {
		e.events.PublishRunStarted(res.RunID, plan.ID)
	}

	workCh := make(chan workItem, len(plan.Steps))
	doneCh := make(chan completion, len(plan.Steps))
	for w := 0; w < e.parallelism; w++ {
		go func() {
			for item := range workCh {
				result, outputs := e.runStep(runCtx, res.RunID, item.step, item.attrs)
				doneCh <- completion{step: item.step, result: result, outputs: outputs}
			}
		}()
	}
	defer close(workCh)

	// Run-local outputs from this run's successful steps, consulted before
	// the store when resolving references.
	outputs := make(map[resource.ID]map[string]any)

	completed := 0
	cancelled := false

	var finalize func(s *Step, result *StepResult)
	enqueue := func(s *Step) {
		sr := res.Steps[s.ID]
		switch {
		case cancelled:
			sr.Status = StepStatusCancelled
			now := time.Now()
			sr.StartedAt, sr.CompletedAt = now, now
			finalize(s, sr)
		case s.Action == ActionNoOp:
			sr.Status = StepStatusNoOp
			now := time.Now()
			sr.StartedAt, sr.CompletedAt = now, now
			finalize(s, sr)
		default:
			attrs, err := e.resolveAttrs(s.Desired, outputs)
			if err != nil {
				now := time.Now()
				sr.Status = StepStatusFailed
				sr.StartedAt, sr.CompletedAt = now, now
				sr.Error = asEngineError(err).WithResource(string(s.ResourceID))
				finalize(s, sr)
				return
			}
			sr.Status = StepStatusRunning
			workCh <- workItem{step: s, attrs: attrs}
		}
	}

	finalize = func(s *Step, result *StepResult) {
		res.Steps[s.ID] = result
		completed++

		success := result.Status == StepStatusSucceeded || result.Status == StepStatusNoOp
		for _, depID := range dependents[s.ID] {
			dr := res.Steps[depID]
			if dr.Status != StepStatusPending {
				continue
			}
			if !success {
				now := time.Now()
				if result.Status == StepStatusCancelled {
					// A dependent of a cancelled step is itself cancelled,
					// not blocked; it was never going to run.
					dr.Status = StepStatusCancelled
					dr.StartedAt, dr.CompletedAt = now, now
					finalize(steps[depID], dr)
					continue
				}
				dr.Status = StepStatusBlocked
				dr.StartedAt, dr.CompletedAt = now, now
				dr.Error = NewPermanentError(
					fmt.Sprintf("dependency %s did not succeed", s.ID), nil,
				).WithCode(ErrCodeDependencyFailed).WithResource(string(dr.ResourceID))
				logger.WithResourceID(string(dr.ResourceID)).Warnf("step %s blocked by %s", depID, s.ID)
				finalize(steps[depID], dr)
				continue
			}
			remaining[depID]--
			if remaining[depID] == 0 {
				enqueue(steps[depID])
			}
		}
	}

	// Seed the ready set in sorted order so runs are reproducible.
	ready := make([]string, 0)
	for id, n := range remaining {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	for _, id := range ready {
		enqueue(steps[id])
	}

	inFlight := func() int {
		n := 0
		for _, sr := range res.Steps {
			if sr.Status == StepStatusRunning {
				n++
			}
		}
		return n
	}

	for completed < len(plan.Steps) {
		if cancelled && inFlight() == 0 {
			// Everything left is pending with unmet dependencies. Sweep in
			// sorted order so the outcome split is reproducible.
			pending := make([]string, 0)
			for id, sr := range res.Steps {
				if sr.Status == StepStatusPending {
					pending = append(pending, id)
				}
			}
			sort.Strings(pending)
			for _, id := range pending {
				sr := res.Steps[id]
				if sr.Status != StepStatusPending {
					continue
				}
				now := time.Now()
				sr.Status = StepStatusCancelled
				sr.StartedAt, sr.CompletedAt = now, now
				finalize(steps[id], sr)
			}
			continue
		}

		select {
		case c := <-doneCh:
			if c.outputs != nil {
				outputs[c.step.ResourceID] = c.outputs
			}
			finalize(c.step, c.result)
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				logger.Warn("run cancelled, waiting for in-flight steps")
			}
		}
	}

	res.CompletedAt = time.Now()
	res.Status = e.runStatus(res, cancelled)

	logger.Infof("run finished with status %s", res.Status)
	if e.metrics != nil {
		e.metrics.RecordRunCompleted(string(res.Status), res.CompletedAt.Sub(res.StartedAt))
	}
	if e.events != nil {
		e.events.PublishRunCompleted(res.RunID, string(res.Status), res.CompletedAt.Sub(res.StartedAt))
	}

	return res, nil
}

// runStatus derives the overall status from the step outcomes.
func (e *Executor) runStatus(res *ApplyResult, cancelled bool) RunStatus {
	s := res.Summary()
	switch {
	case cancelled || s.Cancelled > 0:
		return RunStatusCancelled
	case s.Failed == 0 && s.Blocked == 0:
		return RunStatusSucceeded
	case s.Succeeded > 0 || s.NoOp > 0:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}

// runStep executes one step with retry and backoff. Provider calls run on a
// detached context so an in-flight mutation is never torn by cancellation;
// cancellation is honored between attempts.
func (e *Executor) runStep(ctx context.Context, runID string, s *Step, attrs map[string]any) (*StepResult, map[string]any) {
	logger := e.logger.WithRunID(runID).WithResourceID(string(s.ResourceID)).WithStepID(s.ID)
	logger.Infof("applying %s", s.Action)
	if e.events != nil {
		e.events.PublishStepStarted(runID, s.ID, string(s.ResourceID), string(s.Action))
	}

	stepCtx := ctx
	if e.tracer != nil {
		var end func()
		stepCtx, end = e.tracer.StepSpan(ctx, s.ID, string(s.ResourceID), string(s.Action))
		defer end()
	}

	result := &StepResult{
		StepID:     s.ID,
		ResourceID: s.ResourceID,
		Action:     s.Action,
		StartedAt:  time.Now(),
	}

	var outputs map[string]any
	var engErr *EngineError
	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		callCtx := context.WithoutCancel(stepCtx)
		outputs, engErr = e.execute(callCtx, runID, s, attrs)
		if engErr == nil {
			break
		}

		logger.WithError(engErr).Warnf("attempt %d failed", attempt+1)
		if e.metrics != nil {
			e.metrics.RecordError(string(engErr.Class), engErr.Code)
		}
		if !IsRetryable(engErr) || attempt >= e.maxRetries {
			break
		}

		select {
		case <-time.After(calculateBackoff(attempt, engErr)):
		case <-ctx.Done():
			result.Status = StepStatusCancelled
			result.CompletedAt = time.Now()
			result.Error = NewPermanentError("step cancelled between retries", ctx.Err()).
				WithCode(ErrCodeTimeout).WithResource(string(s.ResourceID))
			return result, nil
		}
	}

	result.CompletedAt = time.Now()
	if engErr != nil {
		result.Status = StepStatusFailed
		result.Error = engErr
		logger.WithError(engErr).Errorf("%s failed after %d attempts", s.Action, result.Attempts)
		if e.events != nil {
			e.events.PublishStepFailed(runID, s.ID, string(s.ResourceID), engErr.Error())
		}
		if e.metrics != nil {
			e.metrics.RecordStepExecution(string(s.Action), string(StepStatusFailed), result.Duration(), string(s.ResourceID.Type()))
		}
		return result, nil
	}

	result.Status = StepStatusSucceeded
	logger.Infof("%s succeeded", s.Action)
	if e.events != nil {
		e.events.PublishStepCompleted(runID, s.ID, string(s.ResourceID), result.Duration())
	}
	if e.metrics != nil {
		e.metrics.RecordStepExecution(string(s.Action), string(StepStatusSucceeded), result.Duration(), string(s.ResourceID.Type()))
	}
	return result, outputs
}

// execute performs the provider call for a step and commits the resulting
// state. Returns provider outputs for create and update steps.
func (e *Executor) execute(ctx context.Context, runID string, s *Step, attrs map[string]any) (map[string]any, *EngineError) {
	typ := s.ResourceID.Type()
	prov, err := e.providers.Lookup(typ)
	if err != nil {
		return nil, NewPermanentError("no provider for resource type", err).
			WithCode(ErrCodeValidation).WithResource(string(s.ResourceID)).WithOperation(string(s.Action))
	}

	switch s.Action {
	case ActionCreate:
		created, err := e.callCreate(ctx, prov, typ, attrs)
		if err != nil {
			return nil, classifyProviderError(err, s)
		}
		rec := &AppliedResource{
			ID:           s.ResourceID,
			Type:         typ,
			ProviderID:   created.ProviderID,
			Inputs:       s.Desired,
			Hash:         s.Hash,
			Outputs:      created.Attributes,
			Dependencies: refTargets(s.Desired),
			LastRunID:    runID,
			LastApplied:  time.Now(),
		}
		if err := e.store.Upsert(rec); err != nil {
			return nil, NewPermanentError("failed to persist applied state", err).
				WithCode(ErrCodeInternal).WithResource(string(s.ResourceID)).WithOperation("upsert")
		}
		return created.Attributes, nil

	case ActionUpdate:
		rec, ok, err := e.store.Get(s.ResourceID)
		if err != nil {
			return nil, NewPermanentError("failed to read applied state", err).
				WithCode(ErrCodeInternal).WithResource(string(s.ResourceID))
		}
		if !ok {
			return nil, NewConflictError("resource planned for update is not in applied state", nil).
				WithCode(ErrCodeStateConflict).WithResource(string(s.ResourceID)).WithOperation(string(ActionUpdate))
		}
		updated, err := e.callUpdate(ctx, prov, typ, rec.ProviderID, attrs)
		if err != nil {
			if provider.IsNotFound(err) {
				return nil, NewConflictError("tracked resource no longer exists in the backend", err).
					WithCode(ErrCodeStateConflict).WithResource(string(s.ResourceID)).WithOperation(string(ActionUpdate))
			}
			return nil, classifyProviderError(err, s)
		}
		rec.Inputs = s.Desired
		rec.Hash = s.Hash
		rec.Outputs = updated
		rec.Dependencies = refTargets(s.Desired)
		rec.LastRunID = runID
		rec.LastApplied = time.Now()
		if err := e.store.Upsert(rec); err != nil {
			return nil, NewPermanentError("failed to persist applied state", err).
				WithCode(ErrCodeInternal).WithResource(string(s.ResourceID)).WithOperation("upsert")
		}
		return updated, nil

	case ActionDelete:
		rec, ok, err := e.store.Get(s.ResourceID)
		if err != nil {
			return nil, NewPermanentError("failed to read applied state", err).
				WithCode(ErrCodeInternal).WithResource(string(s.ResourceID))
		}
		if ok {
			err := e.callDelete(ctx, prov, typ, rec.ProviderID)
			if err != nil && !provider.IsNotFound(err) {
				return nil, classifyProviderError(err, s)
			}
		}
		if err := e.store.Delete(s.ResourceID); err != nil {
			return nil, NewPermanentError("failed to remove applied state", err).
				WithCode(ErrCodeInternal).WithResource(string(s.ResourceID)).WithOperation("delete")
		}
		return nil, nil

	default:
		return nil, NewPermanentError(fmt.Sprintf("unexpected action %s", s.Action), nil).
			WithCode(ErrCodeInternal).WithResource(string(s.ResourceID))
	}
}

func (e *Executor) callCreate(ctx context.Context, prov provider.Provider, typ resource.Type, attrs map[string]any) (*provider.CreateResult, error) {
	return instrumentCall(e, ctx, typ, "create", func(ctx context.Context) (*provider.CreateResult, error) {
		return prov.Create(ctx, typ, attrs)
	})
}

func (e *Executor) callUpdate(ctx context.Context, prov provider.Provider, typ resource.Type, providerID string, attrs map[string]any) (map[string]any, error) {
	return instrumentCall(e, ctx, typ, "update", func(ctx context.Context) (map[string]any, error) {
		return prov.Update(ctx, typ, providerID, attrs)
	})
}

func (e *Executor) callDelete(ctx context.Context, prov provider.Provider, typ resource.Type, providerID string) error {
	_, err := instrumentCall(e, ctx, typ, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, prov.Delete(ctx, typ, providerID)
	})
	return err
}

// instrumentCall wraps a provider call with timing metrics and a span.
func instrumentCall[T any](e *Executor, ctx context.Context, typ resource.Type, op string, fn func(context.Context) (T, error)) (T, error) {
	if e.tracer != nil {
		var end func()
		ctx, end = e.tracer.ProviderSpan(ctx, string(typ), op)
		defer end()
	}
	start := time.Now()
	out, err := fn(ctx)
	if e.metrics != nil {
		e.metrics.RecordProviderCall(string(typ), op, time.Since(start))
		if err != nil {
			e.metrics.RecordProviderError(string(typ), op)
		}
	}
	return out, err
}

// resolveAttrs replaces every ref:// string in the desired attribute tree
// with the referenced output value, preferring outputs produced earlier in
// this run over the store.
func (e *Executor) resolveAttrs(v map[string]any, runOutputs map[resource.ID]map[string]any) (map[string]any, error) {
	resolved, err := e.resolveValue(v, runOutputs)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func (e *Executor) resolveValue(v any, runOutputs map[resource.ID]map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		ref, ok := resource.ParseRef(val)
		if !ok {
			return val, nil
		}
		return e.lookupRef(ref, runOutputs)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := e.resolveValue(item, runOutputs)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := e.resolveValue(item, runOutputs)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return val, nil
	}
}

func (e *Executor) lookupRef(ref resource.Reference, runOutputs map[resource.ID]map[string]any) (any, error) {
	if out, ok := runOutputs[ref.Target]; ok {
		if v, ok := out[ref.Field]; ok {
			return v, nil
		}
	}
	rec, ok, err := e.store.Get(ref.Target)
	if err != nil {
		return nil, NewPermanentError("failed to read applied state", err).
			WithCode(ErrCodeInternal).WithResource(string(ref.Target))
	}
	if ok {
		if v, exists := rec.Outputs[ref.Field]; exists {
			return v, nil
		}
	}
	return nil, NewPermanentError(
		fmt.Sprintf("reference %s cannot be resolved", ref.String()), nil,
	).WithCode(ErrCodeUnknownReference).WithResource(string(ref.Target))
}

// refTargets collects the referenced resource IDs from a canonical
// attribute tree, sorted and deduplicated.
func refTargets(v any) []resource.ID {
	seen := make(map[resource.ID]struct{})
	var walk func(any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			if ref, ok := resource.ParseRef(val); ok {
				seen[ref.Target] = struct{}{}
			}
		case map[string]any:
			for _, item := range val {
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(v)
	out := make([]resource.ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// classifyProviderError maps a provider failure into the engine taxonomy.
// Providers may return classified errors directly; anything else is
// permanent.
func classifyProviderError(err error, s *Step) *EngineError {
	if engErr := asEngineError(err); engErr != nil {
		if engErr.Resource == "" {
			engErr.Resource = string(s.ResourceID)
		}
		if engErr.Operation == "" {
			engErr.Operation = string(s.Action)
		}
		return engErr
	}
	return NewPermanentError("provider call failed", err).
		WithCode(ErrCodeProviderFailed).
		WithResource(string(s.ResourceID)).
		WithOperation(string(s.Action))
}

// asEngineError extracts an EngineError from an error chain.
func asEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	return nil
}

// calculateBackoff computes exponential backoff for retryable failures.
// Throttled errors start from a larger base so rate limits get room to
// clear.
func calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := 1 * time.Second
	if IsThrottled(err) {
		baseDelay = 5 * time.Second
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > time.Minute {
		delay = time.Minute
	}

	// Add jitter (+12.5%)
	jitter := time.Duration(float64(delay) * 0.25)
	return delay + jitter/2
}
