// Package engine implements the reconciliation core of Terrane.
//
// # Overview
//
// The engine turns declared resource descriptors into converged
// infrastructure through four phases:
//
//  1. Expand - substitute variables, evaluate computed expressions, and
//     turn counted declarations into independent descriptors (Expander)
//  2. Graph - resolve attribute references into a validated DAG with a
//     deterministic topological order (GraphBuilder)
//  3. Plan - diff the graph against applied state into create, update,
//     replace, delete, and noop steps (Planner)
//  4. Apply - execute the plan against providers with bounded
//     parallelism, retry, and partial-failure containment (Executor)
//
// A separate DriftDetector compares applied state with live provider state
// without mutating either side.
//
// # Core Domain Types
//
//   - Node / Graph: the dependency DAG over expanded descriptors
//   - Step / Plan: one provider operation and the ordered set of them
//   - AppliedResource: the persisted record of an applied resource
//   - StepResult / ApplyResult: per-step and per-run outcome reports
//   - EngineError: classified errors driving retry and containment
//
// # Error Classification
//
// Errors carry a class that decides their handling: transient and
// throttled errors are retried with exponential backoff, permanent errors
// fail the step immediately, and conflict errors mark a disagreement
// between applied state and the live backend that is never resolved
// automatically. A failed step blocks its transitive dependents; unrelated
// branches keep executing.
package engine
