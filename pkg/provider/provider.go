// Package provider defines the contract between the reconciliation engine
// and the backends that actually create, read, update, and delete
// infrastructure resources.
package provider

import (
	"context"
	"errors"

	"github.com/terrane-io/terrane/pkg/resource"
)

// ErrNotFound is returned by Read, Update, and Delete when the provider has
// no resource with the given provider ID. Delete treats it as success.
var ErrNotFound = errors.New("provider: resource not found")

// CreateResult is the outcome of a successful Create call.
type CreateResult struct {
	// ProviderID is the backend-assigned identifier for the new resource.
	ProviderID string

	// Attributes holds the full post-create attribute set, including
	// computed fields such as dns_name or private_ip.
	Attributes map[string]any
}

// Provider performs CRUD operations for one or more resource types.
//
// All attribute maps are fully resolved: references have been replaced by
// concrete values before the provider sees them. Implementations must be
// safe for concurrent use; the executor calls them from multiple workers.
type Provider interface {
	// Create provisions a new resource and returns its provider ID along
	// with the post-create attribute set.
	Create(ctx context.Context, typ resource.Type, attrs map[string]any) (*CreateResult, error)

	// Read returns the current attribute set of an existing resource, or
	// ErrNotFound if the backend no longer has it.
	Read(ctx context.Context, typ resource.Type, providerID string) (map[string]any, error)

	// Update applies in-place attribute changes and returns the resulting
	// attribute set. Immutable fields never reach Update; the planner
	// turns those changes into a replacement.
	Update(ctx context.Context, typ resource.Type, providerID string, attrs map[string]any) (map[string]any, error)

	// Delete removes the resource. Deleting a resource that is already
	// gone returns ErrNotFound, which callers treat as success.
	Delete(ctx context.Context, typ resource.Type, providerID string) error
}

// IsNotFound reports whether err indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
