// Package graph resolves a presented virtual key plus a requested model
// name into the ordered list of upstream connections to try. Resolutions
// are cached briefly and rebuilt through a single flight, so a hot model
// costs one store walk per TTL instead of one per request.
package graph

import (
	"context"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur/internal/store"
)

// Store is the slice of the data facade the resolver walks.
type Store interface {
	VirtualKeyID(key string) uuid.UUID
	GetVirtualKey(ctx context.Context, id uuid.UUID) (*store.VirtualKey, error)
	GetProject(ctx context.Context, id uuid.UUID) (*store.Project, error)
	GetVirtualKeyDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.VirtualKeyDeployment, error)
	GetDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.Deployment, error)
	SearchDeployments(ctx context.Context, name string) ([]*store.Deployment, error)
	GetConnectionDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.ConnectionDeployment, error)
	GetConnections(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.Connection, error)
	OnInvalidate(fn func(entity string, id uuid.UUID))
}

// Candidate is one upstream connection with the load-balancing weight of
// its link into the deployment.
type Candidate struct {
	Connection *store.Connection
	Weight     int16
}

// Graph is one resolved access path: the caller's key, its project, the
// deployment addressed by the model name, and the connections in attempt
// order. Instances are shared across requests; treat every field as
// read-only.
type Graph struct {
	VirtualKey *store.VirtualKey
	Project    *store.Project
	Deployment *store.Deployment
	Candidates []Candidate
}
