package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"permgate/internal/domain"
	"permgate/internal/usecase/permission"
)

// RPC method names.
const (
	MethodGetPermissionMap = "getPermissionMap"
	MethodCatalogue        = "permissions.catalogue"
	MethodRecheck          = "permissions.recheck"
	MethodLoadFeature      = "features.load"
)

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Coordinator *permission.Coordinator
	Logger      *slog.Logger
	Version     string
}

// CatalogueEntry is one row of the permissions.catalogue result.
type CatalogueEntry struct {
	Name        domain.PermissionName `json:"name"`
	ErrorMsg    string                `json:"errorMsg"`
	Description string                `json:"description"`
}

// RecheckRequest is the payload of permissions.recheck.
type RecheckRequest struct {
	Permission domain.PermissionName `json:"permission"`
}

// LoadFeatureRequest is the payload of features.load.
type LoadFeatureRequest struct {
	Name        string                  `json:"name"`
	Permissions []domain.PermissionName `json:"permissions"`
}

// SetPermissionEvent is pushed to the owning client when a remote
// feature's view of a permission changes.
type SetPermissionEvent struct {
	Feature    string                `json:"feature"`
	Permission domain.PermissionName `json:"permission"`
	Value      bool                  `json:"value"`
}

// RegisterHandlers registers the permission RPCs on the server.
func RegisterHandlers(s *Server, deps HandlerDeps) {
	remotes := newRemoteRegistry(deps.Coordinator)
	s.RegisterHandler(MethodGetPermissionMap, permissionMapHandler(deps))
	s.RegisterHandler(MethodCatalogue, catalogueHandler(deps))
	s.RegisterHandler(MethodRecheck, requireRole(RoleAdmin, recheckHandler(deps)))
	s.RegisterHandler(MethodLoadFeature, requireRole(RoleAdmin, loadFeatureHandler(deps, remotes)))
}

// requireRole rejects callers that lack role.
func requireRole(role string, handler RPCHandler) RPCHandler {
	return func(ctx context.Context, conn *Conn, payload json.RawMessage) (json.RawMessage, error) {
		if !conn.Info().HasRole(role) {
			return nil, domain.NewDomainError("Gateway.Authorize", domain.ErrAuthInvalid, "role "+role+" required")
		}
		return handler(ctx, conn, payload)
	}
}

func permissionMapHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Conn, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Coordinator.Snapshot())
	}
}

func catalogueHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Conn, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(catalogueEntries(deps.Coordinator.Catalogue()))
	}
}

func catalogueEntries(c *permission.Catalogue) []CatalogueEntry {
	entries := c.Entries()
	out := make([]CatalogueEntry, len(entries))
	for i, e := range entries {
		out[i] = CatalogueEntry{
			Name:        e.Name,
			ErrorMsg:    e.Descriptor.ErrorMsg,
			Description: e.Descriptor.Description,
		}
	}
	return out
}

func recheckHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Conn, payload json.RawMessage) (json.RawMessage, error) {
		var req RecheckRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
		}
		if req.Permission == "" {
			return nil, fmt.Errorf("%w: permission is required", domain.ErrRPCInvalidPayload)
		}
		v, err := deps.Coordinator.Recheck(ctx, req.Permission)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
}

func loadFeatureHandler(deps HandlerDeps, remotes *remoteRegistry) RPCHandler {
	return func(ctx context.Context, conn *Conn, payload json.RawMessage) (json.RawMessage, error) {
		var req LoadFeatureRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
		}
		if req.Name == "" {
			return nil, fmt.Errorf("%w: name is required", domain.ErrRPCInvalidPayload)
		}
		f := newRemoteFeature(conn, req.Name, req.Permissions)
		remotes.add(conn, f)
		res, err := deps.Coordinator.Load(ctx, f)
		if err != nil {
			return nil, err
		}
		deps.Logger.Info("remote feature loaded",
			"feature", req.Name,
			"client", conn.Info().Name,
			"pass", res.Pass,
		)
		return json.Marshal(res)
	}
}

// remoteRegistry tracks the remote features of each connection. A repeated
// features.load on one connection releases the feature it replaces, and a
// closed connection releases all of its features.
type remoteRegistry struct {
	coord *permission.Coordinator

	mu     sync.Mutex
	byConn map[uint64]map[string]*remoteFeature
}

func newRemoteRegistry(coord *permission.Coordinator) *remoteRegistry {
	return &remoteRegistry{coord: coord, byConn: make(map[uint64]map[string]*remoteFeature)}
}

func (r *remoteRegistry) add(conn *Conn, f *remoteFeature) {
	r.mu.Lock()
	owned, watched := r.byConn[conn.ID()]
	if !watched {
		owned = make(map[string]*remoteFeature)
		r.byConn[conn.ID()] = owned
	}
	prev := owned[f.name]
	owned[f.name] = f
	r.mu.Unlock()

	if prev != nil {
		r.coord.Release(prev)
	}
	if !watched {
		go func() {
			<-conn.Done()
			r.drop(conn.ID())
		}()
	}
}

func (r *remoteRegistry) drop(connID uint64) {
	r.mu.Lock()
	owned := r.byConn[connID]
	delete(r.byConn, connID)
	r.mu.Unlock()

	for _, f := range owned {
		r.coord.Release(f)
	}
}

func (r *remoteRegistry) count(connID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn[connID])
}

// remoteFeature is a feature owned by a gateway client. Permission changes
// are pushed to the client as setPermission events; once the connection is
// gone they are dropped.
type remoteFeature struct {
	conn        *Conn
	name        string
	permissions []domain.PermissionName

	mu    sync.Mutex
	known map[domain.PermissionName]bool
}

func newRemoteFeature(conn *Conn, name string, perms []domain.PermissionName) *remoteFeature {
	return &remoteFeature{
		conn:        conn,
		name:        name,
		permissions: slices.Clone(perms),
		known:       make(map[domain.PermissionName]bool),
	}
}

func (f *remoteFeature) Name() string { return f.name }

func (f *remoteFeature) Permissions() []domain.PermissionName { return f.permissions }

func (f *remoteFeature) KnownPermission(name domain.PermissionName) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.known[name]
	return v, ok
}

func (f *remoteFeature) SetPermission(name domain.PermissionName, value bool) {
	f.mu.Lock()
	f.known[name] = value
	f.mu.Unlock()
	f.conn.Notify(EventSetPermission, SetPermissionEvent{
		Feature:    f.name,
		Permission: name,
		Value:      value,
	})
}
