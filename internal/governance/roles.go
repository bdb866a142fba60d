// Package governance implements role-weighted voting and quorum
// enforcement for control-plane proposals. Voting authority is an
// in-process weighting mechanism, not a replicated consensus protocol.
package governance

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quantmesh/sentinel/internal/errdefs"
	"github.com/quantmesh/sentinel/internal/store"
)

// Role names an agent's governance role.
type Role string

// Known roles, in descending order of authority.
const (
	RoleLeader  Role = "leader"
	RoleWatcher Role = "watcher"
	RoleAuditor Role = "auditor"
	RoleMember  Role = "member"
)

// roleWeights is the static authority multiplier table. Agents without
// an assignment default to member.
var roleWeights = map[Role]float64{
	RoleLeader:  1.0,
	RoleWatcher: 0.75,
	RoleAuditor: 0.5,
	RoleMember:  0.25,
}

const rolesKey = "governance:roles"

// RoleRegistry maps agent ids to their assigned roles.
type RoleRegistry struct {
	mu    sync.RWMutex
	roles map[string]Role

	store store.Store
	log   *zap.Logger
}

// NewRoleRegistry creates an empty registry.
func NewRoleRegistry(st store.Store, log *zap.Logger) *RoleRegistry {
	return &RoleRegistry{
		roles: make(map[string]Role),
		store: st,
		log:   log.Named("governance.roles"),
	}
}

// AssignRole sets an agent's role. Unknown role names are rejected.
func (r *RoleRegistry) AssignRole(ctx context.Context, agentID string, role Role) error {
	if agentID == "" {
		return fmt.Errorf("agent id is empty: %w", errdefs.ErrInvalidConfig)
	}
	if _, ok := roleWeights[role]; !ok {
		return fmt.Errorf("unknown role %q: %w", role, errdefs.ErrInvalidConfig)
	}

	r.mu.Lock()
	r.roles[agentID] = role
	r.mu.Unlock()

	if err := r.store.HSet(ctx, rolesKey, agentID, string(role)); err != nil {
		return fmt.Errorf("persist role assignment: %w", err)
	}
	return nil
}

// RoleOf returns the agent's assigned role, defaulting to member.
func (r *RoleRegistry) RoleOf(agentID string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role, ok := r.roles[agentID]; ok {
		return role
	}
	return RoleMember
}

// WeightOf returns the authority multiplier for a role. Unknown roles
// carry the member weight.
func (r *RoleRegistry) WeightOf(role Role) float64 {
	if w, ok := roleWeights[role]; ok {
		return w
	}
	return roleWeights[RoleMember]
}

// Load restores persisted role assignments after a restart. Entries
// with unknown role names are skipped with a warning.
func (r *RoleRegistry) Load(ctx context.Context) error {
	fields, err := r.store.HGetAll(ctx, rolesKey)
	if err != nil {
		return fmt.Errorf("load role assignments: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for agentID, raw := range fields {
		role := Role(raw)
		if _, ok := roleWeights[role]; !ok {
			r.log.Warn("skipping unknown persisted role",
				zap.String("agent", agentID), zap.String("role", raw))
			continue
		}
		r.roles[agentID] = role
	}
	return nil
}
