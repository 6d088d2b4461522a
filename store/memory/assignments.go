package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/store"
)

// Assignments implements rbac.AssignmentStore.
type Assignments struct {
	mu     sync.RWMutex
	roles  map[string]map[string]rbac.RoleAssignment
	grants map[string]map[string]rbac.PermissionGrant
}

var _ rbac.AssignmentStore = (*Assignments)(nil)

func NewAssignments() *Assignments {
	return &Assignments{
		roles:  make(map[string]map[string]rbac.RoleAssignment),
		grants: make(map[string]map[string]rbac.PermissionGrant),
	}
}

func (s *Assignments) RoleAssignments(_ context.Context, userID string) ([]rbac.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.RoleAssignment, 0, len(s.roles[userID]))
	for _, a := range s.roles[userID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (s *Assignments) PermissionGrants(_ context.Context, userID string) ([]rbac.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.PermissionGrant, 0, len(s.grants[userID]))
	for _, g := range s.grants[userID] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionID < out[j].PermissionID })
	return out, nil
}

func (s *Assignments) AssignRole(_ context.Context, a rbac.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[a.UserID] == nil {
		s.roles[a.UserID] = make(map[string]rbac.RoleAssignment)
	}
	s.roles[a.UserID][a.RoleID] = a
	return nil
}

func (s *Assignments) RemoveRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[userID][roleID]; !ok {
		return store.ErrNotFound
	}
	delete(s.roles[userID], roleID)
	return nil
}

func (s *Assignments) GrantPermission(_ context.Context, g rbac.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[g.UserID] == nil {
		s.grants[g.UserID] = make(map[string]rbac.PermissionGrant)
	}
	s.grants[g.UserID][g.PermissionID] = g
	return nil
}

func (s *Assignments) RevokePermission(_ context.Context, userID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[userID][permissionID]; !ok {
		return store.ErrNotFound
	}
	delete(s.grants[userID], permissionID)
	return nil
}
