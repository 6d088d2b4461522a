package audit

import "time"

// Actions recorded by goIdentity.
const (
	ActionUserRegistered         = "user_registered"
	ActionLoginSuccess           = "login_success"
	ActionLoginFailed            = "login_failed"
	ActionLoginRateLimited       = "login_rate_limited"
	ActionTokenRefreshed         = "token_refreshed"
	ActionRefreshReplayDetected  = "refresh_replay_detected"
	ActionLogout                 = "logout"
	ActionLogoutAll              = "logout_all_sessions"
	ActionPasswordChanged        = "password_changed"
	ActionPasswordResetRequested = "password_reset_requested"
	ActionPasswordResetCompleted = "password_reset_completed"
	ActionEmailVerifyRequested   = "email_verification_requested"
	ActionEmailVerified          = "email_verified"
	ActionSessionsSwept          = "sessions_swept"

	ActionRoleAssigned      = "role_assigned"
	ActionRoleRemoved       = "role_removed"
	ActionPermissionGranted = "permission_granted"
	ActionPermissionRevoked = "permission_revoked"
	ActionRoleCreated       = "role_created"
	ActionRoleUpdated       = "role_updated"
	ActionRoleDeleted       = "role_deleted"
	ActionPermissionCreated = "permission_created"
	ActionPermissionUpdated = "permission_updated"
	ActionPermissionDeleted = "permission_deleted"
	ActionRolePermissionSet = "role_permission_added"
	ActionRolePermissionDel = "role_permission_removed"
)

// Resource types referenced by Entry.ResourceType.
const (
	ResourceUser       = "user"
	ResourceSession    = "session"
	ResourceRole       = "role"
	ResourcePermission = "permission"
)

// Entry is one write-once audit record.
type Entry struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	ActorID      string            `json:"actor_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	TenantID     string            `json:"tenant_id,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	OldValue     string            `json:"old_value,omitempty"`
	NewValue     string            `json:"new_value,omitempty"`
	IP           string            `json:"ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
