package pantheonix

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrReligionNotFound         = runtime.NewError("religion not found", NOT_FOUND_ERROR_CODE)
	ErrReligionNameTaken        = runtime.NewError("religion name already taken", ALREADY_EXISTS_ERROR_CODE)
	ErrReligionInvalidDomain    = runtime.NewError("invalid deity domain", INVALID_ARGUMENT_ERROR_CODE)
	ErrReligionPrivate          = runtime.NewError("religion is private, invite required", PERMISSION_DENIED_ERROR_CODE)
	ErrReligionRosterFull       = runtime.NewError("religion roster is full", FAILED_PRECONDITION_ERROR_CODE)
	ErrReligionNotInvited       = runtime.NewError("player has no pending invite", NOT_FOUND_ERROR_CODE)
	ErrReligionInviteExpired    = runtime.NewError("invite has expired", FAILED_PRECONDITION_ERROR_CODE)
	ErrReligionNotRosterMember  = runtime.NewError("player is not a member of this religion", FAILED_PRECONDITION_ERROR_CODE)
	ErrReligionPermissionDenied = runtime.NewError("insufficient permission", PERMISSION_DENIED_ERROR_CODE)
	ErrReligionNotFounder       = runtime.NewError("operation requires the founder", PERMISSION_DENIED_ERROR_CODE)
	ErrReligionCannotKickSelf   = runtime.NewError("cannot kick yourself, leave instead", INVALID_ARGUMENT_ERROR_CODE)
	ErrReligionKickFounder      = runtime.NewError("the founder cannot be kicked", PERMISSION_DENIED_ERROR_CODE)
	ErrReligionFounderLeave     = runtime.NewError("the founder cannot leave, transfer or disband instead", FAILED_PRECONDITION_ERROR_CODE)
	ErrReligionRoleNotFound     = runtime.NewError("role not found", NOT_FOUND_ERROR_CODE)
	ErrReligionRoleReserved     = runtime.NewError("built-in roles cannot be modified or deleted", FAILED_PRECONDITION_ERROR_CODE)
)

// RolePermission is a bitset of actions a religion role grants.
type RolePermission uint32

const (
	PermissionInviteMembers RolePermission = 1 << iota
	PermissionKickMembers
	PermissionEditDescription
	PermissionManageRoles
	PermissionManageCivilization
	PermissionUnlockBlessings

	PermissionNone RolePermission = 0
	PermissionAll  RolePermission = PermissionInviteMembers | PermissionKickMembers |
		PermissionEditDescription | PermissionManageRoles | PermissionManageCivilization |
		PermissionUnlockBlessings
)

// Has reports whether the bitset grants the given permission.
func (p RolePermission) Has(perm RolePermission) bool {
	return p&perm == perm
}

// Built-in role ids. The founder role always carries full permissions and the default
// role is assigned to new members and to members whose role is deleted.
const (
	RoleIDFounder = "founder"
	RoleIDMember  = "member"
)

// RoleDefinition is a named permission set within a religion.
type RoleDefinition struct {
	Name        string         `json:"name"`
	Permissions RolePermission `json:"permissions"`
}

// Religion is the aggregate for a player-founded group devoted to one deity domain.
// It is exclusively owned and mutated by the ReligionsSystem.
type Religion struct {
	ID            string                     `json:"id"`
	Name          string                     `json:"name"`
	Domain        DeityDomain                `json:"domain"`
	Public        bool                       `json:"public"`
	Description   string                     `json:"description,omitempty"`
	FounderID     string                     `json:"founder_id"`
	Prestige      int64                      `json:"prestige"`
	Roster        map[string]string          `json:"roster"` // player id -> role id
	Roles         map[string]*RoleDefinition `json:"roles"`
	Invites       map[string]int64           `json:"invites,omitempty"` // player id -> expiry unix sec
	CreateTimeSec int64                      `json:"create_time_sec"`
}

// ReligionMember is a roster entry enriched through the player directory.
type ReligionMember struct {
	PlayerID    string `json:"player_id"`
	RoleID      string `json:"role_id"`
	DisplayName string `json:"display_name,omitempty"`
	Online      bool   `json:"online"`
}

// ReligionsConfig is the data definition for the ReligionsSystem type.
type ReligionsConfig struct {
	// MaxMembers caps the roster size. Defaults to 50 when omitted.
	MaxMembers int `json:"max_members,omitempty" yaml:"max_members,omitempty"`
	// InviteDurationSec is how long an invite stays valid. Defaults to 7 days.
	InviteDurationSec int64 `json:"invite_duration_sec,omitempty" yaml:"invite_duration_sec,omitempty"`
	// InviteSweepSchedule is an optional CRON expression controlling how often expired
	// invites are pruned in bulk. Expiry is always also checked lazily on access, so the
	// sweep only bounds memory growth.
	InviteSweepSchedule string `json:"invite_sweep_schedule,omitempty" yaml:"invite_sweep_schedule,omitempty"`
}

// A ReligionsSystem owns the Religion aggregates: roster, roles, invites, prestige,
// visibility and description. All mutating operations resolve permissions against the
// acting player's role in the target religion, and either fully apply or fully fail.
type ReligionsSystem interface {
	System

	// Create founds a new religion devoted to the given domain with the founder as its
	// sole member holding the founder role.
	Create(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, founderID, name string, domain DeityDomain, public bool, description string) (*Religion, error)

	// Get returns a religion by id.
	Get(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) (*Religion, error)

	// List returns all public religions.
	List(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) ([]*Religion, error)

	// Roster returns the religion's members enriched with display names and online
	// status from the player directory. Directory failures degrade to bare ids.
	Roster(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) ([]*ReligionMember, error)

	// InviteMember records a pending invite with an expiry and notifies the target.
	InviteMember(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, targetID string) error

	// AcceptInvite resolves a pending invite and joins the player through the devotion
	// system. An invite past its expiry fails and is pruned.
	AcceptInvite(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, religionID string) (*Religion, error)

	// DeclineInvite removes a pending invite without joining.
	DeclineInvite(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, religionID string) error

	// Kick removes a member. The actor needs kick permission and the founder can never
	// be kicked.
	Kick(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, targetID string) error

	// TransferFounder atomically swaps the founder role to another roster member and
	// demotes the previous founder to the default role.
	TransferFounder(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, newFounderID string) error

	// Disband removes all members, detaches the religion from any civilization, resets
	// its blessing unlocks and deletes the aggregate. Founder only.
	Disband(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID string) error

	// EditDescription updates the religion description. Requires edit permission.
	EditDescription(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, description string) error

	// SetVisibility toggles the religion between public and private. Requires edit
	// permission.
	SetVisibility(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID string, public bool) error

	// CreateRole adds a named permission set. Requires manage-roles permission.
	CreateRole(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, roleID, name string, permissions RolePermission) error

	// DeleteRole removes a role; members holding it are reassigned to the default role.
	DeleteRole(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, roleID string) error

	// ModifyRolePermissions replaces a role's permission set.
	ModifyRolePermissions(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, roleID string, permissions RolePermission) error

	// AssignRole changes a member's role. The founder role cannot be assigned this way;
	// use TransferFounder.
	AssignRole(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, targetID, roleID string) error

	// AddPrestige increments the religion's prestige. Prestige is monotonic and only an
	// explicit administrative reset (not exposed here) may lower it.
	AddPrestige(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string, amount int64) (int64, error)

	// PrestigeRank derives the religion's prestige rank via the blessings catalog
	// threshold table.
	PrestigeRank(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) (int32, error)

	// AdmitMember validates admission (visibility, invite expiry, roster capacity) and
	// adds the player to the roster with the default role. Called by the devotion
	// system's join path; membership record bookkeeping stays with the caller.
	AdmitMember(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID, playerID string) (*Religion, error)

	// WithdrawMember removes a voluntarily leaving player from the roster. Fails for
	// the founder, who must transfer or disband.
	WithdrawMember(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID, playerID string) error

	// HasPermission reports whether the player's role in the religion grants the given
	// permission. Used by the civilizations and blessings systems for their own gates.
	HasPermission(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID, playerID string, perm RolePermission) (bool, error)
}
