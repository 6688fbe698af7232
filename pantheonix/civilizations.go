package pantheonix

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrCivilizationNotFound       = runtime.NewError("civilization not found", NOT_FOUND_ERROR_CODE)
	ErrCivilizationNameTaken      = runtime.NewError("civilization name already taken", ALREADY_EXISTS_ERROR_CODE)
	ErrCivilizationNotInvited     = runtime.NewError("religion has no pending invite", NOT_FOUND_ERROR_CODE)
	ErrCivilizationInviteExpired  = runtime.NewError("invite has expired", FAILED_PRECONDITION_ERROR_CODE)
	ErrCivilizationFull           = runtime.NewError("civilization has no free seats", FAILED_PRECONDITION_ERROR_CODE)
	ErrCivilizationDomainTaken    = runtime.NewError("deity domain already represented in this civilization", FAILED_PRECONDITION_ERROR_CODE)
	ErrCivilizationAlreadyMember  = runtime.NewError("religion already belongs to a civilization", ALREADY_EXISTS_ERROR_CODE)
	ErrCivilizationNotMember      = runtime.NewError("religion is not a member of this civilization", FAILED_PRECONDITION_ERROR_CODE)
	ErrCivilizationKickFounder    = runtime.NewError("the founder religion cannot be kicked", PERMISSION_DENIED_ERROR_CODE)
	ErrCivilizationNotFounder     = runtime.NewError("operation requires the founder religion", PERMISSION_DENIED_ERROR_CODE)
	ErrCivilizationBadCapacity    = runtime.NewError("civilization capacity must equal the number of deity domains", INTERNAL_ERROR_CODE)
	ErrCivilizationActorNotMember = runtime.NewError("acting player does not belong to the religion", PERMISSION_DENIED_ERROR_CODE)
)

// Civilization is the aggregate for a federation of religions. Each member religion
// occupies one seat and each deity domain is represented at most once.
type Civilization struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Icon              string           `json:"icon,omitempty"`
	Description       string           `json:"description,omitempty"`
	FounderReligionID string           `json:"founder_religion_id"`
	Members           []string         `json:"members"`           // religion ids, founder included
	Invites           map[string]int64 `json:"invites,omitempty"` // religion id -> expiry unix sec
	CreateTimeSec     int64            `json:"create_time_sec"`
}

// CivilizationsConfig is the data definition for the CivilizationsSystem type.
type CivilizationsConfig struct {
	// MaxReligions caps the member seats. One seat exists per deity domain, so this
	// value must equal the deity domain cardinality; Init refuses a mismatch rather
	// than guessing which of the two constraints was intended.
	MaxReligions int `json:"max_religions,omitempty" yaml:"max_religions,omitempty"`
	// InviteDurationSec is how long an invite stays valid. Defaults to 7 days.
	InviteDurationSec int64 `json:"invite_duration_sec,omitempty" yaml:"invite_duration_sec,omitempty"`
	// InviteSweepSchedule is an optional CRON expression for bulk pruning of expired
	// invites. Correctness never depends on it; expiry is checked lazily at accept.
	InviteSweepSchedule string `json:"invite_sweep_schedule,omitempty" yaml:"invite_sweep_schedule,omitempty"`
}

// A CivilizationsSystem owns the Civilization aggregates. It mirrors the religions
// system one level up, operating on religions-as-members. Acting players act on behalf
// of their religion and need the manage-civilization permission in it.
type CivilizationsSystem interface {
	System

	// Create founds a civilization with the actor's religion as founder member. The
	// actor needs manage-civilization permission in the founding religion.
	Create(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, name, icon, description string) (*Civilization, error)

	// Get returns a civilization by id.
	Get(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, civilizationID string) (*Civilization, error)

	// List returns all civilizations.
	List(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) ([]*Civilization, error)

	// InviteReligion records a pending invite for a religion. Capacity is not checked
	// here; an invite may be sent while seats are free and still be rejected at accept
	// time if the cap or the domain slot is hit by then.
	InviteReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, religionID string) error

	// AcceptInvite seats the religion. Accept-time validation covers invite expiry, the
	// raw seat cap, the one-seat-per-deity-domain rule and single-civilization
	// membership of the religion.
	AcceptInvite(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, religionID string) (*Civilization, error)

	// DeclineInvite removes a pending invite without joining.
	DeclineInvite(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, religionID string) error

	// Kick unseats a member religion. Founder religion only, and the founder religion
	// itself can never be kicked.
	Kick(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, religionID string) error

	// Disband deletes the civilization, unseating every member religion. Requires the
	// actor to act for the founder religion.
	Disband(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID string) error

	// EditIcon updates the civilization icon. Founder religion only.
	EditIcon(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, icon string) error

	// EditDescription updates the civilization description. Founder religion only.
	EditDescription(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, description string) error

	// CivilizationOfReligion returns the civilization the religion is seated in, or nil.
	CivilizationOfReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) (*Civilization, error)

	// DetachReligion removes the religion's seat wherever it holds one. Used by the
	// religion disband cascade; disbanding the founder religion disbands the
	// civilization itself.
	DetachReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) error
}
