package pantheonix

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrDevotionAlreadyMember  = runtime.NewError("player already belongs to a religion", ALREADY_EXISTS_ERROR_CODE)
	ErrDevotionNotMember      = runtime.NewError("player does not belong to a religion", FAILED_PRECONDITION_ERROR_CODE)
	ErrDevotionCooldownActive = runtime.NewError("religion switch cooldown active", FAILED_PRECONDITION_ERROR_CODE)
	ErrDevotionFavorTooLow    = runtime.NewError("not enough spendable favor", FAILED_PRECONDITION_ERROR_CODE)
)

// DevotionConfig is the data definition for the DevotionSystem type.
type DevotionConfig struct {
	// SwitchCooldownSec is the window during which a player who joined or left a
	// religion may not join another. Defaults to 24 hours when omitted.
	SwitchCooldownSec int64 `json:"switch_cooldown_sec,omitempty" yaml:"switch_cooldown_sec,omitempty"`
}

// ReligionSwitch is one entry in a player's switch history.
type ReligionSwitch struct {
	ReligionID string `json:"religion_id"`
	JoinedSec  int64  `json:"joined_sec"`
	LeftSec    int64  `json:"left_sec,omitempty"`
}

// PlayerDevotion is the per-player membership and favor record. It is created lazily on
// first lookup and never deleted, even when the player leaves their religion.
type PlayerDevotion struct {
	PlayerID       string            `json:"player_id"`
	ReligionID     string            `json:"religion_id,omitempty"`
	TotalFavor     int64             `json:"total_favor"`
	SpendableFavor int64             `json:"spendable_favor"`
	JoinedAtSec    int64             `json:"joined_at_sec,omitempty"`
	LastSwitchSec  int64             `json:"last_switch_sec,omitempty"`
	SwitchHistory  []*ReligionSwitch `json:"switch_history,omitempty"`
}

// A DevotionSystem owns the per-player religion membership record, the favor accrual
// counters, and the religion switch cooldown.
type DevotionSystem interface {
	System

	// Get returns the player's devotion record, creating an empty one on first lookup.
	Get(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (*PlayerDevotion, error)

	// JoinReligion places the player into the given religion. It fails if the player
	// already belongs to a religion, if the switch cooldown is active, or if the
	// religion refuses admission (private without invite, expired invite, roster full).
	JoinReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, religionID string) (*PlayerDevotion, error)

	// LeaveReligion clears the player's membership. The founder of a religion cannot
	// leave; they must transfer the founder role or disband.
	LeaveReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (*PlayerDevotion, error)

	// CanSwitchReligion returns false while the switch cooldown window is active.
	CanSwitchReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (bool, error)

	// SwitchCooldownRemaining returns the remaining cooldown, or zero when the player
	// may switch freely.
	SwitchCooldownRemaining(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (time.Duration, error)

	// AddFavor increments the player's favor. Total favor is monotonic; the same amount
	// is also added to the spendable balance. Returns the updated record.
	AddFavor(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string, amount int64) (*PlayerDevotion, error)

	// SpendFavor deducts from the spendable balance only. Total favor is unaffected.
	SpendFavor(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string, amount int64) (*PlayerDevotion, error)

	// FavorRank derives the player's favor rank from total favor earned via the
	// blessings catalog threshold table.
	FavorRank(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (int32, error)

	// AttachReligion writes the membership link without admission validation. The
	// religions system calls this for the founder when a religion is created; the join
	// path calls it after admission succeeds. When touchCooldown is true the switch
	// timestamp is set so the cooldown window starts.
	AttachReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, religionID string, touchCooldown bool) (*PlayerDevotion, error)

	// ClearReligion detaches the player from their religion without going through the
	// leave path validation. Used by kick and disband cascades; roster removal is the
	// caller's responsibility. When touchCooldown is false the switch timestamp is left
	// alone so the player is not penalized for an involuntary removal.
	ClearReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string, touchCooldown bool) error
}
