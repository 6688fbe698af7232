package pantheonix

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrBlessingNotFound           = runtime.NewError("blessing not found", NOT_FOUND_ERROR_CODE)
	ErrBlessingAlreadyUnlocked    = runtime.NewError("blessing already unlocked", ALREADY_EXISTS_ERROR_CODE)
	ErrBlessingRankTooLow         = runtime.NewError("rank too low to unlock blessing", FAILED_PRECONDITION_ERROR_CODE)
	ErrBlessingPrerequisiteNotMet = runtime.NewError("blessing prerequisite not unlocked", FAILED_PRECONDITION_ERROR_CODE)
	ErrBlessingWrongDomain        = runtime.NewError("blessing belongs to another deity domain", FAILED_PRECONDITION_ERROR_CODE)
	ErrBlessingWrongKind          = runtime.NewError("blessing kind does not match the owner", INVALID_ARGUMENT_ERROR_CODE)
	ErrBlessingCatalogInvalid     = runtime.NewError("blessing catalog failed validation", INTERNAL_ERROR_CODE)
)

// BlessingKind scopes a blessing to a player or to a whole religion.
type BlessingKind string

const (
	BlessingKindPlayer   BlessingKind = "player"
	BlessingKindReligion BlessingKind = "religion"
)

// BlessingDefinition is one immutable catalog entry. The catalog is loaded once at
// startup and is safe for unsynchronized concurrent reads thereafter.
type BlessingDefinition struct {
	Name           string           `json:"name" yaml:"name"`
	Description    string           `json:"description,omitempty" yaml:"description,omitempty"`
	Domain         DeityDomain      `json:"domain" yaml:"domain"` // or "universal"
	Kind           BlessingKind     `json:"kind" yaml:"kind"`
	Category       string           `json:"category,omitempty" yaml:"category,omitempty"`
	RequiredRank   int32            `json:"required_rank" yaml:"required_rank"`
	CostFavor      int64            `json:"cost_favor,omitempty" yaml:"cost_favor,omitempty"` // player kind only
	Prerequisites  []string         `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	StatModifiers  map[string]int64 `json:"stat_modifiers,omitempty" yaml:"stat_modifiers,omitempty"`
	SpecialEffects []string         `json:"special_effects,omitempty" yaml:"special_effects,omitempty"`
}

// BlessingsConfig is the data definition for the BlessingsSystem type: the blessing
// catalog plus the rank threshold tables for both accrual currencies.
type BlessingsConfig struct {
	Blessings               map[string]*BlessingDefinition `json:"blessings" yaml:"blessings"`
	FavorRankThresholds     []int64                        `json:"favor_rank_thresholds" yaml:"favor_rank_thresholds"`
	PrestigeRankThresholds  []int64                        `json:"prestige_rank_thresholds" yaml:"prestige_rank_thresholds"`
}

// BlessingNodeState is the derived unlock state of one catalog entry for one owner.
// It is recomputed from (rank, unlocked set, catalog), never independently authored.
type BlessingNodeState struct {
	ID            string `json:"id"`
	Unlocked      bool   `json:"unlocked"`
	Unlockable    bool   `json:"unlockable"`
	UnlockTimeSec int64  `json:"unlock_time_sec,omitempty"`
}

// ActiveEffect pairs an unlocked blessing with one of its special effect ids. Slices of
// these are always ordered by ascending blessing id so dispatch is deterministic.
type ActiveEffect struct {
	BlessingID string `json:"blessing_id"`
	EffectID   string `json:"effect_id"`
}

// A BlessingsSystem combines the static blessing registry with the progress engine
// that evaluates and persists unlock state per owner (player or religion).
type BlessingsSystem interface {
	System

	// Catalog returns the immutable blessing definitions keyed by id.
	Catalog() map[string]*BlessingDefinition

	// FavorRank derives a favor rank from a total-favor counter.
	FavorRank(totalFavor int64) int32

	// PrestigeRank derives a prestige rank from a prestige counter.
	PrestigeRank(prestige int64) int32

	// GetPlayerBlessings evaluates every player-kind catalog entry for the player:
	// unlocked comes from the persisted set, unlockable from current favor rank, the
	// player's religion domain and prerequisite satisfaction.
	GetPlayerBlessings(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (map[string]*BlessingNodeState, error)

	// GetReligionBlessings evaluates every religion-kind catalog entry for the religion
	// against its prestige rank.
	GetReligionBlessings(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) (map[string]*BlessingNodeState, error)

	// UnlockPlayerBlessing unlocks a player-kind blessing, spending the favor cost.
	// Fails when the node is not currently unlockable or is already unlocked.
	UnlockPlayerBlessing(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, blessingID string) (*BlessingNodeState, error)

	// UnlockReligionBlessing unlocks a religion-kind blessing. The actor needs the
	// unlock-blessings permission in the religion.
	UnlockReligionBlessing(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, blessingID string) (*BlessingNodeState, error)

	// ActiveEffects returns the special effect ids of every unlocked blessing affecting
	// the player: their own player-kind unlocks plus their religion's religion-kind
	// unlocks, in ascending blessing-id order.
	ActiveEffects(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) ([]*ActiveEffect, error)

	// ActiveStatModifiers aggregates the stat modifier deltas of every unlocked
	// blessing affecting the player.
	ActiveStatModifiers(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (map[string]int64, error)

	// ResetOwner clears the owner's unlocked set. With keepUniversal true, unlocks of
	// universal-domain blessings survive; used when a player switches religion. A full
	// reset (religion disband) passes false.
	ResetOwner(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, ownerID string, isPlayer bool, keepUniversal bool) error
}
