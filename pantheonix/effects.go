package pantheonix

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// DamageEvent is an in-flight damage amount passed through the dispatch pipeline
// before it is applied to the subject. Handlers mutate Damage in place.
type DamageEvent struct {
	PlayerID   string  `json:"player_id"`
	BlessingID string  `json:"blessing_id,omitempty"`
	EffectID   string  `json:"effect_id,omitempty"`
	Damage     float64 `json:"damage"`
}

// A SpecialEffectHandler applies one configured runtime behavior attached to a
// blessing. Handlers are stateless beyond their configured parameters, are looked up by
// effect id, and declare gameplay-event capabilities through the narrow interfaces
// below. A handler that does not implement a capability is skipped for that event.
type SpecialEffectHandler interface {
	// HandlerType returns the registered handler type name, e.g. "damage_reduction".
	HandlerType() string
}

// A DamageInterceptor mutates an in-flight damage value before it is applied. Handlers
// must tolerate malformed parameters and never panic; a handler that cannot apply
// leaves the event untouched.
type DamageInterceptor interface {
	SpecialEffectHandler

	OnDamageReceived(logger runtime.Logger, event *DamageEvent)
}

// EffectsConfigEffect binds one effect id to a handler type and its parameters.
type EffectsConfigEffect struct {
	Handler string             `json:"handler" yaml:"handler"`
	Params  map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// EffectsConfig is the data definition for the EffectsSystem type.
type EffectsConfig struct {
	Effects map[string]*EffectsConfigEffect `json:"effects" yaml:"effects"`
}

// An EffectsSystem is the registry of special effect handlers and the dispatch entry
// points invoked by gameplay-event hooks. Dispatch across multiple applicable handlers
// is deterministic: ascending blessing-id order. An effect id with no registered
// handler is a logged no-op, never fatal.
type EffectsSystem interface {
	System

	// RegisterHandler adds or replaces the handler bound to an effect id. Built-in
	// handlers are bound from the config at startup; this allows custom ones.
	RegisterHandler(effectID string, handler SpecialEffectHandler)

	// ApplyDamageReceived runs the damage event through every unlocked blessing
	// affecting the player and returns the mutated damage value.
	ApplyDamageReceived(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string, damage float64) (float64, error)
}
