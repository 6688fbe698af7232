package pantheonix

import (
	"context"
	"sync"

	"github.com/heroiclabs/nakama-common/runtime"
)

// NakamaEffectsSystem implements the EffectsSystem interface. Handlers are bound to
// effect ids from the config at construction; custom handlers may be registered on top
// at any time.
type NakamaEffectsSystem struct {
	config     *EffectsConfig
	pantheonix Pantheonix

	sync.RWMutex
	handlers map[string]SpecialEffectHandler
}

// NewNakamaEffectsSystem creates a new instance of the effects system. An effect bound
// to an unknown handler type is logged and left unbound; dispatch treats it as a no-op.
func NewNakamaEffectsSystem(logger runtime.Logger, config *EffectsConfig) *NakamaEffectsSystem {
	e := &NakamaEffectsSystem{
		config:   config,
		handlers: make(map[string]SpecialEffectHandler),
	}
	if config != nil {
		for effectID, effect := range config.Effects {
			switch effect.Handler {
			case damageReductionHandlerType:
				e.handlers[effectID] = newDamageReductionHandler(effect.Params)
			default:
				logger.Warn("Effect %q references unknown handler type %q", effectID, effect.Handler)
			}
		}
	}
	return e
}

// SetPantheonix sets the Pantheonix instance for this effects system.
func (e *NakamaEffectsSystem) SetPantheonix(p Pantheonix) {
	e.pantheonix = p
}

// GetType returns the system type for the effects system.
func (e *NakamaEffectsSystem) GetType() SystemType {
	return SystemTypeEffects
}

// GetConfig returns the configuration for the effects system.
func (e *NakamaEffectsSystem) GetConfig() any {
	return e.config
}

// RegisterHandler adds or replaces the handler bound to an effect id.
func (e *NakamaEffectsSystem) RegisterHandler(effectID string, handler SpecialEffectHandler) {
	e.Lock()
	defer e.Unlock()
	e.handlers[effectID] = handler
}

// ApplyDamageReceived runs the damage event through every unlocked blessing affecting
// the player, in ascending blessing-id order, and returns the mutated damage value.
// Effects without a bound handler, or whose handler does not intercept damage, are
// skipped.
func (e *NakamaEffectsSystem) ApplyDamageReceived(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string, damage float64) (float64, error) {
	if playerID == "" {
		return damage, ErrBadInput
	}
	blessings := e.pantheonix.GetBlessingsSystem()
	if blessings == nil {
		return damage, ErrSystemNotAvailable
	}
	effects, err := blessings.ActiveEffects(ctx, logger, nk, playerID)
	if err != nil {
		return damage, err
	}

	event := &DamageEvent{PlayerID: playerID, Damage: damage}
	for _, effect := range effects {
		e.RLock()
		handler := e.handlers[effect.EffectID]
		e.RUnlock()
		if handler == nil {
			logger.Warn("No handler bound for effect %q on blessing %q", effect.EffectID, effect.BlessingID)
			continue
		}
		interceptor, ok := handler.(DamageInterceptor)
		if !ok {
			continue
		}
		event.BlessingID = effect.BlessingID
		event.EffectID = effect.EffectID
		interceptor.OnDamageReceived(logger, event)
	}
	return event.Damage, nil
}

const damageReductionHandlerType = "damage_reduction"

// damageReductionHandler scales incoming damage by a configured multiplier in (0, 1].
// Multiple active reductions stack multiplicatively through repeated application.
type damageReductionHandler struct {
	multiplier float64
}

func newDamageReductionHandler(params map[string]float64) *damageReductionHandler {
	return &damageReductionHandler{multiplier: params["multiplier"]}
}

// HandlerType returns the registered handler type name.
func (h *damageReductionHandler) HandlerType() string {
	return damageReductionHandlerType
}

// OnDamageReceived scales the in-flight damage. A multiplier outside (0, 1] is a
// misconfiguration; the event is left untouched.
func (h *damageReductionHandler) OnDamageReceived(logger runtime.Logger, event *DamageEvent) {
	if h.multiplier <= 0 || h.multiplier > 1 {
		logger.Warn("Damage reduction for effect %q has invalid multiplier %f", event.EffectID, h.multiplier)
		return
	}
	event.Damage *= h.multiplier
}
