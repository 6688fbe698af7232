package pantheonix

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	RpcIdEffectsDamageReceived = "effects_damage_received"
)

type EffectsDamageReceivedRequest struct {
	Damage float64 `json:"damage"`
}

type EffectsDamageReceivedResponse struct {
	Damage float64 `json:"damage"`
}

// rpcEffectsDamageReceived runs an incoming damage value through the caller's active
// special effects. Intended for server-to-server use from match handlers; exposed as an
// RPC so gameplay scripts outside this module can reach the dispatch pipeline.
func rpcEffectsDamageReceived(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		effectsSystem := p.GetEffectsSystem()
		if effectsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request EffectsDamageReceivedRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal EffectsDamageReceivedRequest: %v", err)
			return "", ErrPayloadDecode
		}
		if request.Damage < 0 {
			return "", ErrBadInput
		}

		damage, err := effectsSystem.ApplyDamageReceived(ctx, logger, nk, userId, request.Damage)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, &EffectsDamageReceivedResponse{Damage: damage})
	}
}
