package pantheonix

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	RpcIdDevotionGet           = "devotion_get"
	RpcIdDevotionJoinReligion  = "devotion_join_religion"
	RpcIdDevotionLeaveReligion = "devotion_leave_religion"
	RpcIdDevotionAddFavor      = "devotion_add_favor"
)

type DevotionJoinReligionRequest struct {
	ReligionId string `json:"religion_id"`
}

type DevotionAddFavorRequest struct {
	Amount int64 `json:"amount"`
}

// DevotionGetResponse wraps the membership record with the cooldown state so clients
// can render the switch gate without a second call.
type DevotionGetResponse struct {
	Devotion             *PlayerDevotion `json:"devotion"`
	FavorRank            int32           `json:"favor_rank"`
	CanSwitch            bool            `json:"can_switch"`
	CooldownRemainingSec int64           `json:"cooldown_remaining_sec,omitempty"`
}

func sessionUserId(ctx context.Context) (string, error) {
	userId, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userId == "" {
		return "", ErrNoSessionUser
	}
	return userId, nil
}

func marshalRpcResponse(logger runtime.Logger, response any) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		logger.Error("Failed to marshal response: %v", err)
		return "", ErrPayloadEncode
	}
	return string(data), nil
}

func rpcDevotionGet(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		devotionSystem := p.GetDevotionSystem()
		if devotionSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		devotion, err := devotionSystem.Get(ctx, logger, nk, userId)
		if err != nil {
			return "", err
		}
		rank, err := devotionSystem.FavorRank(ctx, logger, nk, userId)
		if err != nil {
			return "", err
		}
		remaining, err := devotionSystem.SwitchCooldownRemaining(ctx, logger, nk, userId)
		if err != nil {
			return "", err
		}

		return marshalRpcResponse(logger, &DevotionGetResponse{
			Devotion:             devotion,
			FavorRank:            rank,
			CanSwitch:            remaining == 0,
			CooldownRemainingSec: int64(remaining.Seconds()),
		})
	}
}

func rpcDevotionJoinReligion(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		devotionSystem := p.GetDevotionSystem()
		if devotionSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request DevotionJoinReligionRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal DevotionJoinReligionRequest: %v", err)
			return "", ErrPayloadDecode
		}
		if request.ReligionId == "" {
			return "", ErrBadInput
		}

		devotion, err := devotionSystem.JoinReligion(ctx, logger, nk, userId, request.ReligionId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, devotion)
	}
}

func rpcDevotionLeaveReligion(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		devotionSystem := p.GetDevotionSystem()
		if devotionSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		devotion, err := devotionSystem.LeaveReligion(ctx, logger, nk, userId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, devotion)
	}
}

func rpcDevotionAddFavor(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		devotionSystem := p.GetDevotionSystem()
		if devotionSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request DevotionAddFavorRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal DevotionAddFavorRequest: %v", err)
			return "", ErrPayloadDecode
		}
		if request.Amount <= 0 {
			return "", ErrBadInput
		}

		devotion, err := devotionSystem.AddFavor(ctx, logger, nk, userId, request.Amount)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, devotion)
	}
}
