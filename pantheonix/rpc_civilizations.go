package pantheonix

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	RpcIdCivilizationsCreate          = "civilizations_create"
	RpcIdCivilizationsGet             = "civilizations_get"
	RpcIdCivilizationsList            = "civilizations_list"
	RpcIdCivilizationsInvite          = "civilizations_invite"
	RpcIdCivilizationsAcceptInvite    = "civilizations_accept_invite"
	RpcIdCivilizationsDeclineInvite   = "civilizations_decline_invite"
	RpcIdCivilizationsKick            = "civilizations_kick"
	RpcIdCivilizationsDisband         = "civilizations_disband"
	RpcIdCivilizationsEditIcon        = "civilizations_edit_icon"
	RpcIdCivilizationsEditDescription = "civilizations_edit_description"
)

type CivilizationCreateRequest struct {
	ReligionId  string `json:"religion_id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
}

type CivilizationIdRequest struct {
	CivilizationId string `json:"civilization_id"`
}

type CivilizationReligionRequest struct {
	CivilizationId string `json:"civilization_id"`
	ReligionId     string `json:"religion_id"`
}

type CivilizationEditRequest struct {
	CivilizationId string `json:"civilization_id"`
	Icon           string `json:"icon,omitempty"`
	Description    string `json:"description,omitempty"`
}

type CivilizationListResponse struct {
	Civilizations []*Civilization `json:"civilizations"`
}

func rpcCivilizationsCreate(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request CivilizationCreateRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationCreateRequest: %v", err)
			return "", ErrPayloadDecode
		}
		if request.ReligionId == "" || request.Name == "" {
			return "", ErrBadInput
		}

		civilization, err := civilizationsSystem.Create(ctx, logger, nk, userId, request.ReligionId, request.Name, request.Icon, request.Description)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, civilization)
	}
}

func rpcCivilizationsGet(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		var request CivilizationIdRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationIdRequest: %v", err)
			return "", ErrPayloadDecode
		}

		civilization, err := civilizationsSystem.Get(ctx, logger, nk, request.CivilizationId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, civilization)
	}
}

func rpcCivilizationsList(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		civilizations, err := civilizationsSystem.List(ctx, logger, nk)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, &CivilizationListResponse{Civilizations: civilizations})
	}
}

func rpcCivilizationsInvite(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request CivilizationReligionRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationReligionRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := civilizationsSystem.InviteReligion(ctx, logger, nk, userId, request.CivilizationId, request.ReligionId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcCivilizationsAcceptInvite(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request CivilizationReligionRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationReligionRequest: %v", err)
			return "", ErrPayloadDecode
		}

		civilization, err := civilizationsSystem.AcceptInvite(ctx, logger, nk, userId, request.CivilizationId, request.ReligionId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, civilization)
	}
}

func rpcCivilizationsDeclineInvite(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request CivilizationReligionRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationReligionRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := civilizationsSystem.DeclineInvite(ctx, logger, nk, userId, request.CivilizationId, request.ReligionId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcCivilizationsKick(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request CivilizationReligionRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationReligionRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := civilizationsSystem.Kick(ctx, logger, nk, userId, request.CivilizationId, request.ReligionId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcCivilizationsDisband(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request CivilizationIdRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationIdRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := civilizationsSystem.Disband(ctx, logger, nk, userId, request.CivilizationId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcCivilizationsEditIcon(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request CivilizationEditRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationEditRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := civilizationsSystem.EditIcon(ctx, logger, nk, userId, request.CivilizationId, request.Icon); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcCivilizationsEditDescription(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		civilizationsSystem := p.GetCivilizationsSystem()
		if civilizationsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request CivilizationEditRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal CivilizationEditRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := civilizationsSystem.EditDescription(ctx, logger, nk, userId, request.CivilizationId, request.Description); err != nil {
			return "", err
		}
		return "{}", nil
	}
}
