package pantheonix

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	RpcIdReligionsCreate          = "religions_create"
	RpcIdReligionsGet             = "religions_get"
	RpcIdReligionsList            = "religions_list"
	RpcIdReligionsRoster          = "religions_roster"
	RpcIdReligionsInvite          = "religions_invite"
	RpcIdReligionsAcceptInvite    = "religions_accept_invite"
	RpcIdReligionsDeclineInvite   = "religions_decline_invite"
	RpcIdReligionsKick            = "religions_kick"
	RpcIdReligionsTransferFounder = "religions_transfer_founder"
	RpcIdReligionsDisband         = "religions_disband"
	RpcIdReligionsEditDescription = "religions_edit_description"
	RpcIdReligionsSetVisibility   = "religions_set_visibility"
	RpcIdReligionsCreateRole      = "religions_create_role"
	RpcIdReligionsDeleteRole      = "religions_delete_role"
	RpcIdReligionsModifyRole      = "religions_modify_role"
	RpcIdReligionsAssignRole      = "religions_assign_role"
	RpcIdReligionsAddPrestige     = "religions_add_prestige"
)

type ReligionCreateRequest struct {
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Public      bool   `json:"public"`
	Description string `json:"description,omitempty"`
}

type ReligionIdRequest struct {
	ReligionId string `json:"religion_id"`
}

type ReligionTargetRequest struct {
	ReligionId string `json:"religion_id"`
	TargetId   string `json:"target_id"`
}

type ReligionDescriptionRequest struct {
	ReligionId  string `json:"religion_id"`
	Description string `json:"description"`
}

type ReligionVisibilityRequest struct {
	ReligionId string `json:"religion_id"`
	Public     bool   `json:"public"`
}

type ReligionRoleRequest struct {
	ReligionId  string `json:"religion_id"`
	RoleId      string `json:"role_id"`
	Name        string `json:"name,omitempty"`
	Permissions uint32 `json:"permissions,omitempty"`
}

type ReligionAssignRoleRequest struct {
	ReligionId string `json:"religion_id"`
	TargetId   string `json:"target_id"`
	RoleId     string `json:"role_id"`
}

type ReligionAddPrestigeRequest struct {
	ReligionId string `json:"religion_id"`
	Amount     int64  `json:"amount"`
}

type ReligionAddPrestigeResponse struct {
	Prestige     int64 `json:"prestige"`
	PrestigeRank int32 `json:"prestige_rank"`
}

type ReligionListResponse struct {
	Religions []*Religion `json:"religions"`
}

type ReligionRosterResponse struct {
	Members []*ReligionMember `json:"members"`
}

func rpcReligionsCreate(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionCreateRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionCreateRequest: %v", err)
			return "", ErrPayloadDecode
		}
		if request.Name == "" || request.Domain == "" {
			return "", ErrBadInput
		}

		religion, err := religionsSystem.Create(ctx, logger, nk, userId, request.Name, DeityDomain(request.Domain), request.Public, request.Description)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, religion)
	}
}

func rpcReligionsGet(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		var request ReligionIdRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionIdRequest: %v", err)
			return "", ErrPayloadDecode
		}

		religion, err := religionsSystem.Get(ctx, logger, nk, request.ReligionId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, religion)
	}
}

func rpcReligionsList(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		religions, err := religionsSystem.List(ctx, logger, nk)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, &ReligionListResponse{Religions: religions})
	}
}

func rpcReligionsRoster(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		var request ReligionIdRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionIdRequest: %v", err)
			return "", ErrPayloadDecode
		}

		members, err := religionsSystem.Roster(ctx, logger, nk, request.ReligionId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, &ReligionRosterResponse{Members: members})
	}
}

func rpcReligionsInvite(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionTargetRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionTargetRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.InviteMember(ctx, logger, nk, userId, request.ReligionId, request.TargetId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsAcceptInvite(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionIdRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionIdRequest: %v", err)
			return "", ErrPayloadDecode
		}

		religion, err := religionsSystem.AcceptInvite(ctx, logger, nk, userId, request.ReligionId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, religion)
	}
}

func rpcReligionsDeclineInvite(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionIdRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionIdRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.DeclineInvite(ctx, logger, nk, userId, request.ReligionId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsKick(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionTargetRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionTargetRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.Kick(ctx, logger, nk, userId, request.ReligionId, request.TargetId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsTransferFounder(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionTargetRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionTargetRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.TransferFounder(ctx, logger, nk, userId, request.ReligionId, request.TargetId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsDisband(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionIdRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionIdRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.Disband(ctx, logger, nk, userId, request.ReligionId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsEditDescription(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionDescriptionRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionDescriptionRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.EditDescription(ctx, logger, nk, userId, request.ReligionId, request.Description); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsSetVisibility(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionVisibilityRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionVisibilityRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.SetVisibility(ctx, logger, nk, userId, request.ReligionId, request.Public); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsCreateRole(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionRoleRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionRoleRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.CreateRole(ctx, logger, nk, userId, request.ReligionId, request.RoleId, request.Name, RolePermission(request.Permissions)); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsDeleteRole(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionRoleRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionRoleRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.DeleteRole(ctx, logger, nk, userId, request.ReligionId, request.RoleId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsModifyRole(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionRoleRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionRoleRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.ModifyRolePermissions(ctx, logger, nk, userId, request.ReligionId, request.RoleId, RolePermission(request.Permissions)); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsAssignRole(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionAssignRoleRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionAssignRoleRequest: %v", err)
			return "", ErrPayloadDecode
		}

		if err := religionsSystem.AssignRole(ctx, logger, nk, userId, request.ReligionId, request.TargetId, request.RoleId); err != nil {
			return "", err
		}
		return "{}", nil
	}
}

func rpcReligionsAddPrestige(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		religionsSystem := p.GetReligionsSystem()
		if religionsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request ReligionAddPrestigeRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionAddPrestigeRequest: %v", err)
			return "", ErrPayloadDecode
		}

		// Prestige accrual is server-authoritative: the caller must belong to the
		// religion they are crediting.
		member, err := religionsSystem.HasPermission(ctx, logger, nk, request.ReligionId, userId, PermissionNone)
		if err != nil {
			return "", err
		}
		if !member {
			return "", ErrReligionNotRosterMember
		}

		prestige, err := religionsSystem.AddPrestige(ctx, logger, nk, request.ReligionId, request.Amount)
		if err != nil {
			return "", err
		}
		rank, err := religionsSystem.PrestigeRank(ctx, logger, nk, request.ReligionId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, &ReligionAddPrestigeResponse{Prestige: prestige, PrestigeRank: rank})
	}
}
