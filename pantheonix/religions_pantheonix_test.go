package pantheonix

import (
	"context"
	"testing"
	"time"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReligionsSystem_CreateFoundsSoleMemberReligion(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "Sunrise worship")
	require.NoError(t, err)
	assert.NotEmpty(t, religion.ID)
	assert.Equal(t, "founder", religion.FounderID)
	assert.Equal(t, DeityDomainSun, religion.Domain)
	assert.Equal(t, RoleIDFounder, religion.Roster["founder"])
	assert.Len(t, religion.Roster, 1)

	record, err := devotion.Get(ctx, logger, nk, "founder")
	require.NoError(t, err)
	assert.Equal(t, religion.ID, record.ReligionID)
}

func TestReligionsSystem_CreateRejectsBadInput(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	_, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", "volcano", true, "")
	assert.ErrorIs(t, err, ErrReligionInvalidDomain)

	_, err = religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainUniversal, true, "")
	assert.ErrorIs(t, err, ErrReligionInvalidDomain)

	_, err = religions.Create(ctx, logger, nk, "founderA", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = religions.Create(ctx, logger, nk, "founderB", "order of dawn", DeityDomainMoon, true, "")
	assert.ErrorIs(t, err, ErrReligionNameTaken, "names are unique case-insensitively")
}

func TestReligionsSystem_CreateWhileMemberFails(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	_, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)

	_, err = religions.Create(ctx, logger, nk, "founder", "Tidecallers", DeityDomainSea, true, "")
	assert.ErrorIs(t, err, ErrDevotionAlreadyMember)
}

func TestReligionsSystem_PrivateRequiresInvite(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Inner Circle", DeityDomainMoon, false, "")
	require.NoError(t, err)

	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	assert.ErrorIs(t, err, ErrReligionPrivate)

	require.NoError(t, religions.InviteMember(ctx, logger, nk, "founder", religion.ID, "user1"))
	assert.Equal(t, 1, nk.notificationCount(notificationCodeReligionInvite))

	joined, err := religions.AcceptInvite(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleIDMember, joined.Roster["user1"])
	assert.NotContains(t, joined.Invites, "user1", "accepting consumes the invite")
}

func TestReligionsSystem_InviteRequiresPermission(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)

	// Default member role carries no permissions.
	err = religions.InviteMember(ctx, logger, nk, "user1", religion.ID, "user2")
	assert.ErrorIs(t, err, ErrReligionPermissionDenied)

	// Grant a recruiter role and retry.
	require.NoError(t, religions.CreateRole(ctx, logger, nk, "founder", religion.ID, "recruiter", "Recruiter", PermissionInviteMembers))
	require.NoError(t, religions.AssignRole(ctx, logger, nk, "founder", religion.ID, "user1", "recruiter"))
	require.NoError(t, religions.InviteMember(ctx, logger, nk, "user1", religion.ID, "user2"))
}

func TestReligionsSystem_ExpiredInviteFailsAndPrunes(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem().(*NakamaReligionsSystem)
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Inner Circle", DeityDomainMoon, false, "")
	require.NoError(t, err)
	require.NoError(t, religions.InviteMember(ctx, logger, nk, "founder", religion.ID, "user1"))

	religions.Lock()
	religions.religions[religion.ID].Invites["user1"] = time.Now().Unix() - 1
	religions.Unlock()

	_, err = religions.AcceptInvite(ctx, logger, nk, "user1", religion.ID)
	assert.ErrorIs(t, err, ErrReligionInviteExpired)

	// The stale invite is pruned, so a retry reports no invite at all.
	_, err = religions.AcceptInvite(ctx, logger, nk, "user1", religion.ID)
	assert.ErrorIs(t, err, ErrReligionNotInvited)
}

func TestReligionsSystem_RosterCapacity(t *testing.T) {
	px := newTestPantheonix(t, nil, &ReligionsConfig{MaxMembers: 2}, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)

	_, err = devotion.JoinReligion(ctx, logger, nk, "user2", religion.ID)
	assert.ErrorIs(t, err, ErrReligionRosterFull)
}

func TestReligionsSystem_KickRules(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user2", religion.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, religions.Kick(ctx, logger, nk, "user1", religion.ID, "user2"), ErrReligionPermissionDenied)
	assert.ErrorIs(t, religions.Kick(ctx, logger, nk, "founder", religion.ID, "founder"), ErrReligionCannotKickSelf)
	assert.ErrorIs(t, religions.Kick(ctx, logger, nk, "user1", religion.ID, "founder"), ErrReligionPermissionDenied)

	require.NoError(t, religions.Kick(ctx, logger, nk, "founder", religion.ID, "user1"))
	assert.Equal(t, 1, nk.notificationCount(notificationCodeReligionKicked))

	record, err := devotion.Get(ctx, logger, nk, "user1")
	require.NoError(t, err)
	assert.Empty(t, record.ReligionID, "kick clears the membership record")
}

func TestReligionsSystem_FounderCannotBeKickedOrLeave(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)

	// Give user1 kick permission; the founder still cannot be kicked.
	require.NoError(t, religions.CreateRole(ctx, logger, nk, "founder", religion.ID, "officer", "Officer", PermissionKickMembers))
	require.NoError(t, religions.AssignRole(ctx, logger, nk, "founder", religion.ID, "user1", "officer"))
	assert.ErrorIs(t, religions.Kick(ctx, logger, nk, "user1", religion.ID, "founder"), ErrReligionKickFounder)

	_, err = devotion.LeaveReligion(ctx, logger, nk, "founder")
	assert.ErrorIs(t, err, ErrReligionFounderLeave)
}

func TestReligionsSystem_TransferFounder(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, religions.TransferFounder(ctx, logger, nk, "user1", religion.ID, "user1"), ErrReligionNotFounder)

	require.NoError(t, religions.TransferFounder(ctx, logger, nk, "founder", religion.ID, "user1"))

	updated, err := religions.Get(ctx, logger, nk, religion.ID)
	require.NoError(t, err)
	assert.Equal(t, "user1", updated.FounderID)
	assert.Equal(t, RoleIDFounder, updated.Roster["user1"])
	assert.Equal(t, RoleIDMember, updated.Roster["founder"])

	// The previous founder may leave now.
	_, err = devotion.LeaveReligion(ctx, logger, nk, "founder")
	require.NoError(t, err)
}

func TestReligionsSystem_DisbandCascades(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, religions.Disband(ctx, logger, nk, "user1", religion.ID), ErrReligionNotFounder)

	require.NoError(t, religions.Disband(ctx, logger, nk, "founder", religion.ID))

	_, err = religions.Get(ctx, logger, nk, religion.ID)
	assert.ErrorIs(t, err, ErrReligionNotFound)

	for _, playerID := range []string{"founder", "user1"} {
		record, err := devotion.Get(ctx, logger, nk, playerID)
		require.NoError(t, err)
		assert.Empty(t, record.ReligionID)
	}
	assert.Equal(t, 1, nk.notificationCount(notificationCodeReligionDisband))
}

func TestReligionsSystem_RoleLifecycle(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, religions.CreateRole(ctx, logger, nk, "founder", religion.ID, RoleIDFounder, "Usurper", PermissionAll), ErrReligionRoleReserved)
	assert.ErrorIs(t, religions.DeleteRole(ctx, logger, nk, "founder", religion.ID, RoleIDMember), ErrReligionRoleReserved)
	assert.ErrorIs(t, religions.AssignRole(ctx, logger, nk, "founder", religion.ID, "user1", RoleIDFounder), ErrReligionRoleReserved)

	require.NoError(t, religions.CreateRole(ctx, logger, nk, "founder", religion.ID, "scribe", "Scribe", PermissionEditDescription))
	require.NoError(t, religions.AssignRole(ctx, logger, nk, "founder", religion.ID, "user1", "scribe"))

	ok, err := religions.HasPermission(ctx, logger, nk, religion.ID, "user1", PermissionEditDescription)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, religions.EditDescription(ctx, logger, nk, "user1", religion.ID, "Rewritten"))

	require.NoError(t, religions.ModifyRolePermissions(ctx, logger, nk, "founder", religion.ID, "scribe", PermissionNone))
	assert.ErrorIs(t, religions.EditDescription(ctx, logger, nk, "user1", religion.ID, "Again"), ErrReligionPermissionDenied)

	// Deleting the role falls holders back to the default member role.
	require.NoError(t, religions.DeleteRole(ctx, logger, nk, "founder", religion.ID, "scribe"))
	updated, err := religions.Get(ctx, logger, nk, religion.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleIDMember, updated.Roster["user1"])
}

func TestReligionsSystem_ListReturnsOnlyPublic(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	_, err := religions.Create(ctx, logger, nk, "founderA", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = religions.Create(ctx, logger, nk, "founderB", "Inner Circle", DeityDomainMoon, false, "")
	require.NoError(t, err)

	listed, err := religions.List(ctx, logger, nk)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Order of Dawn", listed[0].Name)
}

func TestReligionsSystem_RosterEnrichment(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	nk.users["founder"] = &api.User{Id: "founder", DisplayName: "High Priest", Online: true}

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)

	members, err := religions.Roster(ctx, logger, nk, religion.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "High Priest", members[0].DisplayName)
	assert.True(t, members[0].Online)
	assert.Equal(t, RoleIDFounder, members[0].RoleID)
}

func TestReligionsSystem_PrestigeAccrual(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, &BlessingsConfig{
		PrestigeRankThresholds: []int64{100, 500},
	}, nil)
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)

	prestige, err := religions.AddPrestige(ctx, logger, nk, religion.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(150), prestige)

	rank, err := religions.PrestigeRank(ctx, logger, nk, religion.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), rank)

	_, err = religions.AddPrestige(ctx, logger, nk, religion.ID, -5)
	assert.ErrorIs(t, err, ErrBadInput, "prestige is monotonic")
}

func TestReligionsSystem_InviteSweepPrunesExpired(t *testing.T) {
	px := newTestPantheonix(t, nil, &ReligionsConfig{InviteSweepSchedule: "* * * * *"}, nil, nil, nil)
	religions := px.GetReligionsSystem().(*NakamaReligionsSystem)
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	require.NoError(t, religions.InviteMember(ctx, logger, nk, "founder", religion.ID, "user1"))

	religions.Lock()
	religions.religions[religion.ID].Invites["user1"] = time.Now().Unix() - 10
	religions.lastSweepSec = time.Now().Unix() - 120
	religions.Unlock()

	// Any read path runs the due sweep.
	_, err = religions.List(ctx, logger, nk)
	require.NoError(t, err)

	updated, err := religions.Get(ctx, logger, nk, religion.ID)
	require.NoError(t, err)
	assert.NotContains(t, updated.Invites, "user1")
}
