package pantheonix

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/robfig/cron/v3"
)

const (
	religionsStorageCollection = "religions"

	defaultMaxMembers        = 50
	defaultInviteDurationSec = int64(7 * 24 * 60 * 60)

	notificationCodeReligionInvite   = 110
	notificationCodeReligionKicked   = 111
	notificationCodeReligionDisband  = 112
	notificationCodeReligionTransfer = 113
)

var inviteSweepParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NakamaReligionsSystem implements the ReligionsSystem interface using Nakama as the
// backend. Aggregates are loaded into memory on first use and mutated there as the
// authoritative copy, with storage persistence write-behind.
type NakamaReligionsSystem struct {
	config     *ReligionsConfig
	pantheonix Pantheonix

	sweepSchedule cron.Schedule

	sync.Mutex
	loaded       bool
	religions    map[string]*Religion
	namesLower   map[string]string // lowercased name -> religion id
	lastSweepSec int64
}

// NewNakamaReligionsSystem creates a new instance of the religions system with the given
// configuration.
func NewNakamaReligionsSystem(logger runtime.Logger, config *ReligionsConfig) *NakamaReligionsSystem {
	r := &NakamaReligionsSystem{
		config:     config,
		religions:  make(map[string]*Religion),
		namesLower: make(map[string]string),
	}
	if config != nil && config.InviteSweepSchedule != "" {
		schedule, err := inviteSweepParser.Parse(config.InviteSweepSchedule)
		if err != nil {
			logger.Error("Invalid invite sweep schedule %q, sweeping disabled: %v", config.InviteSweepSchedule, err)
		} else {
			r.sweepSchedule = schedule
			r.lastSweepSec = time.Now().Unix()
		}
	}
	return r
}

// SetPantheonix sets the Pantheonix instance for this religions system.
func (r *NakamaReligionsSystem) SetPantheonix(p Pantheonix) {
	r.pantheonix = p
}

// GetType returns the system type for the religions system.
func (r *NakamaReligionsSystem) GetType() SystemType {
	return SystemTypeReligions
}

// GetConfig returns the configuration for the religions system.
func (r *NakamaReligionsSystem) GetConfig() any {
	return r.config
}

func (r *NakamaReligionsSystem) maxMembers() int {
	if r.config != nil && r.config.MaxMembers > 0 {
		return r.config.MaxMembers
	}
	return defaultMaxMembers
}

func (r *NakamaReligionsSystem) inviteDurationSec() int64 {
	if r.config != nil && r.config.InviteDurationSec > 0 {
		return r.config.InviteDurationSec
	}
	return defaultInviteDurationSec
}

// ensureLoaded hydrates the in-memory aggregates from storage. Corrupt stored objects
// are logged and skipped, never fatal. Callers must hold the system lock.
func (r *NakamaReligionsSystem) ensureLoaded(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	if r.loaded {
		return nil
	}
	objects, err := listStorageAll(ctx, logger, nk, religionsStorageCollection)
	if err != nil {
		return ErrInternal
	}
	for _, object := range objects {
		religion := &Religion{}
		if err := json.Unmarshal([]byte(object.Value), religion); err != nil {
			logger.Error("Corrupt religion object %s, skipping: %v", object.Key, err)
			continue
		}
		r.religions[religion.ID] = religion
		r.namesLower[strings.ToLower(religion.Name)] = religion.ID
	}
	r.loaded = true
	return nil
}

func (r *NakamaReligionsSystem) persist(logger runtime.Logger, nk runtime.NakamaModule, religion *Religion) {
	data, err := json.Marshal(religion)
	if err != nil {
		logger.Error("Failed to marshal religion %s: %v", religion.ID, err)
		return
	}
	writeStorageAsync(logger, nk, &runtime.StorageWrite{
		Collection:      religionsStorageCollection,
		Key:             religion.ID,
		UserID:          "",
		Value:           string(data),
		PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	})
}

// sweepInvitesIfDue prunes expired invites across all aggregates when the configured
// schedule has fired since the last sweep. Expiry is also always enforced lazily at
// accept, so the sweep only bounds unclaimed invite growth. Callers must hold the
// system lock.
func (r *NakamaReligionsSystem) sweepInvitesIfDue(logger runtime.Logger, nk runtime.NakamaModule, nowSec int64) {
	if r.sweepSchedule == nil {
		return
	}
	if r.sweepSchedule.Next(time.Unix(r.lastSweepSec, 0)).Unix() > nowSec {
		return
	}
	r.lastSweepSec = nowSec
	for _, religion := range r.religions {
		changed := false
		for playerID, expirySec := range religion.Invites {
			if expirySec <= nowSec {
				delete(religion.Invites, playerID)
				changed = true
			}
		}
		if changed {
			r.persist(logger, nk, religion)
		}
	}
}

func copyReligion(religion *Religion) *Religion {
	cp := *religion
	cp.Roster = make(map[string]string, len(religion.Roster))
	for k, v := range religion.Roster {
		cp.Roster[k] = v
	}
	cp.Roles = make(map[string]*RoleDefinition, len(religion.Roles))
	for k, v := range religion.Roles {
		role := *v
		cp.Roles[k] = &role
	}
	if religion.Invites != nil {
		cp.Invites = make(map[string]int64, len(religion.Invites))
		for k, v := range religion.Invites {
			cp.Invites[k] = v
		}
	}
	return &cp
}

// permissionsOf resolves the effective permission bitset of a roster member. The
// founder role always carries every permission; a dangling role id degrades to none.
func permissionsOf(religion *Religion, playerID string) (RolePermission, bool) {
	roleID, ok := religion.Roster[playerID]
	if !ok {
		return PermissionNone, false
	}
	if roleID == RoleIDFounder {
		return PermissionAll, true
	}
	role, ok := religion.Roles[roleID]
	if !ok {
		return PermissionNone, true
	}
	return role.Permissions, true
}

func (r *NakamaReligionsSystem) notify(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID, subject string, content map[string]interface{}, code int) {
	err := nk.NotificationsSend(ctx, []*runtime.NotificationSend{{
		UserID:     userID,
		Subject:    subject,
		Content:    content,
		Code:       code,
		Persistent: true,
	}})
	if err != nil {
		logger.Error("Failed to send notification to %s: %v", userID, err)
	}
}

// Create founds a new religion with the founder as its sole member.
func (r *NakamaReligionsSystem) Create(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, founderID, name string, domain DeityDomain, public bool, description string) (*Religion, error) {
	if founderID == "" || name == "" {
		return nil, ErrBadInput
	}
	if !IsValidDeityDomain(domain) {
		return nil, ErrReligionInvalidDomain
	}
	devotion := r.pantheonix.GetDevotionSystem()
	if devotion == nil {
		return nil, ErrSystemNotAvailable
	}

	// Founding counts as joining: the founder must be unaffiliated and off cooldown.
	founderRecord, err := devotion.Get(ctx, logger, nk, founderID)
	if err != nil {
		return nil, err
	}
	if founderRecord.ReligionID != "" {
		return nil, ErrDevotionAlreadyMember
	}
	canSwitch, err := devotion.CanSwitchReligion(ctx, logger, nk, founderID)
	if err != nil {
		return nil, err
	}
	if !canSwitch {
		return nil, ErrDevotionCooldownActive
	}

	now := time.Now().Unix()

	r.Lock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		r.Unlock()
		return nil, err
	}
	if _, taken := r.namesLower[strings.ToLower(name)]; taken {
		r.Unlock()
		return nil, ErrReligionNameTaken
	}
	religion := &Religion{
		ID:          uuid.NewString(),
		Name:        name,
		Domain:      domain,
		Public:      public,
		Description: description,
		FounderID:   founderID,
		Roster:      map[string]string{founderID: RoleIDFounder},
		Roles: map[string]*RoleDefinition{
			RoleIDFounder: {Name: "Founder", Permissions: PermissionAll},
			RoleIDMember:  {Name: "Member", Permissions: PermissionNone},
		},
		CreateTimeSec: now,
	}
	r.religions[religion.ID] = religion
	r.namesLower[strings.ToLower(name)] = religion.ID
	r.persist(logger, nk, religion)
	result := copyReligion(religion)
	r.Unlock()

	if _, err := devotion.AttachReligion(ctx, logger, nk, founderID, religion.ID, true); err != nil {
		logger.Error("Failed to attach founder %s to new religion %s: %v", founderID, religion.ID, err)
	}

	r.pantheonix.SendPublisherEvents(ctx, logger, nk, founderID, []*PublisherEvent{{
		Name:      "religion_created",
		Id:        religion.ID,
		Timestamp: now,
		System:    r,
		SourceId:  religion.ID,
		Source:    result,
	}})

	return result, nil
}

// Get returns a religion by id.
func (r *NakamaReligionsSystem) Get(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) (*Religion, error) {
	if religionID == "" {
		return nil, ErrBadInput
	}
	r.Lock()
	defer r.Unlock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		return nil, err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		return nil, ErrReligionNotFound
	}
	return copyReligion(religion), nil
}

// List returns all public religions ordered by name.
func (r *NakamaReligionsSystem) List(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) ([]*Religion, error) {
	r.Lock()
	defer r.Unlock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		return nil, err
	}
	r.sweepInvitesIfDue(logger, nk, time.Now().Unix())
	result := make([]*Religion, 0, len(r.religions))
	for _, religion := range r.religions {
		if religion.Public {
			result = append(result, copyReligion(religion))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Roster returns the religion's members enriched through the player directory.
func (r *NakamaReligionsSystem) Roster(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) ([]*ReligionMember, error) {
	religion, err := r.Get(ctx, logger, nk, religionID)
	if err != nil {
		return nil, err
	}

	members := make([]*ReligionMember, 0, len(religion.Roster))
	playerIDs := make([]string, 0, len(religion.Roster))
	for playerID, roleID := range religion.Roster {
		members = append(members, &ReligionMember{PlayerID: playerID, RoleID: roleID})
		playerIDs = append(playerIDs, playerID)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].PlayerID < members[j].PlayerID })

	// Directory failures degrade to bare ids rather than failing the roster read.
	users, err := nk.UsersGetId(ctx, playerIDs, nil)
	if err != nil {
		logger.Error("Failed to enrich roster for religion %s: %v", religionID, err)
		return members, nil
	}
	byID := make(map[string]*ReligionMember, len(members))
	for _, member := range members {
		byID[member.PlayerID] = member
	}
	for _, user := range users {
		if member, ok := byID[user.Id]; ok {
			member.DisplayName = user.DisplayName
			if member.DisplayName == "" {
				member.DisplayName = user.Username
			}
			member.Online = user.Online
		}
	}
	return members, nil
}

// InviteMember records a pending invite and notifies the target player.
func (r *NakamaReligionsSystem) InviteMember(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, targetID string) error {
	if actorID == "" || religionID == "" || targetID == "" {
		return ErrBadInput
	}
	now := time.Now().Unix()

	r.Lock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		r.Unlock()
		return err
	}
	r.sweepInvitesIfDue(logger, nk, now)
	religion, ok := r.religions[religionID]
	if !ok {
		r.Unlock()
		return ErrReligionNotFound
	}
	perms, isMember := permissionsOf(religion, actorID)
	if !isMember || !perms.Has(PermissionInviteMembers) {
		r.Unlock()
		return ErrReligionPermissionDenied
	}
	if _, alreadyMember := religion.Roster[targetID]; alreadyMember {
		r.Unlock()
		return ErrDevotionAlreadyMember
	}
	if religion.Invites == nil {
		religion.Invites = make(map[string]int64)
	}
	religion.Invites[targetID] = now + r.inviteDurationSec()
	r.persist(logger, nk, religion)
	religionName := religion.Name
	r.Unlock()

	r.notify(ctx, logger, nk, targetID, "Religion invite", map[string]interface{}{
		"religion_id":   religionID,
		"religion_name": religionName,
		"inviter_id":    actorID,
	}, notificationCodeReligionInvite)
	return nil
}

// AcceptInvite resolves a pending invite and joins the player through the devotion
// system, which re-validates admission and consumes the invite.
func (r *NakamaReligionsSystem) AcceptInvite(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, religionID string) (*Religion, error) {
	if playerID == "" || religionID == "" {
		return nil, ErrBadInput
	}
	devotion := r.pantheonix.GetDevotionSystem()
	if devotion == nil {
		return nil, ErrSystemNotAvailable
	}

	now := time.Now().Unix()

	r.Lock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		r.Unlock()
		return nil, err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		r.Unlock()
		return nil, ErrReligionNotFound
	}
	expirySec, invited := religion.Invites[playerID]
	if !invited {
		r.Unlock()
		return nil, ErrReligionNotInvited
	}
	if expirySec <= now {
		delete(religion.Invites, playerID)
		r.persist(logger, nk, religion)
		r.Unlock()
		return nil, ErrReligionInviteExpired
	}
	r.Unlock()

	if _, err := devotion.JoinReligion(ctx, logger, nk, playerID, religionID); err != nil {
		return nil, err
	}
	return r.Get(ctx, logger, nk, religionID)
}

// DeclineInvite removes a pending invite without joining.
func (r *NakamaReligionsSystem) DeclineInvite(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, religionID string) error {
	if playerID == "" || religionID == "" {
		return ErrBadInput
	}
	r.Lock()
	defer r.Unlock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		return err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		return ErrReligionNotFound
	}
	if _, invited := religion.Invites[playerID]; !invited {
		return ErrReligionNotInvited
	}
	delete(religion.Invites, playerID)
	r.persist(logger, nk, religion)
	return nil
}

// AdmitMember validates admission and adds the player to the roster with the default
// role. The devotion system's join path is the only caller; it owns the membership
// record side of the transition.
func (r *NakamaReligionsSystem) AdmitMember(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID, playerID string) (*Religion, error) {
	if religionID == "" || playerID == "" {
		return nil, ErrBadInput
	}
	now := time.Now().Unix()

	r.Lock()
	defer r.Unlock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		return nil, err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		return nil, ErrReligionNotFound
	}
	if _, alreadyMember := religion.Roster[playerID]; alreadyMember {
		return nil, ErrDevotionAlreadyMember
	}
	expirySec, invited := religion.Invites[playerID]
	if invited && expirySec <= now {
		delete(religion.Invites, playerID)
		r.persist(logger, nk, religion)
		invited = false
		if !religion.Public {
			return nil, ErrReligionInviteExpired
		}
	}
	if !religion.Public && !invited {
		return nil, ErrReligionPrivate
	}
	if len(religion.Roster) >= r.maxMembers() {
		return nil, ErrReligionRosterFull
	}
	delete(religion.Invites, playerID)
	religion.Roster[playerID] = RoleIDMember
	r.persist(logger, nk, religion)
	return copyReligion(religion), nil
}

// WithdrawMember removes a voluntarily leaving player from the roster. The founder
// cannot withdraw, so a surviving religion always has at least one member.
func (r *NakamaReligionsSystem) WithdrawMember(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID, playerID string) error {
	if religionID == "" || playerID == "" {
		return ErrBadInput
	}
	r.Lock()
	defer r.Unlock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		return err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		return ErrReligionNotFound
	}
	if _, isMember := religion.Roster[playerID]; !isMember {
		return ErrReligionNotRosterMember
	}
	if religion.FounderID == playerID {
		return ErrReligionFounderLeave
	}
	delete(religion.Roster, playerID)
	r.persist(logger, nk, religion)
	return nil
}

// Kick removes a member involuntarily. The target's membership record and blessing
// unlocks are cleared through the devotion system without starting their cooldown.
func (r *NakamaReligionsSystem) Kick(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, targetID string) error {
	if actorID == "" || religionID == "" || targetID == "" {
		return ErrBadInput
	}
	if actorID == targetID {
		return ErrReligionCannotKickSelf
	}
	devotion := r.pantheonix.GetDevotionSystem()
	if devotion == nil {
		return ErrSystemNotAvailable
	}

	r.Lock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		r.Unlock()
		return err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		r.Unlock()
		return ErrReligionNotFound
	}
	perms, isMember := permissionsOf(religion, actorID)
	if !isMember || !perms.Has(PermissionKickMembers) {
		r.Unlock()
		return ErrReligionPermissionDenied
	}
	if _, targetIsMember := religion.Roster[targetID]; !targetIsMember {
		r.Unlock()
		return ErrReligionNotRosterMember
	}
	if religion.FounderID == targetID {
		r.Unlock()
		return ErrReligionKickFounder
	}
	delete(religion.Roster, targetID)
	r.persist(logger, nk, religion)
	religionName := religion.Name
	r.Unlock()

	if err := devotion.ClearReligion(ctx, logger, nk, targetID, false); err != nil {
		logger.Error("Failed to clear membership record for kicked player %s: %v", targetID, err)
	}

	r.notify(ctx, logger, nk, targetID, "Removed from religion", map[string]interface{}{
		"religion_id":   religionID,
		"religion_name": religionName,
	}, notificationCodeReligionKicked)

	r.pantheonix.SendPublisherEvents(ctx, logger, nk, targetID, []*PublisherEvent{{
		Name:      "religion_kicked",
		Id:        religionID,
		Timestamp: time.Now().Unix(),
		System:    r,
		SourceId:  religionID,
	}})
	return nil
}

// TransferFounder atomically swaps the founder role to another roster member.
func (r *NakamaReligionsSystem) TransferFounder(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, newFounderID string) error {
	if actorID == "" || religionID == "" || newFounderID == "" {
		return ErrBadInput
	}
	r.Lock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		r.Unlock()
		return err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		r.Unlock()
		return ErrReligionNotFound
	}
	if religion.FounderID != actorID {
		r.Unlock()
		return ErrReligionNotFounder
	}
	if _, isMember := religion.Roster[newFounderID]; !isMember {
		r.Unlock()
		return ErrReligionNotRosterMember
	}
	if newFounderID == actorID {
		r.Unlock()
		return ErrBadInput
	}
	religion.FounderID = newFounderID
	religion.Roster[newFounderID] = RoleIDFounder
	religion.Roster[actorID] = RoleIDMember
	r.persist(logger, nk, religion)
	religionName := religion.Name
	r.Unlock()

	r.notify(ctx, logger, nk, newFounderID, "Religion leadership transferred", map[string]interface{}{
		"religion_id":   religionID,
		"religion_name": religionName,
	}, notificationCodeReligionTransfer)
	return nil
}

// Disband deletes the religion, detaching it from any civilization, resetting its
// blessing unlocks and clearing every member's record.
func (r *NakamaReligionsSystem) Disband(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID string) error {
	if actorID == "" || religionID == "" {
		return ErrBadInput
	}
	devotion := r.pantheonix.GetDevotionSystem()
	if devotion == nil {
		return ErrSystemNotAvailable
	}

	r.Lock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		r.Unlock()
		return err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		r.Unlock()
		return ErrReligionNotFound
	}
	if religion.FounderID != actorID {
		r.Unlock()
		return ErrReligionNotFounder
	}
	r.Unlock()

	// Unseat from any civilization first. Disbanding a civilization founder religion
	// cascades into the civilization's own disband.
	if civilizations := r.pantheonix.GetCivilizationsSystem(); civilizations != nil {
		if err := civilizations.DetachReligion(ctx, logger, nk, religionID); err != nil {
			return err
		}
	}

	r.Lock()
	religion, ok = r.religions[religionID]
	if !ok {
		r.Unlock()
		return ErrReligionNotFound
	}
	members := make([]string, 0, len(religion.Roster))
	for playerID := range religion.Roster {
		members = append(members, playerID)
	}
	sort.Strings(members)
	religionName := religion.Name
	delete(r.religions, religionID)
	delete(r.namesLower, strings.ToLower(religionName))
	deleteStorageAsync(logger, nk, &runtime.StorageDelete{
		Collection: religionsStorageCollection,
		Key:        religionID,
		UserID:     "",
	})
	r.Unlock()

	for _, playerID := range members {
		if err := devotion.ClearReligion(ctx, logger, nk, playerID, false); err != nil {
			logger.Error("Failed to clear membership record for player %s on disband: %v", playerID, err)
		}
		if playerID != actorID {
			r.notify(ctx, logger, nk, playerID, "Religion disbanded", map[string]interface{}{
				"religion_id":   religionID,
				"religion_name": religionName,
			}, notificationCodeReligionDisband)
		}
	}

	if blessings := r.pantheonix.GetBlessingsSystem(); blessings != nil {
		if err := blessings.ResetOwner(ctx, logger, nk, religionID, false, false); err != nil {
			logger.Error("Failed to reset blessing unlocks for disbanded religion %s: %v", religionID, err)
		}
	}

	r.pantheonix.SendPublisherEvents(ctx, logger, nk, actorID, []*PublisherEvent{{
		Name:      "religion_disbanded",
		Id:        religionID,
		Timestamp: time.Now().Unix(),
		System:    r,
		SourceId:  religionID,
	}})
	return nil
}

// mutate applies fn to the religion under the lock after resolving the actor's
// permission, then persists. Shared by the small metadata and role edits.
func (r *NakamaReligionsSystem) mutate(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID string, perm RolePermission, fn func(religion *Religion) error) error {
	if actorID == "" || religionID == "" {
		return ErrBadInput
	}
	r.Lock()
	defer r.Unlock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		return err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		return ErrReligionNotFound
	}
	perms, isMember := permissionsOf(religion, actorID)
	if !isMember || !perms.Has(perm) {
		return ErrReligionPermissionDenied
	}
	if err := fn(religion); err != nil {
		return err
	}
	r.persist(logger, nk, religion)
	return nil
}

// EditDescription updates the religion description.
func (r *NakamaReligionsSystem) EditDescription(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, description string) error {
	return r.mutate(ctx, logger, nk, actorID, religionID, PermissionEditDescription, func(religion *Religion) error {
		religion.Description = description
		return nil
	})
}

// SetVisibility toggles the religion between public and private.
func (r *NakamaReligionsSystem) SetVisibility(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID string, public bool) error {
	return r.mutate(ctx, logger, nk, actorID, religionID, PermissionEditDescription, func(religion *Religion) error {
		religion.Public = public
		return nil
	})
}

// CreateRole adds or replaces a named permission set.
func (r *NakamaReligionsSystem) CreateRole(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, roleID, name string, permissions RolePermission) error {
	if roleID == "" || name == "" {
		return ErrBadInput
	}
	if roleID == RoleIDFounder || roleID == RoleIDMember {
		return ErrReligionRoleReserved
	}
	return r.mutate(ctx, logger, nk, actorID, religionID, PermissionManageRoles, func(religion *Religion) error {
		religion.Roles[roleID] = &RoleDefinition{Name: name, Permissions: permissions}
		return nil
	})
}

// DeleteRole removes a role, reassigning its holders to the default member role.
func (r *NakamaReligionsSystem) DeleteRole(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, roleID string) error {
	if roleID == RoleIDFounder || roleID == RoleIDMember {
		return ErrReligionRoleReserved
	}
	return r.mutate(ctx, logger, nk, actorID, religionID, PermissionManageRoles, func(religion *Religion) error {
		if _, ok := religion.Roles[roleID]; !ok {
			return ErrReligionRoleNotFound
		}
		delete(religion.Roles, roleID)
		for playerID, memberRole := range religion.Roster {
			if memberRole == roleID {
				religion.Roster[playerID] = RoleIDMember
			}
		}
		return nil
	})
}

// ModifyRolePermissions replaces a role's permission set.
func (r *NakamaReligionsSystem) ModifyRolePermissions(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, roleID string, permissions RolePermission) error {
	if roleID == RoleIDFounder || roleID == RoleIDMember {
		return ErrReligionRoleReserved
	}
	return r.mutate(ctx, logger, nk, actorID, religionID, PermissionManageRoles, func(religion *Religion) error {
		role, ok := religion.Roles[roleID]
		if !ok {
			return ErrReligionRoleNotFound
		}
		role.Permissions = permissions
		return nil
	})
}

// AssignRole changes a member's role. The founder role is excluded in both directions:
// it can only move via TransferFounder.
func (r *NakamaReligionsSystem) AssignRole(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, targetID, roleID string) error {
	if targetID == "" || roleID == "" {
		return ErrBadInput
	}
	if roleID == RoleIDFounder {
		return ErrReligionRoleReserved
	}
	return r.mutate(ctx, logger, nk, actorID, religionID, PermissionManageRoles, func(religion *Religion) error {
		if _, isMember := religion.Roster[targetID]; !isMember {
			return ErrReligionNotRosterMember
		}
		if religion.FounderID == targetID {
			return ErrReligionRoleReserved
		}
		if _, ok := religion.Roles[roleID]; !ok {
			return ErrReligionRoleNotFound
		}
		religion.Roster[targetID] = roleID
		return nil
	})
}

// AddPrestige increments the religion's prestige counter.
func (r *NakamaReligionsSystem) AddPrestige(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string, amount int64) (int64, error) {
	if religionID == "" || amount < 0 {
		return 0, ErrBadInput
	}
	r.Lock()
	defer r.Unlock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		return 0, err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		return 0, ErrReligionNotFound
	}
	religion.Prestige += amount
	r.persist(logger, nk, religion)
	return religion.Prestige, nil
}

// PrestigeRank derives the religion's prestige rank via the blessings threshold table.
func (r *NakamaReligionsSystem) PrestigeRank(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) (int32, error) {
	blessings := r.pantheonix.GetBlessingsSystem()
	if blessings == nil {
		return 0, ErrSystemNotAvailable
	}
	religion, err := r.Get(ctx, logger, nk, religionID)
	if err != nil {
		return 0, err
	}
	return blessings.PrestigeRank(religion.Prestige), nil
}

// HasPermission reports whether the player's role in the religion grants the permission.
func (r *NakamaReligionsSystem) HasPermission(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID, playerID string, perm RolePermission) (bool, error) {
	if religionID == "" || playerID == "" {
		return false, ErrBadInput
	}
	r.Lock()
	defer r.Unlock()
	if err := r.ensureLoaded(ctx, logger, nk); err != nil {
		return false, err
	}
	religion, ok := r.religions[religionID]
	if !ok {
		return false, ErrReligionNotFound
	}
	perms, isMember := permissionsOf(religion, playerID)
	if !isMember {
		return false, ErrReligionNotRosterMember
	}
	return perms.Has(perm), nil
}

// Flush persists every cached religion aggregate synchronously.
func (r *NakamaReligionsSystem) Flush(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	r.Lock()
	writes := make([]*runtime.StorageWrite, 0, len(r.religions))
	for _, religion := range r.religions {
		data, err := json.Marshal(religion)
		if err != nil {
			logger.Error("Failed to marshal religion %s for flush: %v", religion.ID, err)
			continue
		}
		writes = append(writes, &runtime.StorageWrite{
			Collection:      religionsStorageCollection,
			Key:             religion.ID,
			UserID:          "",
			Value:           string(data),
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		})
	}
	r.Unlock()

	if len(writes) == 0 {
		return nil
	}
	if _, err := nk.StorageWrite(ctx, writes); err != nil {
		logger.Error("Failed to flush religion aggregates: %v", err)
		return err
	}
	return nil
}
