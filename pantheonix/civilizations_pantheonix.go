package pantheonix

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/robfig/cron/v3"
)

const (
	civilizationsStorageCollection = "civilizations"

	notificationCodeCivilizationInvite  = 120
	notificationCodeCivilizationKicked  = 121
	notificationCodeCivilizationDisband = 122
)

// NakamaCivilizationsSystem implements the CivilizationsSystem interface using Nakama
// as the backend. It mirrors the religions system one level up: aggregates cached in
// memory, persisted write-behind, invites expired lazily with an optional sweep.
//
// Lock ordering: this system's lock is always taken before the religions system's, so
// member religion lookups are safe while the civilization lock is held.
type NakamaCivilizationsSystem struct {
	config     *CivilizationsConfig
	pantheonix Pantheonix

	sweepSchedule cron.Schedule

	sync.Mutex
	loaded         bool
	civilizations  map[string]*Civilization
	namesLower     map[string]string // lowercased name -> civilization id
	seatByReligion map[string]string // religion id -> civilization id
	lastSweepSec   int64
}

// NewNakamaCivilizationsSystem creates a new instance of the civilizations system with
// the given configuration. The seat capacity must match the deity domain cardinality;
// one seat exists per domain, so any other value is a misconfiguration and refused.
func NewNakamaCivilizationsSystem(logger runtime.Logger, config *CivilizationsConfig) (*NakamaCivilizationsSystem, error) {
	if config == nil {
		config = &CivilizationsConfig{}
	}
	if config.MaxReligions == 0 {
		config.MaxReligions = len(DeityDomains())
	}
	if config.MaxReligions != len(DeityDomains()) {
		return nil, ErrCivilizationBadCapacity
	}
	c := &NakamaCivilizationsSystem{
		config:         config,
		civilizations:  make(map[string]*Civilization),
		namesLower:     make(map[string]string),
		seatByReligion: make(map[string]string),
	}
	if config.InviteSweepSchedule != "" {
		schedule, err := inviteSweepParser.Parse(config.InviteSweepSchedule)
		if err != nil {
			logger.Error("Invalid invite sweep schedule %q, sweeping disabled: %v", config.InviteSweepSchedule, err)
		} else {
			c.sweepSchedule = schedule
			c.lastSweepSec = time.Now().Unix()
		}
	}
	return c, nil
}

// SetPantheonix sets the Pantheonix instance for this civilizations system.
func (c *NakamaCivilizationsSystem) SetPantheonix(p Pantheonix) {
	c.pantheonix = p
}

// GetType returns the system type for the civilizations system.
func (c *NakamaCivilizationsSystem) GetType() SystemType {
	return SystemTypeCivilizations
}

// GetConfig returns the configuration for the civilizations system.
func (c *NakamaCivilizationsSystem) GetConfig() any {
	return c.config
}

func (c *NakamaCivilizationsSystem) inviteDurationSec() int64 {
	if c.config != nil && c.config.InviteDurationSec > 0 {
		return c.config.InviteDurationSec
	}
	return defaultInviteDurationSec
}

// ensureLoaded hydrates the in-memory aggregates from storage. Callers must hold the
// system lock.
func (c *NakamaCivilizationsSystem) ensureLoaded(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	if c.loaded {
		return nil
	}
	objects, err := listStorageAll(ctx, logger, nk, civilizationsStorageCollection)
	if err != nil {
		return ErrInternal
	}
	for _, object := range objects {
		civilization := &Civilization{}
		if err := json.Unmarshal([]byte(object.Value), civilization); err != nil {
			logger.Error("Corrupt civilization object %s, skipping: %v", object.Key, err)
			continue
		}
		c.civilizations[civilization.ID] = civilization
		c.namesLower[strings.ToLower(civilization.Name)] = civilization.ID
		for _, religionID := range civilization.Members {
			c.seatByReligion[religionID] = civilization.ID
		}
	}
	c.loaded = true
	return nil
}

func (c *NakamaCivilizationsSystem) persist(logger runtime.Logger, nk runtime.NakamaModule, civilization *Civilization) {
	data, err := json.Marshal(civilization)
	if err != nil {
		logger.Error("Failed to marshal civilization %s: %v", civilization.ID, err)
		return
	}
	writeStorageAsync(logger, nk, &runtime.StorageWrite{
		Collection:      civilizationsStorageCollection,
		Key:             civilization.ID,
		UserID:          "",
		Value:           string(data),
		PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	})
}

func (c *NakamaCivilizationsSystem) sweepInvitesIfDue(logger runtime.Logger, nk runtime.NakamaModule, nowSec int64) {
	if c.sweepSchedule == nil {
		return
	}
	if c.sweepSchedule.Next(time.Unix(c.lastSweepSec, 0)).Unix() > nowSec {
		return
	}
	c.lastSweepSec = nowSec
	for _, civilization := range c.civilizations {
		changed := false
		for religionID, expirySec := range civilization.Invites {
			if expirySec <= nowSec {
				delete(civilization.Invites, religionID)
				changed = true
			}
		}
		if changed {
			c.persist(logger, nk, civilization)
		}
	}
}

func copyCivilization(civilization *Civilization) *Civilization {
	cp := *civilization
	cp.Members = append([]string(nil), civilization.Members...)
	if civilization.Invites != nil {
		cp.Invites = make(map[string]int64, len(civilization.Invites))
		for k, v := range civilization.Invites {
			cp.Invites[k] = v
		}
	}
	return &cp
}

// actsForReligion checks the actor holds the manage-civilization permission in the
// religion they are acting for.
func (c *NakamaCivilizationsSystem) actsForReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID, actorID string) error {
	religions := c.pantheonix.GetReligionsSystem()
	if religions == nil {
		return ErrSystemNotAvailable
	}
	ok, err := religions.HasPermission(ctx, logger, nk, religionID, actorID, PermissionManageCivilization)
	if err != nil {
		if errors.Is(err, ErrReligionNotRosterMember) {
			return ErrCivilizationActorNotMember
		}
		return err
	}
	if !ok {
		return ErrReligionPermissionDenied
	}
	return nil
}

// notifyReligionFounder routes a notification about a religion-level event to the
// player leading that religion.
func (c *NakamaCivilizationsSystem) notifyReligionFounder(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID, subject string, content map[string]interface{}, code int) {
	religions := c.pantheonix.GetReligionsSystem()
	if religions == nil {
		return
	}
	religion, err := religions.Get(ctx, logger, nk, religionID)
	if err != nil {
		logger.Error("Failed to resolve religion %s for notification: %v", religionID, err)
		return
	}
	err = nk.NotificationsSend(ctx, []*runtime.NotificationSend{{
		UserID:     religion.FounderID,
		Subject:    subject,
		Content:    content,
		Code:       code,
		Persistent: true,
	}})
	if err != nil {
		logger.Error("Failed to send notification to %s: %v", religion.FounderID, err)
	}
}

// Create founds a civilization with the actor's religion seated as founder member.
func (c *NakamaCivilizationsSystem) Create(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, name, icon, description string) (*Civilization, error) {
	if actorID == "" || religionID == "" || name == "" {
		return nil, ErrBadInput
	}
	if err := c.actsForReligion(ctx, logger, nk, religionID, actorID); err != nil {
		return nil, err
	}

	now := time.Now().Unix()

	c.Lock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		c.Unlock()
		return nil, err
	}
	if _, seated := c.seatByReligion[religionID]; seated {
		c.Unlock()
		return nil, ErrCivilizationAlreadyMember
	}
	if _, taken := c.namesLower[strings.ToLower(name)]; taken {
		c.Unlock()
		return nil, ErrCivilizationNameTaken
	}
	civilization := &Civilization{
		ID:                uuid.NewString(),
		Name:              name,
		Icon:              icon,
		Description:       description,
		FounderReligionID: religionID,
		Members:           []string{religionID},
		CreateTimeSec:     now,
	}
	c.civilizations[civilization.ID] = civilization
	c.namesLower[strings.ToLower(name)] = civilization.ID
	c.seatByReligion[religionID] = civilization.ID
	c.persist(logger, nk, civilization)
	result := copyCivilization(civilization)
	c.Unlock()

	c.pantheonix.SendPublisherEvents(ctx, logger, nk, actorID, []*PublisherEvent{{
		Name:      "civilization_created",
		Id:        civilization.ID,
		Timestamp: now,
		System:    c,
		SourceId:  civilization.ID,
		Source:    result,
	}})

	return result, nil
}

// Get returns a civilization by id.
func (c *NakamaCivilizationsSystem) Get(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, civilizationID string) (*Civilization, error) {
	if civilizationID == "" {
		return nil, ErrBadInput
	}
	c.Lock()
	defer c.Unlock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		return nil, err
	}
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		return nil, ErrCivilizationNotFound
	}
	return copyCivilization(civilization), nil
}

// List returns all civilizations ordered by name.
func (c *NakamaCivilizationsSystem) List(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) ([]*Civilization, error) {
	c.Lock()
	defer c.Unlock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		return nil, err
	}
	c.sweepInvitesIfDue(logger, nk, time.Now().Unix())
	result := make([]*Civilization, 0, len(c.civilizations))
	for _, civilization := range c.civilizations {
		result = append(result, copyCivilization(civilization))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// InviteReligion records a pending invite for a religion. Only the founder religion's
// civilization managers may invite.
func (c *NakamaCivilizationsSystem) InviteReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, religionID string) error {
	if actorID == "" || civilizationID == "" || religionID == "" {
		return ErrBadInput
	}
	religions := c.pantheonix.GetReligionsSystem()
	if religions == nil {
		return ErrSystemNotAvailable
	}
	// Target religion must exist before an invite is recorded against it.
	if _, err := religions.Get(ctx, logger, nk, religionID); err != nil {
		return err
	}

	now := time.Now().Unix()

	c.Lock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		c.Unlock()
		return err
	}
	c.sweepInvitesIfDue(logger, nk, now)
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		c.Unlock()
		return ErrCivilizationNotFound
	}
	founderReligionID := civilization.FounderReligionID
	c.Unlock()

	if err := c.actsForReligion(ctx, logger, nk, founderReligionID, actorID); err != nil {
		if errors.Is(err, ErrCivilizationActorNotMember) {
			return ErrCivilizationNotFounder
		}
		return err
	}

	c.Lock()
	civilization, ok = c.civilizations[civilizationID]
	if !ok {
		c.Unlock()
		return ErrCivilizationNotFound
	}
	if _, seated := c.seatByReligion[religionID]; seated {
		c.Unlock()
		return ErrCivilizationAlreadyMember
	}
	if civilization.Invites == nil {
		civilization.Invites = make(map[string]int64)
	}
	civilization.Invites[religionID] = now + c.inviteDurationSec()
	c.persist(logger, nk, civilization)
	civilizationName := civilization.Name
	c.Unlock()

	c.notifyReligionFounder(ctx, logger, nk, religionID, "Civilization invite", map[string]interface{}{
		"civilization_id":   civilizationID,
		"civilization_name": civilizationName,
	}, notificationCodeCivilizationInvite)
	return nil
}

// AcceptInvite seats the religion. All joining constraints are re-validated here at
// accept time: an invite sent while a seat was free gives no reservation.
func (c *NakamaCivilizationsSystem) AcceptInvite(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, religionID string) (*Civilization, error) {
	if actorID == "" || civilizationID == "" || religionID == "" {
		return nil, ErrBadInput
	}
	if err := c.actsForReligion(ctx, logger, nk, religionID, actorID); err != nil {
		return nil, err
	}
	religions := c.pantheonix.GetReligionsSystem()
	if religions == nil {
		return nil, ErrSystemNotAvailable
	}
	joining, err := religions.Get(ctx, logger, nk, religionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()

	c.Lock()
	defer c.Unlock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		return nil, err
	}
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		return nil, ErrCivilizationNotFound
	}
	expirySec, invited := civilization.Invites[religionID]
	if !invited {
		return nil, ErrCivilizationNotInvited
	}
	if expirySec <= now {
		delete(civilization.Invites, religionID)
		c.persist(logger, nk, civilization)
		return nil, ErrCivilizationInviteExpired
	}
	if _, seated := c.seatByReligion[religionID]; seated {
		return nil, ErrCivilizationAlreadyMember
	}
	if len(civilization.Members) >= c.config.MaxReligions {
		return nil, ErrCivilizationFull
	}
	// One seat per deity domain. The religions lock nests inside this one, so member
	// domains can be resolved here without releasing.
	for _, memberID := range civilization.Members {
		member, err := religions.Get(ctx, logger, nk, memberID)
		if err != nil {
			logger.Error("Failed to resolve member religion %s of civilization %s: %v", memberID, civilizationID, err)
			return nil, ErrInternal
		}
		if member.Domain == joining.Domain {
			return nil, ErrCivilizationDomainTaken
		}
	}
	delete(civilization.Invites, religionID)
	civilization.Members = append(civilization.Members, religionID)
	c.seatByReligion[religionID] = civilizationID
	c.persist(logger, nk, civilization)
	return copyCivilization(civilization), nil
}

// DeclineInvite removes a pending invite without seating the religion.
func (c *NakamaCivilizationsSystem) DeclineInvite(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, religionID string) error {
	if actorID == "" || civilizationID == "" || religionID == "" {
		return ErrBadInput
	}
	if err := c.actsForReligion(ctx, logger, nk, religionID, actorID); err != nil {
		return err
	}
	c.Lock()
	defer c.Unlock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		return err
	}
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		return ErrCivilizationNotFound
	}
	if _, invited := civilization.Invites[religionID]; !invited {
		return ErrCivilizationNotInvited
	}
	delete(civilization.Invites, religionID)
	c.persist(logger, nk, civilization)
	return nil
}

// requireFounderActor resolves the civilization and checks the actor manages its
// founder religion. Callers must not hold the system lock.
func (c *NakamaCivilizationsSystem) requireFounderActor(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, civilizationID, actorID string) error {
	c.Lock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		c.Unlock()
		return err
	}
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		c.Unlock()
		return ErrCivilizationNotFound
	}
	founderReligionID := civilization.FounderReligionID
	c.Unlock()

	if err := c.actsForReligion(ctx, logger, nk, founderReligionID, actorID); err != nil {
		if errors.Is(err, ErrCivilizationActorNotMember) {
			return ErrCivilizationNotFounder
		}
		return err
	}
	return nil
}

// Kick unseats a member religion. The founder religion can never be kicked.
func (c *NakamaCivilizationsSystem) Kick(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, religionID string) error {
	if actorID == "" || civilizationID == "" || religionID == "" {
		return ErrBadInput
	}
	if err := c.requireFounderActor(ctx, logger, nk, civilizationID, actorID); err != nil {
		return err
	}

	c.Lock()
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		c.Unlock()
		return ErrCivilizationNotFound
	}
	if civilization.FounderReligionID == religionID {
		c.Unlock()
		return ErrCivilizationKickFounder
	}
	if !c.unseat(civilization, religionID) {
		c.Unlock()
		return ErrCivilizationNotMember
	}
	c.persist(logger, nk, civilization)
	civilizationName := civilization.Name
	c.Unlock()

	c.notifyReligionFounder(ctx, logger, nk, religionID, "Removed from civilization", map[string]interface{}{
		"civilization_id":   civilizationID,
		"civilization_name": civilizationName,
	}, notificationCodeCivilizationKicked)
	return nil
}

// unseat removes a member seat and its index entry. Callers must hold the system lock.
func (c *NakamaCivilizationsSystem) unseat(civilization *Civilization, religionID string) bool {
	for i, memberID := range civilization.Members {
		if memberID == religionID {
			civilization.Members = append(civilization.Members[:i], civilization.Members[i+1:]...)
			delete(c.seatByReligion, religionID)
			return true
		}
	}
	return false
}

// disbandLocked removes the aggregate and every seat index entry, returning the former
// member religion ids. Callers must hold the system lock.
func (c *NakamaCivilizationsSystem) disbandLocked(logger runtime.Logger, nk runtime.NakamaModule, civilization *Civilization) []string {
	members := append([]string(nil), civilization.Members...)
	for _, memberID := range members {
		delete(c.seatByReligion, memberID)
	}
	delete(c.civilizations, civilization.ID)
	delete(c.namesLower, strings.ToLower(civilization.Name))
	deleteStorageAsync(logger, nk, &runtime.StorageDelete{
		Collection: civilizationsStorageCollection,
		Key:        civilization.ID,
		UserID:     "",
	})
	return members
}

// Disband deletes the civilization and unseats every member religion.
func (c *NakamaCivilizationsSystem) Disband(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID string) error {
	if actorID == "" || civilizationID == "" {
		return ErrBadInput
	}
	if err := c.requireFounderActor(ctx, logger, nk, civilizationID, actorID); err != nil {
		return err
	}

	c.Lock()
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		c.Unlock()
		return ErrCivilizationNotFound
	}
	civilizationName := civilization.Name
	founderReligionID := civilization.FounderReligionID
	members := c.disbandLocked(logger, nk, civilization)
	c.Unlock()

	for _, memberID := range members {
		if memberID == founderReligionID {
			continue
		}
		c.notifyReligionFounder(ctx, logger, nk, memberID, "Civilization disbanded", map[string]interface{}{
			"civilization_id":   civilizationID,
			"civilization_name": civilizationName,
		}, notificationCodeCivilizationDisband)
	}

	c.pantheonix.SendPublisherEvents(ctx, logger, nk, actorID, []*PublisherEvent{{
		Name:      "civilization_disbanded",
		Id:        civilizationID,
		Timestamp: time.Now().Unix(),
		System:    c,
		SourceId:  civilizationID,
	}})
	return nil
}

// EditIcon updates the civilization icon.
func (c *NakamaCivilizationsSystem) EditIcon(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, icon string) error {
	return c.editLocked(ctx, logger, nk, actorID, civilizationID, func(civilization *Civilization) {
		civilization.Icon = icon
	})
}

// EditDescription updates the civilization description.
func (c *NakamaCivilizationsSystem) EditDescription(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID, description string) error {
	return c.editLocked(ctx, logger, nk, actorID, civilizationID, func(civilization *Civilization) {
		civilization.Description = description
	})
}

func (c *NakamaCivilizationsSystem) editLocked(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, civilizationID string, fn func(civilization *Civilization)) error {
	if actorID == "" || civilizationID == "" {
		return ErrBadInput
	}
	if err := c.requireFounderActor(ctx, logger, nk, civilizationID, actorID); err != nil {
		return err
	}
	c.Lock()
	defer c.Unlock()
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		return ErrCivilizationNotFound
	}
	fn(civilization)
	c.persist(logger, nk, civilization)
	return nil
}

// CivilizationOfReligion returns the civilization the religion is seated in, or nil.
func (c *NakamaCivilizationsSystem) CivilizationOfReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) (*Civilization, error) {
	if religionID == "" {
		return nil, ErrBadInput
	}
	c.Lock()
	defer c.Unlock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		return nil, err
	}
	civilizationID, seated := c.seatByReligion[religionID]
	if !seated {
		return nil, nil
	}
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		return nil, nil
	}
	return copyCivilization(civilization), nil
}

// DetachReligion removes the religion's seat wherever it holds one. A founder religion
// seat takes the whole civilization down with it.
func (c *NakamaCivilizationsSystem) DetachReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) error {
	if religionID == "" {
		return ErrBadInput
	}

	c.Lock()
	if err := c.ensureLoaded(ctx, logger, nk); err != nil {
		c.Unlock()
		return err
	}
	civilizationID, seated := c.seatByReligion[religionID]
	if !seated {
		c.Unlock()
		return nil
	}
	civilization, ok := c.civilizations[civilizationID]
	if !ok {
		delete(c.seatByReligion, religionID)
		c.Unlock()
		return nil
	}
	if civilization.FounderReligionID == religionID {
		civilizationName := civilization.Name
		members := c.disbandLocked(logger, nk, civilization)
		c.Unlock()
		for _, memberID := range members {
			if memberID == religionID {
				continue
			}
			c.notifyReligionFounder(ctx, logger, nk, memberID, "Civilization disbanded", map[string]interface{}{
				"civilization_id":   civilizationID,
				"civilization_name": civilizationName,
			}, notificationCodeCivilizationDisband)
		}
		return nil
	}
	c.unseat(civilization, religionID)
	c.persist(logger, nk, civilization)
	c.Unlock()
	return nil
}

// Flush persists every cached civilization aggregate synchronously.
func (c *NakamaCivilizationsSystem) Flush(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	c.Lock()
	writes := make([]*runtime.StorageWrite, 0, len(c.civilizations))
	for _, civilization := range c.civilizations {
		data, err := json.Marshal(civilization)
		if err != nil {
			logger.Error("Failed to marshal civilization %s for flush: %v", civilization.ID, err)
			continue
		}
		writes = append(writes, &runtime.StorageWrite{
			Collection:      civilizationsStorageCollection,
			Key:             civilization.ID,
			UserID:          "",
			Value:           string(data),
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		})
	}
	c.Unlock()

	if len(writes) == 0 {
		return nil
	}
	if _, err := nk.StorageWrite(ctx, writes); err != nil {
		logger.Error("Failed to flush civilization aggregates: %v", err)
		return err
	}
	return nil
}
