package pantheonix

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	devotionStorageCollection = "devotion"
	playerDevotionStorageKey  = "player_devotion"

	defaultSwitchCooldownSec = int64(24 * 60 * 60)
)

// NakamaDevotionSystem implements the DevotionSystem interface using Nakama as the
// backend. Records are cached in memory as the authoritative copy and persisted
// write-behind; per-player commands arrive serialized from the game server tick.
type NakamaDevotionSystem struct {
	config     *DevotionConfig
	pantheonix Pantheonix

	sync.Mutex
	records map[string]*PlayerDevotion
}

// NewNakamaDevotionSystem creates a new instance of the devotion system with the given
// configuration.
func NewNakamaDevotionSystem(config *DevotionConfig) *NakamaDevotionSystem {
	return &NakamaDevotionSystem{
		config:  config,
		records: make(map[string]*PlayerDevotion),
	}
}

// SetPantheonix sets the Pantheonix instance for this devotion system.
func (d *NakamaDevotionSystem) SetPantheonix(p Pantheonix) {
	d.pantheonix = p
}

// GetType returns the system type for the devotion system.
func (d *NakamaDevotionSystem) GetType() SystemType {
	return SystemTypeDevotion
}

// GetConfig returns the configuration for the devotion system.
func (d *NakamaDevotionSystem) GetConfig() any {
	return d.config
}

func (d *NakamaDevotionSystem) cooldownSec() int64 {
	if d.config != nil && d.config.SwitchCooldownSec > 0 {
		return d.config.SwitchCooldownSec
	}
	return defaultSwitchCooldownSec
}

// record returns the cached devotion record for the player, loading it from storage on
// first access. Malformed stored bytes surface as an absent record with an error log,
// never a crash. Callers must hold the system lock.
func (d *NakamaDevotionSystem) record(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (*PlayerDevotion, error) {
	if rec, ok := d.records[playerID]; ok {
		return rec, nil
	}

	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: devotionStorageCollection,
		Key:        playerDevotionStorageKey,
		UserID:     playerID,
	}})
	if err != nil {
		logger.Error("Failed to read devotion record from storage: %v", err)
		return nil, ErrInternal
	}

	rec := &PlayerDevotion{PlayerID: playerID}
	if len(objects) > 0 {
		if err := json.Unmarshal([]byte(objects[0].Value), rec); err != nil {
			logger.Error("Corrupt devotion record for player %s, defaulting to empty: %v", playerID, err)
			rec = &PlayerDevotion{PlayerID: playerID}
		}
	}
	rec.PlayerID = playerID
	d.records[playerID] = rec
	return rec, nil
}

func (d *NakamaDevotionSystem) persist(logger runtime.Logger, nk runtime.NakamaModule, rec *PlayerDevotion) {
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Error("Failed to marshal devotion record: %v", err)
		return
	}
	writeStorageAsync(logger, nk, &runtime.StorageWrite{
		Collection:      devotionStorageCollection,
		Key:             playerDevotionStorageKey,
		UserID:          rec.PlayerID,
		Value:           string(data),
		PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	})
}

func copyDevotion(rec *PlayerDevotion) *PlayerDevotion {
	cp := *rec
	if rec.SwitchHistory != nil {
		cp.SwitchHistory = make([]*ReligionSwitch, len(rec.SwitchHistory))
		for i, s := range rec.SwitchHistory {
			sc := *s
			cp.SwitchHistory[i] = &sc
		}
	}
	return &cp
}

// Get returns the player's devotion record, creating an empty one on first lookup.
func (d *NakamaDevotionSystem) Get(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (*PlayerDevotion, error) {
	if playerID == "" {
		return nil, ErrBadInput
	}
	d.Lock()
	defer d.Unlock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}
	return copyDevotion(rec), nil
}

// JoinReligion places the player into the given religion.
func (d *NakamaDevotionSystem) JoinReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, religionID string) (*PlayerDevotion, error) {
	if playerID == "" || religionID == "" {
		return nil, ErrBadInput
	}
	religions := d.pantheonix.GetReligionsSystem()
	if religions == nil {
		return nil, ErrSystemNotAvailable
	}

	now := time.Now().Unix()

	// Validate before touching the roster. Per-player commands are serialized by the
	// server tick, so the check remains valid when admission runs below.
	d.Lock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		d.Unlock()
		return nil, err
	}
	if rec.ReligionID != "" {
		d.Unlock()
		return nil, ErrDevotionAlreadyMember
	}
	if rec.LastSwitchSec > 0 && now-rec.LastSwitchSec < d.cooldownSec() {
		d.Unlock()
		return nil, ErrDevotionCooldownActive
	}
	d.Unlock()

	religion, err := religions.AdmitMember(ctx, logger, nk, religionID, playerID)
	if err != nil {
		return nil, err
	}

	result, err := d.AttachReligion(ctx, logger, nk, playerID, religion.ID, true)
	if err != nil {
		return nil, err
	}

	d.pantheonix.SendPublisherEvents(ctx, logger, nk, playerID, []*PublisherEvent{{
		Name:      "religion_joined",
		Id:        religion.ID,
		Timestamp: now,
		System:    d,
		SourceId:  religion.ID,
		Source:    religion,
	}})

	return result, nil
}

// AttachReligion writes the membership link directly, without admission validation.
// The religions system calls this after it has already mutated its roster (religion
// creation), and the join path calls it after admission succeeds.
func (d *NakamaDevotionSystem) AttachReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, religionID string, touchCooldown bool) (*PlayerDevotion, error) {
	now := time.Now().Unix()

	d.Lock()
	defer d.Unlock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}
	rec.ReligionID = religionID
	rec.JoinedAtSec = now
	if touchCooldown {
		rec.LastSwitchSec = now
	}
	rec.SwitchHistory = append(rec.SwitchHistory, &ReligionSwitch{ReligionID: religionID, JoinedSec: now})
	d.persist(logger, nk, rec)
	return copyDevotion(rec), nil
}

// LeaveReligion clears the player's membership.
func (d *NakamaDevotionSystem) LeaveReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (*PlayerDevotion, error) {
	if playerID == "" {
		return nil, ErrBadInput
	}
	religions := d.pantheonix.GetReligionsSystem()
	if religions == nil {
		return nil, ErrSystemNotAvailable
	}

	d.Lock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		d.Unlock()
		return nil, err
	}
	religionID := rec.ReligionID
	d.Unlock()

	if religionID == "" {
		return nil, ErrDevotionNotMember
	}

	// Roster removal first; it rejects the founder, in which case the membership
	// record stays untouched.
	if err := religions.WithdrawMember(ctx, logger, nk, religionID, playerID); err != nil {
		return nil, err
	}

	now := time.Now().Unix()

	d.Lock()
	rec, err = d.record(ctx, logger, nk, playerID)
	if err != nil {
		d.Unlock()
		return nil, err
	}
	rec.ReligionID = ""
	rec.JoinedAtSec = 0
	rec.LastSwitchSec = now
	if n := len(rec.SwitchHistory); n > 0 && rec.SwitchHistory[n-1].LeftSec == 0 {
		rec.SwitchHistory[n-1].LeftSec = now
	}
	d.persist(logger, nk, rec)
	result := copyDevotion(rec)
	d.Unlock()

	// Blessings earned in devotion to a specific deity do not survive the departure;
	// universal unlocks and favor counters do.
	if blessings := d.pantheonix.GetBlessingsSystem(); blessings != nil {
		if err := blessings.ResetOwner(ctx, logger, nk, playerID, true, true); err != nil {
			logger.Error("Failed to reset blessing unlocks for player %s: %v", playerID, err)
		}
	}

	d.pantheonix.SendPublisherEvents(ctx, logger, nk, playerID, []*PublisherEvent{{
		Name:      "religion_left",
		Id:        religionID,
		Timestamp: now,
		System:    d,
		SourceId:  religionID,
	}})

	return result, nil
}

// ClearReligion detaches the player without leave-path validation. Used by kick and
// disband cascades.
func (d *NakamaDevotionSystem) ClearReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string, touchCooldown bool) error {
	now := time.Now().Unix()

	d.Lock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		d.Unlock()
		return err
	}
	if rec.ReligionID == "" {
		d.Unlock()
		return nil
	}
	rec.ReligionID = ""
	rec.JoinedAtSec = 0
	if touchCooldown {
		rec.LastSwitchSec = now
	}
	if n := len(rec.SwitchHistory); n > 0 && rec.SwitchHistory[n-1].LeftSec == 0 {
		rec.SwitchHistory[n-1].LeftSec = now
	}
	d.persist(logger, nk, rec)
	d.Unlock()

	if blessings := d.pantheonix.GetBlessingsSystem(); blessings != nil {
		if err := blessings.ResetOwner(ctx, logger, nk, playerID, true, true); err != nil {
			logger.Error("Failed to reset blessing unlocks for player %s: %v", playerID, err)
		}
	}
	return nil
}

// CanSwitchReligion returns false while the switch cooldown window is active.
func (d *NakamaDevotionSystem) CanSwitchReligion(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (bool, error) {
	remaining, err := d.SwitchCooldownRemaining(ctx, logger, nk, playerID)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// SwitchCooldownRemaining returns the remaining cooldown, or zero.
func (d *NakamaDevotionSystem) SwitchCooldownRemaining(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (time.Duration, error) {
	if playerID == "" {
		return 0, ErrBadInput
	}
	d.Lock()
	defer d.Unlock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		return 0, err
	}
	if rec.LastSwitchSec == 0 {
		return 0, nil
	}
	elapsed := time.Now().Unix() - rec.LastSwitchSec
	if elapsed >= d.cooldownSec() {
		return 0, nil
	}
	return time.Duration(d.cooldownSec()-elapsed) * time.Second, nil
}

// AddFavor increments the player's favor counters.
func (d *NakamaDevotionSystem) AddFavor(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string, amount int64) (*PlayerDevotion, error) {
	if playerID == "" || amount < 0 {
		return nil, ErrBadInput
	}
	d.Lock()
	defer d.Unlock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}
	rec.TotalFavor += amount
	rec.SpendableFavor += amount
	d.persist(logger, nk, rec)
	return copyDevotion(rec), nil
}

// SpendFavor deducts from the spendable balance only.
func (d *NakamaDevotionSystem) SpendFavor(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string, amount int64) (*PlayerDevotion, error) {
	if playerID == "" || amount < 0 {
		return nil, ErrBadInput
	}
	d.Lock()
	defer d.Unlock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}
	if rec.SpendableFavor < amount {
		return nil, ErrDevotionFavorTooLow
	}
	rec.SpendableFavor -= amount
	d.persist(logger, nk, rec)
	return copyDevotion(rec), nil
}

// FavorRank derives the player's favor rank from total favor earned.
func (d *NakamaDevotionSystem) FavorRank(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (int32, error) {
	blessings := d.pantheonix.GetBlessingsSystem()
	if blessings == nil {
		return 0, ErrSystemNotAvailable
	}
	d.Lock()
	rec, err := d.record(ctx, logger, nk, playerID)
	if err != nil {
		d.Unlock()
		return 0, err
	}
	total := rec.TotalFavor
	d.Unlock()
	return blessings.FavorRank(total), nil
}

// Flush persists every cached devotion record synchronously.
func (d *NakamaDevotionSystem) Flush(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	d.Lock()
	writes := make([]*runtime.StorageWrite, 0, len(d.records))
	for _, rec := range d.records {
		data, err := json.Marshal(rec)
		if err != nil {
			logger.Error("Failed to marshal devotion record for flush: %v", err)
			continue
		}
		writes = append(writes, &runtime.StorageWrite{
			Collection:      devotionStorageCollection,
			Key:             playerDevotionStorageKey,
			UserID:          rec.PlayerID,
			Value:           string(data),
			PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		})
	}
	d.Unlock()

	if len(writes) == 0 {
		return nil
	}
	if _, err := nk.StorageWrite(ctx, writes); err != nil {
		logger.Error("Failed to flush devotion records: %v", err)
		return err
	}
	return nil
}
