package pantheonix

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	blessingsStorageCollection    = "blessings"
	playerUnlocksStorageKey       = "player_unlocks"
	religionUnlocksStorageKeyBase = "religion_unlocks_"
)

// blessingOwner identifies one unlock set: a player or a religion.
type blessingOwner struct {
	id     string
	player bool
}

// NakamaBlessingsSystem implements the BlessingsSystem interface using Nakama as the
// backend. The catalog is immutable after construction; per-owner unlock sets are
// cached in memory and persisted write-behind.
type NakamaBlessingsSystem struct {
	config     *BlessingsConfig
	pantheonix Pantheonix

	sync.Mutex
	unlocks map[blessingOwner]map[string]int64 // blessing id -> unlock unix sec
}

// NewNakamaBlessingsSystem creates a new instance of the blessings system. The catalog
// is validated up front; a definition error refuses startup rather than surfacing as
// runtime misbehavior.
func NewNakamaBlessingsSystem(config *BlessingsConfig) (*NakamaBlessingsSystem, error) {
	if config == nil {
		config = &BlessingsConfig{}
	}
	if err := validateBlessingCatalog(config); err != nil {
		return nil, err
	}
	return &NakamaBlessingsSystem{
		config:  config,
		unlocks: make(map[blessingOwner]map[string]int64),
	}, nil
}

// validateBlessingCatalog checks the rank threshold tables and every catalog entry:
// known kinds and domains, same-kind existing prerequisites, and an acyclic
// prerequisite graph.
func validateBlessingCatalog(config *BlessingsConfig) error {
	if !validThresholds(config.FavorRankThresholds) {
		return fmt.Errorf("favor rank thresholds must be strictly increasing: %w", ErrBlessingCatalogInvalid)
	}
	if !validThresholds(config.PrestigeRankThresholds) {
		return fmt.Errorf("prestige rank thresholds must be strictly increasing: %w", ErrBlessingCatalogInvalid)
	}

	for id, def := range config.Blessings {
		if def == nil || def.Name == "" {
			return fmt.Errorf("blessing %q has no definition: %w", id, ErrBlessingCatalogInvalid)
		}
		if def.Kind != BlessingKindPlayer && def.Kind != BlessingKindReligion {
			return fmt.Errorf("blessing %q has unknown kind %q: %w", id, def.Kind, ErrBlessingCatalogInvalid)
		}
		if def.Domain != DeityDomainUniversal && !IsValidDeityDomain(def.Domain) {
			return fmt.Errorf("blessing %q has unknown domain %q: %w", id, def.Domain, ErrBlessingCatalogInvalid)
		}
		if def.RequiredRank < 0 || def.CostFavor < 0 {
			return fmt.Errorf("blessing %q has negative rank or cost: %w", id, ErrBlessingCatalogInvalid)
		}
		for _, prereq := range def.Prerequisites {
			prereqDef, ok := config.Blessings[prereq]
			if !ok {
				return fmt.Errorf("blessing %q requires unknown blessing %q: %w", id, prereq, ErrBlessingCatalogInvalid)
			}
			if prereqDef.Kind != def.Kind {
				return fmt.Errorf("blessing %q requires %q of a different kind: %w", id, prereq, ErrBlessingCatalogInvalid)
			}
		}
	}

	// Kahn's algorithm over the prerequisite edges. Any leftover node sits on a cycle.
	indegree := make(map[string]int, len(config.Blessings))
	dependents := make(map[string][]string, len(config.Blessings))
	for id, def := range config.Blessings {
		indegree[id] += 0
		for _, prereq := range def.Prerequisites {
			indegree[id]++
			dependents[prereq] = append(dependents[prereq], id)
		}
	}
	queue := make([]string, 0, len(indegree))
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if visited != len(config.Blessings) {
		return fmt.Errorf("blessing prerequisite graph contains a cycle: %w", ErrBlessingCatalogInvalid)
	}
	return nil
}

// SetPantheonix sets the Pantheonix instance for this blessings system.
func (b *NakamaBlessingsSystem) SetPantheonix(p Pantheonix) {
	b.pantheonix = p
}

// GetType returns the system type for the blessings system.
func (b *NakamaBlessingsSystem) GetType() SystemType {
	return SystemTypeBlessings
}

// GetConfig returns the configuration for the blessings system.
func (b *NakamaBlessingsSystem) GetConfig() any {
	return b.config
}

// Catalog returns the blessing definitions keyed by id. The map is a copy so callers
// cannot alter the validated catalog; the definitions themselves are shared and must be
// treated as read-only.
func (b *NakamaBlessingsSystem) Catalog() map[string]*BlessingDefinition {
	catalog := make(map[string]*BlessingDefinition, len(b.config.Blessings))
	for id, def := range b.config.Blessings {
		catalog[id] = def
	}
	return catalog
}

// FavorRank derives a favor rank from a total-favor counter.
func (b *NakamaBlessingsSystem) FavorRank(totalFavor int64) int32 {
	return rankFromThresholds(totalFavor, b.config.FavorRankThresholds)
}

// PrestigeRank derives a prestige rank from a prestige counter.
func (b *NakamaBlessingsSystem) PrestigeRank(prestige int64) int32 {
	return rankFromThresholds(prestige, b.config.PrestigeRankThresholds)
}

func storageTarget(owner blessingOwner) (key, userID string) {
	if owner.player {
		return playerUnlocksStorageKey, owner.id
	}
	return religionUnlocksStorageKeyBase + owner.id, ""
}

// unlockSet returns the cached unlock set for the owner, loading it from storage on
// first access. Callers must hold the system lock.
func (b *NakamaBlessingsSystem) unlockSet(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, owner blessingOwner) (map[string]int64, error) {
	if set, ok := b.unlocks[owner]; ok {
		return set, nil
	}
	key, userID := storageTarget(owner)
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: blessingsStorageCollection,
		Key:        key,
		UserID:     userID,
	}})
	if err != nil {
		logger.Error("Failed to read blessing unlocks for %s: %v", owner.id, err)
		return nil, ErrInternal
	}
	set := make(map[string]int64)
	if len(objects) > 0 {
		if err := json.Unmarshal([]byte(objects[0].Value), &set); err != nil {
			logger.Error("Corrupt blessing unlock set for %s, defaulting to empty: %v", owner.id, err)
			set = make(map[string]int64)
		}
	}
	b.unlocks[owner] = set
	return set, nil
}

func (b *NakamaBlessingsSystem) persistUnlocks(logger runtime.Logger, nk runtime.NakamaModule, owner blessingOwner, set map[string]int64) {
	data, err := json.Marshal(set)
	if err != nil {
		logger.Error("Failed to marshal blessing unlocks for %s: %v", owner.id, err)
		return
	}
	key, userID := storageTarget(owner)
	permissionRead := runtime.STORAGE_PERMISSION_NO_READ
	if owner.player {
		permissionRead = runtime.STORAGE_PERMISSION_OWNER_READ
	}
	writeStorageAsync(logger, nk, &runtime.StorageWrite{
		Collection:      blessingsStorageCollection,
		Key:             key,
		UserID:          userID,
		Value:           string(data),
		PermissionRead:  permissionRead,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	})
}

// evaluateNodes derives the node state of every catalog entry of the given kind.
// Unlockable requires sufficient rank, a domain match (universal always matches, an
// empty owner domain matches nothing else) and every prerequisite already unlocked.
func (b *NakamaBlessingsSystem) evaluateNodes(kind BlessingKind, ownerDomain DeityDomain, rank int32, unlocked map[string]int64) map[string]*BlessingNodeState {
	nodes := make(map[string]*BlessingNodeState)
	for id, def := range b.config.Blessings {
		if def.Kind != kind {
			continue
		}
		node := &BlessingNodeState{ID: id}
		if unlockTimeSec, ok := unlocked[id]; ok {
			node.Unlocked = true
			node.UnlockTimeSec = unlockTimeSec
		} else {
			node.Unlockable = b.nodeUnlockable(def, ownerDomain, rank, unlocked) == nil
		}
		nodes[id] = node
	}
	return nodes
}

// nodeUnlockable returns nil when the definition can be unlocked now, or the precise
// precondition error otherwise.
func (b *NakamaBlessingsSystem) nodeUnlockable(def *BlessingDefinition, ownerDomain DeityDomain, rank int32, unlocked map[string]int64) error {
	if rank < def.RequiredRank {
		return ErrBlessingRankTooLow
	}
	if def.Domain != DeityDomainUniversal && def.Domain != ownerDomain {
		return ErrBlessingWrongDomain
	}
	for _, prereq := range def.Prerequisites {
		if _, ok := unlocked[prereq]; !ok {
			return ErrBlessingPrerequisiteNotMet
		}
	}
	return nil
}

// playerContext resolves the player's favor rank and their religion's deity domain.
// An unaffiliated player has an empty domain, matching only universal blessings.
func (b *NakamaBlessingsSystem) playerContext(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (rank int32, domain DeityDomain, religionID string, err error) {
	devotion := b.pantheonix.GetDevotionSystem()
	if devotion == nil {
		return 0, "", "", ErrSystemNotAvailable
	}
	record, err := devotion.Get(ctx, logger, nk, playerID)
	if err != nil {
		return 0, "", "", err
	}
	rank = b.FavorRank(record.TotalFavor)
	if record.ReligionID == "" {
		return rank, "", "", nil
	}
	religions := b.pantheonix.GetReligionsSystem()
	if religions == nil {
		return 0, "", "", ErrSystemNotAvailable
	}
	religion, err := religions.Get(ctx, logger, nk, record.ReligionID)
	if err != nil {
		return 0, "", "", err
	}
	return rank, religion.Domain, religion.ID, nil
}

// GetPlayerBlessings evaluates every player-kind catalog entry for the player.
func (b *NakamaBlessingsSystem) GetPlayerBlessings(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (map[string]*BlessingNodeState, error) {
	if playerID == "" {
		return nil, ErrBadInput
	}
	rank, domain, _, err := b.playerContext(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	unlocked, err := b.unlockSet(ctx, logger, nk, blessingOwner{id: playerID, player: true})
	if err != nil {
		return nil, err
	}
	return b.evaluateNodes(BlessingKindPlayer, domain, rank, unlocked), nil
}

// GetReligionBlessings evaluates every religion-kind catalog entry for the religion.
func (b *NakamaBlessingsSystem) GetReligionBlessings(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, religionID string) (map[string]*BlessingNodeState, error) {
	if religionID == "" {
		return nil, ErrBadInput
	}
	religions := b.pantheonix.GetReligionsSystem()
	if religions == nil {
		return nil, ErrSystemNotAvailable
	}
	religion, err := religions.Get(ctx, logger, nk, religionID)
	if err != nil {
		return nil, err
	}
	rank := b.PrestigeRank(religion.Prestige)
	b.Lock()
	defer b.Unlock()
	unlocked, err := b.unlockSet(ctx, logger, nk, blessingOwner{id: religionID})
	if err != nil {
		return nil, err
	}
	return b.evaluateNodes(BlessingKindReligion, religion.Domain, rank, unlocked), nil
}

// UnlockPlayerBlessing unlocks a player-kind blessing, spending its favor cost.
func (b *NakamaBlessingsSystem) UnlockPlayerBlessing(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID, blessingID string) (*BlessingNodeState, error) {
	if playerID == "" || blessingID == "" {
		return nil, ErrBadInput
	}
	def, ok := b.config.Blessings[blessingID]
	if !ok {
		return nil, ErrBlessingNotFound
	}
	if def.Kind != BlessingKindPlayer {
		return nil, ErrBlessingWrongKind
	}
	devotion := b.pantheonix.GetDevotionSystem()
	if devotion == nil {
		return nil, ErrSystemNotAvailable
	}
	rank, domain, _, err := b.playerContext(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}

	owner := blessingOwner{id: playerID, player: true}

	b.Lock()
	unlocked, err := b.unlockSet(ctx, logger, nk, owner)
	if err != nil {
		b.Unlock()
		return nil, err
	}
	if _, already := unlocked[blessingID]; already {
		b.Unlock()
		return nil, ErrBlessingAlreadyUnlocked
	}
	if err := b.nodeUnlockable(def, domain, rank, unlocked); err != nil {
		b.Unlock()
		return nil, err
	}
	b.Unlock()

	// The cost is charged before the unlock is recorded. Per-player commands are
	// serialized by the server tick, so the node checked above cannot flip under us.
	if def.CostFavor > 0 {
		if _, err := devotion.SpendFavor(ctx, logger, nk, playerID, def.CostFavor); err != nil {
			return nil, err
		}
	}

	now := time.Now().Unix()

	b.Lock()
	unlocked, err = b.unlockSet(ctx, logger, nk, owner)
	if err != nil {
		b.Unlock()
		return nil, err
	}
	unlocked[blessingID] = now
	b.persistUnlocks(logger, nk, owner, unlocked)
	b.Unlock()

	b.pantheonix.SendPublisherEvents(ctx, logger, nk, playerID, []*PublisherEvent{{
		Name:      "blessing_unlocked",
		Id:        blessingID,
		Timestamp: now,
		System:    b,
		SourceId:  blessingID,
		Source:    def,
	}})

	return &BlessingNodeState{ID: blessingID, Unlocked: true, UnlockTimeSec: now}, nil
}

// UnlockReligionBlessing unlocks a religion-kind blessing on behalf of the religion.
// The actor needs the unlock-blessings permission; religion blessings carry no favor
// cost, they are gated by prestige rank alone.
func (b *NakamaBlessingsSystem) UnlockReligionBlessing(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, actorID, religionID, blessingID string) (*BlessingNodeState, error) {
	if actorID == "" || religionID == "" || blessingID == "" {
		return nil, ErrBadInput
	}
	def, ok := b.config.Blessings[blessingID]
	if !ok {
		return nil, ErrBlessingNotFound
	}
	if def.Kind != BlessingKindReligion {
		return nil, ErrBlessingWrongKind
	}
	religions := b.pantheonix.GetReligionsSystem()
	if religions == nil {
		return nil, ErrSystemNotAvailable
	}
	allowed, err := religions.HasPermission(ctx, logger, nk, religionID, actorID, PermissionUnlockBlessings)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrReligionPermissionDenied
	}
	religion, err := religions.Get(ctx, logger, nk, religionID)
	if err != nil {
		return nil, err
	}
	rank := b.PrestigeRank(religion.Prestige)

	owner := blessingOwner{id: religionID}
	now := time.Now().Unix()

	b.Lock()
	unlocked, err := b.unlockSet(ctx, logger, nk, owner)
	if err != nil {
		b.Unlock()
		return nil, err
	}
	if _, already := unlocked[blessingID]; already {
		b.Unlock()
		return nil, ErrBlessingAlreadyUnlocked
	}
	if err := b.nodeUnlockable(def, religion.Domain, rank, unlocked); err != nil {
		b.Unlock()
		return nil, err
	}
	unlocked[blessingID] = now
	b.persistUnlocks(logger, nk, owner, unlocked)
	b.Unlock()

	b.pantheonix.SendPublisherEvents(ctx, logger, nk, actorID, []*PublisherEvent{{
		Name:      "religion_blessing_unlocked",
		Id:        blessingID,
		Timestamp: now,
		System:    b,
		SourceId:  religionID,
		Source:    def,
	}})

	return &BlessingNodeState{ID: blessingID, Unlocked: true, UnlockTimeSec: now}, nil
}

// affectingUnlocks returns the ids of every unlocked blessing affecting the player in
// ascending blessing-id order: their own player-kind unlocks plus their religion's
// religion-kind unlocks.
func (b *NakamaBlessingsSystem) affectingUnlocks(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) ([]string, error) {
	_, _, religionID, err := b.playerContext(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}

	b.Lock()
	defer b.Unlock()
	playerSet, err := b.unlockSet(ctx, logger, nk, blessingOwner{id: playerID, player: true})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(playerSet))
	for id := range playerSet {
		ids = append(ids, id)
	}
	if religionID != "" {
		religionSet, err := b.unlockSet(ctx, logger, nk, blessingOwner{id: religionID})
		if err != nil {
			return nil, err
		}
		for id := range religionSet {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ActiveEffects returns the special effect ids of every unlocked blessing affecting the
// player in ascending blessing-id order.
func (b *NakamaBlessingsSystem) ActiveEffects(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) ([]*ActiveEffect, error) {
	if playerID == "" {
		return nil, ErrBadInput
	}
	ids, err := b.affectingUnlocks(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}
	effects := make([]*ActiveEffect, 0)
	for _, id := range ids {
		def, ok := b.config.Blessings[id]
		if !ok {
			// Unlock of a blessing since removed from the catalog; inert.
			continue
		}
		for _, effectID := range def.SpecialEffects {
			effects = append(effects, &ActiveEffect{BlessingID: id, EffectID: effectID})
		}
	}
	return effects, nil
}

// ActiveStatModifiers aggregates the stat modifier deltas of every unlocked blessing
// affecting the player.
func (b *NakamaBlessingsSystem) ActiveStatModifiers(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, playerID string) (map[string]int64, error) {
	if playerID == "" {
		return nil, ErrBadInput
	}
	ids, err := b.affectingUnlocks(ctx, logger, nk, playerID)
	if err != nil {
		return nil, err
	}
	modifiers := make(map[string]int64)
	for _, id := range ids {
		def, ok := b.config.Blessings[id]
		if !ok {
			continue
		}
		for stat, delta := range def.StatModifiers {
			modifiers[stat] += delta
		}
	}
	return modifiers, nil
}

// ResetOwner clears the owner's unlock set. A player switching religions keeps their
// universal-domain unlocks; a disbanded religion loses everything.
func (b *NakamaBlessingsSystem) ResetOwner(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, ownerID string, isPlayer bool, keepUniversal bool) error {
	if ownerID == "" {
		return ErrBadInput
	}
	owner := blessingOwner{id: ownerID, player: isPlayer}

	b.Lock()
	defer b.Unlock()
	set, err := b.unlockSet(ctx, logger, nk, owner)
	if err != nil {
		return err
	}
	if keepUniversal {
		for id := range set {
			def, ok := b.config.Blessings[id]
			if ok && def.Domain == DeityDomainUniversal {
				continue
			}
			delete(set, id)
		}
		b.persistUnlocks(logger, nk, owner, set)
		return nil
	}

	delete(b.unlocks, owner)
	key, userID := storageTarget(owner)
	deleteStorageAsync(logger, nk, &runtime.StorageDelete{
		Collection: blessingsStorageCollection,
		Key:        key,
		UserID:     userID,
	})
	return nil
}

// Flush persists every cached unlock set synchronously.
func (b *NakamaBlessingsSystem) Flush(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	b.Lock()
	writes := make([]*runtime.StorageWrite, 0, len(b.unlocks))
	for owner, set := range b.unlocks {
		data, err := json.Marshal(set)
		if err != nil {
			logger.Error("Failed to marshal blessing unlocks for %s: %v", owner.id, err)
			continue
		}
		key, userID := storageTarget(owner)
		permissionRead := runtime.STORAGE_PERMISSION_NO_READ
		if owner.player {
			permissionRead = runtime.STORAGE_PERMISSION_OWNER_READ
		}
		writes = append(writes, &runtime.StorageWrite{
			Collection:      blessingsStorageCollection,
			Key:             key,
			UserID:          userID,
			Value:           string(data),
			PermissionRead:  permissionRead,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		})
	}
	b.Unlock()

	if len(writes) == 0 {
		return nil
	}
	if _, err := nk.StorageWrite(ctx, writes); err != nil {
		logger.Error("Failed to flush blessing unlock sets: %v", err)
		return err
	}
	return nil
}
