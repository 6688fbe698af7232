package pantheonix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlessingsConfig() *BlessingsConfig {
	return &BlessingsConfig{
		FavorRankThresholds:    []int64{100, 300, 1000},
		PrestigeRankThresholds: []int64{100, 500},
		Blessings: map[string]*BlessingDefinition{
			"sun_radiance": {
				Name:         "Radiance",
				Domain:       DeityDomainSun,
				Kind:         BlessingKindPlayer,
				RequiredRank: 1,
				CostFavor:    50,
				StatModifiers: map[string]int64{
					"attack": 5,
				},
			},
			"sun_corona": {
				Name:          "Corona",
				Domain:        DeityDomainSun,
				Kind:          BlessingKindPlayer,
				RequiredRank:  2,
				CostFavor:     100,
				Prerequisites: []string{"sun_radiance"},
				StatModifiers: map[string]int64{
					"attack": 10,
				},
			},
			"iron_will": {
				Name:           "Iron Will",
				Domain:         DeityDomainUniversal,
				Kind:           BlessingKindPlayer,
				RequiredRank:   1,
				CostFavor:      25,
				SpecialEffects: []string{"stoneskin"},
			},
			"sun_temple": {
				Name:         "Grand Temple",
				Domain:       DeityDomainSun,
				Kind:         BlessingKindReligion,
				RequiredRank: 1,
				StatModifiers: map[string]int64{
					"defense": 3,
				},
			},
		},
	}
}

func TestBlessingsCatalog_RejectsCycle(t *testing.T) {
	_, err := NewNakamaBlessingsSystem(&BlessingsConfig{
		Blessings: map[string]*BlessingDefinition{
			"a": {Name: "A", Domain: DeityDomainUniversal, Kind: BlessingKindPlayer, Prerequisites: []string{"b"}},
			"b": {Name: "B", Domain: DeityDomainUniversal, Kind: BlessingKindPlayer, Prerequisites: []string{"a"}},
		},
	})
	assert.ErrorIs(t, err, ErrBlessingCatalogInvalid)
}

func TestBlessingsCatalog_RejectsCrossKindPrerequisite(t *testing.T) {
	_, err := NewNakamaBlessingsSystem(&BlessingsConfig{
		Blessings: map[string]*BlessingDefinition{
			"player_node":   {Name: "P", Domain: DeityDomainUniversal, Kind: BlessingKindPlayer, Prerequisites: []string{"religion_node"}},
			"religion_node": {Name: "R", Domain: DeityDomainUniversal, Kind: BlessingKindReligion},
		},
	})
	assert.ErrorIs(t, err, ErrBlessingCatalogInvalid)
}

func TestBlessingsCatalog_RejectsBadThresholdsAndDomains(t *testing.T) {
	_, err := NewNakamaBlessingsSystem(&BlessingsConfig{
		FavorRankThresholds: []int64{300, 100},
	})
	assert.ErrorIs(t, err, ErrBlessingCatalogInvalid)

	_, err = NewNakamaBlessingsSystem(&BlessingsConfig{
		Blessings: map[string]*BlessingDefinition{
			"x": {Name: "X", Domain: "volcano", Kind: BlessingKindPlayer},
		},
	})
	assert.ErrorIs(t, err, ErrBlessingCatalogInvalid)

	_, err = NewNakamaBlessingsSystem(&BlessingsConfig{
		Blessings: map[string]*BlessingDefinition{
			"x": {Name: "X", Domain: DeityDomainUniversal, Kind: BlessingKindPlayer, Prerequisites: []string{"missing"}},
		},
	})
	assert.ErrorIs(t, err, ErrBlessingCatalogInvalid)
}

func TestBlessingsCatalog_ReturnedMapIsACopy(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()

	catalog := blessings.Catalog()
	require.Contains(t, catalog, "sun_radiance")
	delete(catalog, "sun_radiance")
	catalog["rogue_entry"] = &BlessingDefinition{Name: "Rogue", Domain: DeityDomainUniversal, Kind: BlessingKindPlayer}

	fresh := blessings.Catalog()
	assert.Contains(t, fresh, "sun_radiance")
	assert.NotContains(t, fresh, "rogue_entry")
}

func TestBlessings_UnlockPlayerGates(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()
	devotion := px.GetDevotionSystem()
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "no_such")
	assert.ErrorIs(t, err, ErrBlessingNotFound)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_temple")
	assert.ErrorIs(t, err, ErrBlessingWrongKind)

	// Rank 0: below the required favor rank.
	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	assert.ErrorIs(t, err, ErrBlessingRankTooLow)

	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 100)
	require.NoError(t, err)

	// Rank 1 but the prerequisite chain is not satisfied.
	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 200)
	require.NoError(t, err)
	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_corona")
	assert.ErrorIs(t, err, ErrBlessingPrerequisiteNotMet)

	node, err := blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	require.NoError(t, err)
	assert.True(t, node.Unlocked)
	assert.NotZero(t, node.UnlockTimeSec)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	assert.ErrorIs(t, err, ErrBlessingAlreadyUnlocked)

	node, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_corona")
	require.NoError(t, err)
	assert.True(t, node.Unlocked)
}

func TestBlessings_UnlockSpendsFavorButKeepsRank(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()
	devotion := px.GetDevotionSystem()
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)
	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 100)
	require.NoError(t, err)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	require.NoError(t, err)

	record, err := devotion.Get(ctx, logger, nk, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), record.SpendableFavor)
	assert.Equal(t, int64(100), record.TotalFavor)

	// Spendable favor cannot cover the next cost even though rank allows it.
	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 200)
	require.NoError(t, err)
	_, err = devotion.SpendFavor(ctx, logger, nk, "user1", 200)
	require.NoError(t, err)
	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_corona")
	assert.ErrorIs(t, err, ErrDevotionFavorTooLow)
}

func TestBlessings_DomainGate(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()
	devotion := px.GetDevotionSystem()
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Tidecallers", DeityDomainSea, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)
	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 100)
	require.NoError(t, err)

	// Sun-domain blessing is out of reach for a sea devotee; universal is not.
	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	assert.ErrorIs(t, err, ErrBlessingWrongDomain)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "iron_will")
	require.NoError(t, err)
}

func TestBlessings_UnaffiliatedPlayerOnlyUniversal(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	_, err := devotion.AddFavor(ctx, logger, nk, "user1", 100)
	require.NoError(t, err)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	assert.ErrorIs(t, err, ErrBlessingWrongDomain)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "iron_will")
	require.NoError(t, err)
}

func TestBlessings_GetPlayerBlessingsNodeStates(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()
	devotion := px.GetDevotionSystem()
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)
	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 100)
	require.NoError(t, err)

	nodes, err := blessings.GetPlayerBlessings(ctx, logger, nk, "user1")
	require.NoError(t, err)
	require.Len(t, nodes, 3, "religion-kind nodes are excluded")

	assert.True(t, nodes["sun_radiance"].Unlockable)
	assert.True(t, nodes["iron_will"].Unlockable)
	assert.False(t, nodes["sun_corona"].Unlockable, "prerequisite locked")
	assert.False(t, nodes["sun_corona"].Unlocked)

	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 200)
	require.NoError(t, err)
	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	require.NoError(t, err)

	nodes, err = blessings.GetPlayerBlessings(ctx, logger, nk, "user1")
	require.NoError(t, err)
	assert.True(t, nodes["sun_radiance"].Unlocked)
	assert.True(t, nodes["sun_corona"].Unlockable, "prerequisite now satisfied")
}

func TestBlessings_UnlockReligionRequiresPermissionAndRank(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()
	devotion := px.GetDevotionSystem()
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)

	_, err = blessings.UnlockReligionBlessing(ctx, logger, nk, "user1", religion.ID, "sun_temple")
	assert.ErrorIs(t, err, ErrReligionPermissionDenied)

	_, err = blessings.UnlockReligionBlessing(ctx, logger, nk, "founder", religion.ID, "sun_temple")
	assert.ErrorIs(t, err, ErrBlessingRankTooLow)

	_, err = religions.AddPrestige(ctx, logger, nk, religion.ID, 150)
	require.NoError(t, err)

	node, err := blessings.UnlockReligionBlessing(ctx, logger, nk, "founder", religion.ID, "sun_temple")
	require.NoError(t, err)
	assert.True(t, node.Unlocked)

	nodes, err := blessings.GetReligionBlessings(ctx, logger, nk, religion.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes["sun_temple"].Unlocked)
}

func TestBlessings_ActiveStatModifiersCombinePlayerAndReligion(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()
	devotion := px.GetDevotionSystem()
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)
	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 300)
	require.NoError(t, err)
	_, err = religions.AddPrestige(ctx, logger, nk, religion.ID, 150)
	require.NoError(t, err)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	require.NoError(t, err)
	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_corona")
	require.NoError(t, err)
	_, err = blessings.UnlockReligionBlessing(ctx, logger, nk, "founder", religion.ID, "sun_temple")
	require.NoError(t, err)

	modifiers, err := blessings.ActiveStatModifiers(ctx, logger, nk, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), modifiers["attack"])
	assert.Equal(t, int64(3), modifiers["defense"], "religion unlocks affect members")
}

func TestBlessings_LeaveReligionKeepsUniversalUnlocks(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem()
	devotion := px.GetDevotionSystem()
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)
	_, err = devotion.AddFavor(ctx, logger, nk, "user1", 100)
	require.NoError(t, err)

	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "sun_radiance")
	require.NoError(t, err)
	_, err = blessings.UnlockPlayerBlessing(ctx, logger, nk, "user1", "iron_will")
	require.NoError(t, err)

	_, err = devotion.LeaveReligion(ctx, logger, nk, "user1")
	require.NoError(t, err)

	nodes, err := blessings.GetPlayerBlessings(ctx, logger, nk, "user1")
	require.NoError(t, err)
	assert.False(t, nodes["sun_radiance"].Unlocked, "domain unlocks are lost on departure")
	assert.True(t, nodes["iron_will"].Unlocked, "universal unlocks survive")

	record, err := devotion.Get(ctx, logger, nk, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), record.TotalFavor, "favor survives departure")
}

func TestBlessings_DisbandClearsReligionUnlocks(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	blessings := px.GetBlessingsSystem().(*NakamaBlessingsSystem)
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = religions.AddPrestige(ctx, logger, nk, religion.ID, 150)
	require.NoError(t, err)
	_, err = blessings.UnlockReligionBlessing(ctx, logger, nk, "founder", religion.ID, "sun_temple")
	require.NoError(t, err)

	require.NoError(t, religions.Disband(ctx, logger, nk, "founder", religion.ID))

	blessings.Lock()
	_, cached := blessings.unlocks[blessingOwner{id: religion.ID}]
	blessings.Unlock()
	assert.False(t, cached, "disband drops the religion unlock set")
}
