package combat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chiwar/encounter/internal/logging"
	"github.com/chiwar/encounter/internal/model"
	"github.com/chiwar/encounter/internal/storage"
	gormstorage "github.com/chiwar/encounter/internal/storage/gorm"
	"github.com/chiwar/encounter/pkg/core"
	"github.com/chiwar/encounter/pkg/streaming"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func intPtr(v int) *int    { return &v }
func uintPtr(v uint) *uint { return &v }

func newTestStore(t *testing.T) *gormstorage.Backend {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	b := gormstorage.New(gormstorage.Dependencies{DB: db, LogManager: logging.NewSlogManager()})
	require.NoError(t, b.Init())
	return b
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []streaming.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env streaming.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, env)
	return nil
}

type recordingStats struct {
	mu       sync.Mutex
	actions  int
	skipped  int
	upChecks []bool
}

func (s *recordingStats) RecordAction(_ context.Context, _ uint, _, skipped int, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions++
	s.skipped += skipped
}

func (s *recordingStats) RecordUpCheck(_ context.Context, _, _ uint, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upChecks = append(s.upChecks, success)
}

type fixture struct {
	store   storage.Store
	svc     *Service
	pub     *recordingPublisher
	stats   *recordingStats
	logs    *bytes.Buffer
	fight   *core.Fight
	pcShot  uint
	pcID    uint
	bossID  uint
	boss    uint
	foeShot uint
	carShot uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := newTestStore(t)

	fx := &fixture{store: store, pub: &recordingPublisher{}, stats: &recordingStats{}, logs: &bytes.Buffer{}}

	f := &core.Fight{CampaignID: 1, Name: "Docks", Active: true}
	require.NoError(t, store.CreateFight(ctx, f))

	kai := &core.Character{Name: "Kai", Type: core.CharacterTypePC, ActionValues: core.ActionValues{"Wounds": 30, "Speed": 7}, Status: []string{"cheesing_it"}}
	boss := &core.Character{Name: "Big Bruiser", Type: core.CharacterTypeBoss, ActionValues: core.ActionValues{"Wounds": 0}}
	foe := &core.Character{Name: "Johnny", Type: core.CharacterTypeFeaturedFoe, ActionValues: core.ActionValues{"Wounds": 10}}
	car := &core.Vehicle{Name: "Sedan"}
	require.NoError(t, store.CreateCharacter(ctx, kai))
	require.NoError(t, store.CreateCharacter(ctx, boss))
	require.NoError(t, store.CreateCharacter(ctx, foe))
	require.NoError(t, store.CreateVehicle(ctx, car))

	kaiShot := &core.Shot{FightID: f.ID, Shot: intPtr(12), CharacterID: &kai.ID}
	bossShot := &core.Shot{FightID: f.ID, Shot: intPtr(14), CharacterID: &boss.ID, Count: 40}
	foeShot := &core.Shot{FightID: f.ID, Shot: intPtr(8), CharacterID: &foe.ID}
	carShot := &core.Shot{FightID: f.ID, Shot: intPtr(8), VehicleID: &car.ID}
	for _, s := range []*core.Shot{kaiShot, bossShot, foeShot, carShot} {
		require.NoError(t, store.AddShot(ctx, s))
	}

	fx.fight = f
	fx.pcShot, fx.pcID = kaiShot.ID, kai.ID
	fx.boss, fx.bossID = bossShot.ID, boss.ID
	fx.foeShot = foeShot.ID
	fx.carShot = carShot.ID

	svc, err := NewService(Dependencies{
		Store:     store,
		Logger:    slog.New(slog.NewTextHandler(fx.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Publisher: fx.pub,
		Stats:     fx.stats,
	})
	require.NoError(t, err)
	fx.svc = svc
	return fx
}

func (fx *fixture) reload(t *testing.T) *core.Fight {
	t.Helper()
	f, err := fx.store.LoadFight(context.Background(), fx.fight.ID)
	require.NoError(t, err)
	return f
}

func (fx *fixture) character(t *testing.T, shotID uint) (*core.Shot, *core.Character) {
	t.Helper()
	s, ok := fx.reload(t).Shot(shotID)
	require.True(t, ok)
	return s, s.Character
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(Dependencies{})
	assert.Error(t, err)
}

func TestApplyCombatAction_PCCrossesThreshold(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	res, err := fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{
		{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	_, c := fx.character(t, fx.pcShot)
	assert.Equal(t, 40, c.ActionValues.Int(core.ActionValueWounds))
	assert.Equal(t, []string{"cheesing_it", core.StatusUpCheckRequired}, c.Status)
}

func TestApplyCombatAction_ConcurrentDeltasSum(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{
				{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(2), AddStatus: []string{"bleeding"}},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, c := fx.character(t, fx.pcShot)
	assert.Equal(t, 40, c.ActionValues.Int(core.ActionValueWounds))
	assert.ElementsMatch(t, []string{"cheesing_it", "bleeding", core.StatusUpCheckRequired}, c.Status)
}

func TestApplyCombatAction_CorruptStoredValuesAreNotOverwritten(t *testing.T) {
	fx := newFixture(t)
	db := fx.store.(*gormstorage.Backend).DB()

	const corrupt = `{"Wounds": 30, "Speed": 7`
	require.NoError(t, db.Exec("UPDATE characters SET action_values = ? WHERE id = ?", corrupt, fx.pcID).Error)

	_, err := fx.svc.ApplyCombatAction(context.Background(), fx.fight, []core.ShotUpdate{
		{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(5)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCommitFailure)

	var raw string
	require.NoError(t, db.Raw("SELECT action_values FROM characters WHERE id = ?", fx.pcID).Scan(&raw).Error)
	assert.Equal(t, corrupt, raw)
	assert.Empty(t, fx.pub.got)
}

func TestApplyCombatAction_ZeroPaddedWoundsAreDecimal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	ren := &core.Character{Name: "Ren", Type: core.CharacterTypePC, ActionValues: core.ActionValues{"Wounds": "030", "Speed": "010"}}
	require.NoError(t, fx.store.CreateCharacter(ctx, ren))
	shot := &core.Shot{FightID: fx.fight.ID, Shot: intPtr(10), CharacterID: &ren.ID}
	require.NoError(t, fx.store.AddShot(ctx, shot))

	_, err := fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{
		{ShotID: uintPtr(shot.ID), Wounds: core.Some(10)},
	})
	require.NoError(t, err)

	_, c := fx.character(t, shot.ID)
	assert.Equal(t, 40, c.ActionValues.Int(core.ActionValueWounds))
	assert.Equal(t, 10, c.ActionValues.Int(core.ActionValueSpeed))
	assert.Equal(t, []string{core.StatusUpCheckRequired}, c.Status)
}

// Damage, a passed up-check, then healing back under the threshold.
func TestScenario_PCUpCheckThenHeal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(10)}})
	require.NoError(t, err)
	_, c := fx.character(t, fx.pcShot)
	assert.Equal(t, 40, c.ActionValues.Int(core.ActionValueWounds))
	assert.Contains(t, c.Status, core.StatusUpCheckRequired)

	_, err = fx.svc.ApplyUpCheck(ctx, fx.fight, core.UpCheck{CharacterID: fx.pcID, Success: true, Result: 9})
	require.NoError(t, err)
	_, c = fx.character(t, fx.pcShot)
	assert.Equal(t, 40, c.ActionValues.Int(core.ActionValueWounds))
	assert.NotContains(t, c.Status, core.StatusUpCheckRequired)

	_, err = fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(-10)}})
	require.NoError(t, err)
	_, c = fx.character(t, fx.pcShot)
	assert.Equal(t, 30, c.ActionValues.Int(core.ActionValueWounds))
	assert.NotContains(t, c.Status, core.StatusUpCheckRequired)
}

func TestApplyCombatAction_ReenforcesRemovedTag(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(10)}})
	require.NoError(t, err)
	_, err = fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{{ShotID: uintPtr(fx.pcShot), RemoveStatus: []string{core.StatusUpCheckRequired}}})
	require.NoError(t, err)
	_, c := fx.character(t, fx.pcShot)
	require.NotContains(t, c.Status, core.StatusUpCheckRequired)

	_, err = fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(1)}})
	require.NoError(t, err)
	_, c = fx.character(t, fx.pcShot)
	assert.Equal(t, []string{"cheesing_it", core.StatusUpCheckRequired}, c.Status)
}

func TestApplyCombatAction_BossWoundsGoToCount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{{ShotID: uintPtr(fx.boss), Wounds: core.Some(10)}})
	require.NoError(t, err)

	s, c := fx.character(t, fx.boss)
	assert.Equal(t, 50, s.Count)
	assert.Equal(t, 0, c.ActionValues.Int(core.ActionValueWounds))
	assert.Contains(t, c.Status, core.StatusUpCheckRequired)

	// setting count directly is wound-affecting too
	_, err = fx.svc.ApplyCombatAction(ctx, fx.fight, []core.ShotUpdate{{ShotID: uintPtr(fx.boss), Count: core.Some(20)}})
	require.NoError(t, err)
	s, c = fx.character(t, fx.boss)
	assert.Equal(t, 20, s.Count)
	assert.NotContains(t, c.Status, core.StatusUpCheckRequired)
}

func TestApplyCombatAction_FeaturedFoeNeverNeedsUpCheck(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ApplyCombatAction(context.Background(), fx.fight, []core.ShotUpdate{{ShotID: uintPtr(fx.foeShot), Wounds: core.Some(100)}})
	require.NoError(t, err)

	_, c := fx.character(t, fx.foeShot)
	assert.Equal(t, 110, c.ActionValues.Int(core.ActionValueWounds))
	assert.Empty(t, c.Status)
}

func TestApplyCombatAction_RemoveBeforeAdd(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ApplyCombatAction(context.Background(), fx.fight, []core.ShotUpdate{{
		ShotID:       uintPtr(fx.pcShot),
		RemoveStatus: []string{"cheesing_it"},
		AddStatus:    []string{"cheesed_it"},
	}})
	require.NoError(t, err)

	_, c := fx.character(t, fx.pcShot)
	assert.Equal(t, []string{"cheesed_it"}, c.Status)
}

func TestApplyCombatAction_StatusIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	add := []core.ShotUpdate{{ShotID: uintPtr(fx.pcShot), AddStatus: []string{"dazed"}}}
	remove := []core.ShotUpdate{{ShotID: uintPtr(fx.pcShot), RemoveStatus: []string{"dazed"}}}

	for i := 0; i < 3; i++ {
		_, err := fx.svc.ApplyCombatAction(ctx, fx.fight, add)
		require.NoError(t, err)
	}
	_, c := fx.character(t, fx.pcShot)
	assert.Equal(t, []string{"cheesing_it", "dazed"}, c.Status)

	for i := 0; i < 3; i++ {
		_, err := fx.svc.ApplyCombatAction(ctx, fx.fight, remove)
		require.NoError(t, err)
	}
	_, c = fx.character(t, fx.pcShot)
	assert.Equal(t, []string{"cheesing_it"}, c.Status)
}

func TestApplyCombatAction_ShotFields(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ApplyCombatAction(context.Background(), fx.fight, []core.ShotUpdate{
		{ShotID: uintPtr(fx.pcShot), Shot: core.Some[*int](nil), Location: core.Some("roof"), Color: core.Some("#ff0000"), Impairments: core.Some(1)},
		{ShotID: uintPtr(fx.carShot), Shot: core.Some(intPtr(3)), WasRammedOrDamaged: core.Some(true), Wounds: core.Some(5)},
	})
	require.NoError(t, err)

	f := fx.reload(t)
	pc, _ := f.Shot(fx.pcShot)
	assert.Nil(t, pc.Shot)
	assert.Equal(t, "roof", pc.Location)
	assert.Equal(t, "#ff0000", pc.Color)
	assert.Equal(t, 1, pc.Impairments)

	car, _ := f.Shot(fx.carShot)
	assert.Equal(t, 3, *car.Shot)
	assert.True(t, car.WasRammedOrDamaged)
	assert.Contains(t, fx.logs.String(), "ignoring wounds and status on vehicle shot")
}

func TestApplyCombatAction_SoftSkips(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.ApplyCombatAction(context.Background(), fx.fight, []core.ShotUpdate{
		{Wounds: core.Some(10)},
		{ShotID: uintPtr(9999), Wounds: core.Some(10)},
		{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(5)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, fx.stats.skipped)
	assert.Contains(t, fx.logs.String(), "skipping update without shot_id")
	assert.Contains(t, fx.logs.String(), "skipping update for unknown shot")

	_, c := fx.character(t, fx.pcShot)
	assert.Equal(t, 35, c.ActionValues.Int(core.ActionValueWounds))
}

func TestApplyCombatAction_UpdatesApplyInOrder(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ApplyCombatAction(context.Background(), fx.fight, []core.ShotUpdate{
		{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(10)},
		{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(-6)},
	})
	require.NoError(t, err)

	_, c := fx.character(t, fx.pcShot)
	assert.Equal(t, 34, c.ActionValues.Int(core.ActionValueWounds))
	assert.NotContains(t, c.Status, core.StatusUpCheckRequired)
}

func TestApplyCombatAction_RecordsEventAndPublishes(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ApplyCombatAction(context.Background(), fx.fight, []core.ShotUpdate{{
		ShotID: uintPtr(fx.pcShot),
		Wounds: core.Some(3),
		Event:  json.RawMessage(`{"description":"Big Bruiser punches Kai"}`),
	}})
	require.NoError(t, err)

	var events []model.FightEvent
	require.NoError(t, fx.store.(*gormstorage.Backend).DB().Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, EventCombatAction, events[0].Kind)
	assert.JSONEq(t, `{"description":"Big Bruiser punches Kai"}`, string(events[0].Payload))

	require.Len(t, fx.pub.got, 2)
	assert.Equal(t, streaming.TypeFightUpdated, fx.pub.got[0].Type)
	assert.Equal(t, streaming.FightChannel(fx.fight.ID), fx.pub.got[0].Channel)
	assert.Equal(t, streaming.TypeCampaignUpdated, fx.pub.got[1].Type)
	assert.Equal(t, 1, fx.stats.actions)
}

func TestApplyCombatAction_DoesNotMutateArgument(t *testing.T) {
	fx := newFixture(t)
	loaded := fx.reload(t)
	s, _ := loaded.Shot(fx.pcShot)
	before := s.Character.ActionValues.Int(core.ActionValueWounds)

	_, err := fx.svc.ApplyCombatAction(context.Background(), loaded, []core.ShotUpdate{{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(10)}})
	require.NoError(t, err)
	assert.Equal(t, before, s.Character.ActionValues.Int(core.ActionValueWounds))
}

func TestApplyCombatAction_UnknownFight(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.ApplyCombatAction(context.Background(), &core.Fight{ID: 999}, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NotErrorIs(t, err, core.ErrCommitFailure)
}

// failingStore lets the transaction run against the real store but fails
// SaveCharacter, after SaveShot has already written.
type failingStore struct {
	storage.Store
}

func (f failingStore) Transaction(ctx context.Context, fn func(tx storage.Store) error) error {
	return f.Store.Transaction(ctx, func(tx storage.Store) error {
		return fn(failingTx{Store: tx})
	})
}

type failingTx struct {
	storage.Store
}

var errDiskFull = errors.New("disk full")

func (failingTx) SaveCharacter(context.Context, *core.Character) error {
	return errDiskFull
}

func TestApplyCombatAction_CommitFailureRollsBack(t *testing.T) {
	fx := newFixture(t)
	svc, err := NewService(Dependencies{Store: failingStore{Store: fx.store}, Publisher: fx.pub})
	require.NoError(t, err)

	_, err = svc.ApplyCombatAction(context.Background(), fx.fight, []core.ShotUpdate{
		{ShotID: uintPtr(fx.carShot), Location: core.Some("ditch")},
		{ShotID: uintPtr(fx.pcShot), Wounds: core.Some(10), Location: core.Some("alley")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCommitFailure)
	assert.ErrorIs(t, err, errDiskFull)

	f := fx.reload(t)
	pc, _ := f.Shot(fx.pcShot)
	car, _ := f.Shot(fx.carShot)
	assert.Empty(t, pc.Location)
	assert.Empty(t, car.Location, "earlier writes in the batch are rolled back")
	assert.Equal(t, 30, pc.Character.ActionValues.Int(core.ActionValueWounds))
	assert.Empty(t, fx.pub.got, "nothing is published for a failed batch")
}
