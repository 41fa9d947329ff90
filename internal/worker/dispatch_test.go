package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/chiwar/encounter/internal/chase"
	"github.com/chiwar/encounter/internal/combat"
	"github.com/chiwar/encounter/internal/dispatcher"
	"github.com/chiwar/encounter/internal/fight"
	"github.com/chiwar/encounter/internal/logging"
	"github.com/chiwar/encounter/internal/projector"
	gormstorage "github.com/chiwar/encounter/internal/storage/gorm"
	"github.com/chiwar/encounter/pkg/core"
	"github.com/chiwar/encounter/pkg/streaming"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// mockLogger implements dispatcher.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *mockLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *mockLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

type countingPublisher struct {
	mu  sync.Mutex
	got []streaming.Envelope
}

func (p *countingPublisher) Publish(_ context.Context, env streaming.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, env)
	return nil
}

func (p *countingPublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, env := range p.got {
		if env.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	d     *dispatcher.Dispatcher
	store *gormstorage.Backend
	pub   *countingPublisher
}

func newHarness(t *testing.T) *harness {
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

	logs := logging.NewSlogManager()
	pub := &countingPublisher{}
	store := gormstorage.New(gormstorage.Dependencies{DB: db, LogManager: logs})
	require.NoError(t, store.Init())

	combatSvc, err := combat.NewService(combat.Dependencies{Store: store})
	require.NoError(t, err)

	m := NewManager(Dependencies{
		Combat:     combatSvc,
		Chases:     chase.NewManager(chase.Dependencies{Store: store}),
		Fights:     fight.NewService(fight.Dependencies{Store: store, Publisher: pub}),
		LogManager: logs,
	})

	d, err := dispatcher.New(&mockLogger{})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	m.RegisterHandlers(d)

	return &harness{d: d, store: store, pub: pub}
}

func (h *harness) run(t *testing.T, command, payload string) (any, error) {
	t.Helper()
	return h.d.Dispatch(context.Background(), dispatcher.Event{Command: command, Payload: json.RawMessage(payload)})
}

func (h *harness) mustRun(t *testing.T, command, payload string) any {
	t.Helper()
	res, err := h.run(t, command, payload)
	require.NoError(t, err, command)
	return res
}

func TestRegisterHandlers(t *testing.T) {
	h := newHarness(t)
	for _, cmd := range []string{
		":FIGHT:CREATE:", ":FIGHT:SHOW:", ":FIGHT:SEQUENCE:", ":FIGHT:END:", ":FIGHT:BROADCAST:",
		":SHOT:JOIN:", ":SHOT:LEAVE:", ":SHOT:DRIVE:", ":EFFECT:ADD:",
		":COMBAT:ACTION:", ":UP:CHECK:",
		":CHASE:START:", ":CHASE:POSITION:", ":CHASE:RESOLVE:", ":CHASE:LIST:",
	} {
		assert.True(t, h.d.HasHandler(cmd), cmd)
	}
}

func TestFightBroadcastIsQueued(t *testing.T) {
	h := newHarness(t)
	res := h.mustRun(t, ":FIGHT:CREATE:", `{"campaign_id":1,"name":"Pier"}`)
	fightID := res.(projector.Encounter).FightID
	before := h.pub.count(streaming.TypeFightUpdated)

	for i := 0; i < 3; i++ {
		got := h.mustRun(t, ":FIGHT:BROADCAST:", jsonf(t, map[string]any{"fight_id": fightID}))
		assert.Equal(t, "queued", got)
	}
	// an unknown fight fails in the worker, not at dispatch
	assert.Equal(t, "queued", h.mustRun(t, ":FIGHT:BROADCAST:", `{"fight_id":999}`))

	h.d.Close()
	assert.Equal(t, before+3, h.pub.count(streaming.TypeFightUpdated))
}

func TestCombatRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	kai := &core.Character{Name: "Kai", Type: core.CharacterTypePC, ActionValues: core.ActionValues{"Wounds": 30}}
	require.NoError(t, h.store.CreateCharacter(ctx, kai))

	enc := h.mustRun(t, ":FIGHT:CREATE:", `{"campaign_id":1,"name":"Docks"}`).(projector.Encounter)
	fightID := enc.FightID

	shot := h.mustRun(t, ":SHOT:JOIN:", jsonf(t, map[string]any{"fight_id": fightID, "character_id": kai.ID, "shot": 12})).(*core.Shot)

	res := h.mustRun(t, ":COMBAT:ACTION:", jsonf(t, map[string]any{
		"fight_id": fightID,
		"updates": []any{
			map[string]any{"shot_id": shot.ID, "wounds": 10, "shot": 9},
			map[string]any{"wounds": 1},
			"not a record",
		},
	})).(CombatActionResult)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Malformed)
	require.Len(t, res.Encounter.Shots, 1)
	entry := res.Encounter.Shots[0].Characters[0]
	assert.Equal(t, 40, entry.Character.ActionValues.Int(core.ActionValueWounds))
	assert.Contains(t, entry.Character.Status, "up_check_required")

	after := h.mustRun(t, ":UP:CHECK:", jsonf(t, map[string]any{"fight_id": fightID, "character_id": kai.ID, "success": false})).(projector.Encounter)
	status := after.Shots[0].Characters[0].Character.Status
	assert.Contains(t, status, "out_of_fight")
	assert.NotContains(t, status, "up_check_required")

	seq := h.mustRun(t, ":FIGHT:SEQUENCE:", jsonf(t, map[string]any{"fight_id": fightID})).(map[string]int)
	assert.Equal(t, 2, seq["sequence"])

	ended := h.mustRun(t, ":FIGHT:END:", jsonf(t, map[string]any{"fight_id": fightID})).(projector.Encounter)
	assert.False(t, ended.Active)
	_, err := h.run(t, ":FIGHT:END:", jsonf(t, map[string]any{"fight_id": fightID}))
	assert.ErrorIs(t, err, core.ErrFightEnded)
}

func TestChaseAndDrivingRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ann := &core.Character{Name: "Ann", Type: core.CharacterTypePC}
	require.NoError(t, h.store.CreateCharacter(ctx, ann))
	car := &core.Vehicle{Name: "Car"}
	bike := &core.Vehicle{Name: "Bike"}
	require.NoError(t, h.store.CreateVehicle(ctx, car))
	require.NoError(t, h.store.CreateVehicle(ctx, bike))

	enc := h.mustRun(t, ":FIGHT:CREATE:", `{"campaign_id":1,"name":"Highway"}`).(projector.Encounter)
	fightID := enc.FightID

	annShot := h.mustRun(t, ":SHOT:JOIN:", jsonf(t, map[string]any{"fight_id": fightID, "character_id": ann.ID, "shot": 10})).(*core.Shot)
	carShot := h.mustRun(t, ":SHOT:JOIN:", jsonf(t, map[string]any{"fight_id": fightID, "vehicle_id": car.ID, "shot": 10})).(*core.Shot)
	h.mustRun(t, ":SHOT:JOIN:", jsonf(t, map[string]any{"fight_id": fightID, "vehicle_id": bike.ID, "shot": 7}))

	driven := h.mustRun(t, ":SHOT:DRIVE:", jsonf(t, map[string]any{"fight_id": fightID, "driver_shot_id": annShot.ID, "vehicle_shot_id": carShot.ID})).(projector.Encounter)
	require.Len(t, driven.Shots, 2)
	require.NotNil(t, driven.Shots[0].Characters[0].Driving)
	assert.Empty(t, driven.Shots[0].Vehicles)

	rel := h.mustRun(t, ":CHASE:START:", jsonf(t, map[string]any{"fight_id": fightID, "pursuer_id": car.ID, "evader_id": bike.ID, "position": "near"})).(*core.ChaseRelationship)
	_, err := h.run(t, ":CHASE:START:", jsonf(t, map[string]any{"fight_id": fightID, "pursuer_id": bike.ID, "evader_id": car.ID}))
	assert.ErrorIs(t, err, core.ErrConstraintViolation)

	mine := h.mustRun(t, ":CHASE:LIST:", jsonf(t, map[string]any{"fight_id": fightID, "vehicle_id": bike.ID})).([]core.VehicleChase)
	require.Len(t, mine, 1)
	assert.False(t, mine[0].IsPursuer)

	moved := h.mustRun(t, ":CHASE:POSITION:", jsonf(t, map[string]any{"fight_id": fightID, "chase_id": rel.ID, "position": "far"})).([]core.ChaseRelationship)
	assert.Equal(t, core.ChaseFar, moved[0].Position)

	left := h.mustRun(t, ":CHASE:RESOLVE:", jsonf(t, map[string]any{"fight_id": fightID, "chase_id": rel.ID})).([]core.ChaseRelationship)
	assert.Empty(t, left)

	walked := h.mustRun(t, ":SHOT:DRIVE:", jsonf(t, map[string]any{"fight_id": fightID, "driver_shot_id": annShot.ID})).(projector.Encounter)
	assert.Nil(t, walked.Shots[0].Characters[0].Driving)
	assert.Len(t, walked.Shots[0].Vehicles, 1)
}

func TestEffectAdd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	kai := &core.Character{Name: "Kai"}
	require.NoError(t, h.store.CreateCharacter(ctx, kai))
	enc := h.mustRun(t, ":FIGHT:CREATE:", `{"campaign_id":1,"name":"Temple"}`).(projector.Encounter)
	shot := h.mustRun(t, ":SHOT:JOIN:", jsonf(t, map[string]any{"fight_id": enc.FightID, "character_id": kai.ID, "shot": 3})).(*core.Shot)

	eff := h.mustRun(t, ":EFFECT:ADD:", jsonf(t, map[string]any{"fight_id": enc.FightID, "effect": map[string]any{"shot_id": shot.ID, "name": "Blinded"}})).(core.CharacterEffect)
	assert.NotZero(t, eff.ID)

	shown := h.mustRun(t, ":FIGHT:SHOW:", jsonf(t, map[string]any{"fight_id": enc.FightID})).(projector.Encounter)
	require.Len(t, shown.Shots[0].Characters[0].Effects, 1)

	h.mustRun(t, ":SHOT:LEAVE:", jsonf(t, map[string]any{"fight_id": enc.FightID, "shot_id": shot.ID}))
	shown = h.mustRun(t, ":FIGHT:SHOW:", jsonf(t, map[string]any{"fight_id": enc.FightID})).(projector.Encounter)
	assert.Empty(t, shown.Shots)
}

func TestParseErrorsAreInvalid(t *testing.T) {
	h := newHarness(t)
	for _, cmd := range []string{":FIGHT:SHOW:", ":COMBAT:ACTION:", ":UP:CHECK:", ":CHASE:START:", ":SHOT:DRIVE:"} {
		_, err := h.run(t, cmd, `{}`)
		assert.ErrorIs(t, err, core.ErrInvalid, cmd)
	}
}

func jsonf(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
