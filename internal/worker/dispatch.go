package worker

import (
	"context"
	"fmt"

	"github.com/chiwar/encounter/internal/dispatcher"
	"github.com/chiwar/encounter/internal/projector"
	"github.com/chiwar/encounter/pkg/core"
)

// BroadcastQueueSize bounds pending :FIGHT:BROADCAST: refreshes.
const BroadcastQueueSize = 64

// RegisterHandlers registers all command handlers with the dispatcher.
// Handlers run synchronously so the caller receives its result, except
// :FIGHT:BROADCAST:, which is queued and answered with "queued". Per-fight
// ordering comes from the store's transactions.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Fight lifecycle
	d.Register(":FIGHT:CREATE:", m.handleFightCreate, dispatcher.Logged())
	d.Register(":FIGHT:SHOW:", m.handleFightShow, dispatcher.Logged())
	d.Register(":FIGHT:SEQUENCE:", m.handleFightSequence, dispatcher.Logged())
	d.Register(":FIGHT:END:", m.handleFightEnd, dispatcher.Logged())
	d.Register(":FIGHT:BROADCAST:", m.handleFightBroadcast, dispatcher.Logged(), dispatcher.Buffered(BroadcastQueueSize))

	// Roster
	d.Register(":SHOT:JOIN:", m.handleShotJoin, dispatcher.Logged())
	d.Register(":SHOT:LEAVE:", m.handleShotLeave, dispatcher.Logged())
	d.Register(":SHOT:DRIVE:", m.handleShotDrive, dispatcher.Logged())
	d.Register(":EFFECT:ADD:", m.handleEffectAdd, dispatcher.Logged())

	// Combat
	d.Register(":COMBAT:ACTION:", m.handleCombatAction, dispatcher.Logged())
	d.Register(":UP:CHECK:", m.handleUpCheck, dispatcher.Logged())

	// Chases
	d.Register(":CHASE:START:", m.handleChaseStart, dispatcher.Logged())
	d.Register(":CHASE:POSITION:", m.handleChasePosition, dispatcher.Logged())
	d.Register(":CHASE:RESOLVE:", m.handleChaseResolve, dispatcher.Logged())
	d.Register(":CHASE:LIST:", m.handleChaseList, dispatcher.Logged())
}

// CombatActionResult is returned for :COMBAT:ACTION:.
type CombatActionResult struct {
	Applied   int                 `json:"applied"`
	Skipped   int                 `json:"skipped"`
	Malformed int                 `json:"malformed"`
	Encounter projector.Encounter `json:"encounter"`
}

func (m *Manager) handleFightCreate(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseFightCreate(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fight create: %w", err)
	}
	f, err := m.deps.Fights.Create(ctx, req.CampaignID, req.Name)
	if err != nil {
		return nil, err
	}
	return projector.Project(f), nil
}

func (m *Manager) handleFightShow(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseFightRef(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fight show: %w", err)
	}
	return m.deps.Fights.Show(ctx, req.FightID)
}

func (m *Manager) handleFightBroadcast(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseFightRef(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fight broadcast: %w", err)
	}
	return nil, m.deps.Fights.Broadcast(ctx, req.FightID)
}

func (m *Manager) handleFightSequence(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseFightRef(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fight sequence: %w", err)
	}
	seq, err := m.deps.Fights.AdvanceSequence(ctx, req.FightID)
	if err != nil {
		return nil, err
	}
	return map[string]int{"sequence": seq}, nil
}

func (m *Manager) handleFightEnd(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseFightRef(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fight end: %w", err)
	}
	if err := m.deps.Fights.End(ctx, req.FightID); err != nil {
		return nil, err
	}
	return m.deps.Fights.Show(ctx, req.FightID)
}

func (m *Manager) handleShotJoin(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseShotJoin(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse shot join: %w", err)
	}
	return m.deps.Fights.Join(ctx, req.FightID, req.Request)
}

func (m *Manager) handleShotLeave(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseShotRef(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse shot leave: %w", err)
	}
	if err := m.deps.Fights.Leave(ctx, req.FightID, req.ShotID); err != nil {
		return nil, err
	}
	return m.deps.Fights.Show(ctx, req.FightID)
}

func (m *Manager) handleShotDrive(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseDrive(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse drive: %w", err)
	}
	if req.VehicleShotID == 0 {
		err = m.deps.Fights.StopDriving(ctx, req.FightID, req.DriverShotID)
	} else {
		err = m.deps.Fights.Drive(ctx, req.FightID, req.DriverShotID, req.VehicleShotID)
	}
	if err != nil {
		return nil, err
	}
	return m.deps.Fights.Show(ctx, req.FightID)
}

func (m *Manager) handleEffectAdd(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseEffectAdd(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse effect: %w", err)
	}
	eff := req.Effect
	if err := m.deps.Fights.AddEffect(ctx, req.FightID, &eff); err != nil {
		return nil, err
	}
	return eff, nil
}

func (m *Manager) handleCombatAction(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseCombatAction(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse combat action: %w", err)
	}
	if req.Malformed > 0 {
		m.deps.LogManager.WriteLog("handleCombatAction", fmt.Sprintf("fight %d: %d malformed update records dropped", req.FightID, req.Malformed), "WARN")
	}

	res, err := m.deps.Combat.ApplyCombatAction(ctx, &core.Fight{ID: req.FightID}, req.Updates)
	if err != nil {
		return nil, err
	}
	return CombatActionResult{
		Applied:   res.Applied,
		Skipped:   res.Skipped,
		Malformed: req.Malformed,
		Encounter: projector.Project(res.Fight),
	}, nil
}

func (m *Manager) handleUpCheck(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseUpCheck(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse up check: %w", err)
	}
	f, err := m.deps.Combat.ApplyUpCheck(ctx, &core.Fight{ID: req.FightID}, req.Check)
	if err != nil {
		return nil, err
	}
	return projector.Project(f), nil
}

func (m *Manager) handleChaseStart(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseChaseStart(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chase start: %w", err)
	}
	return m.deps.Chases.Start(ctx, req.FightID, req.PursuerID, req.EvaderID, req.Position)
}

func (m *Manager) handleChasePosition(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseChaseRef(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chase position: %w", err)
	}
	if err := m.deps.Chases.SetPosition(ctx, req.FightID, req.ChaseID, req.Position); err != nil {
		return nil, err
	}
	return m.deps.Chases.ForFight(ctx, req.FightID)
}

func (m *Manager) handleChaseResolve(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseChaseRef(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chase resolve: %w", err)
	}
	if err := m.deps.Chases.Resolve(ctx, req.FightID, req.ChaseID); err != nil {
		return nil, err
	}
	return m.deps.Chases.ForFight(ctx, req.FightID)
}

func (m *Manager) handleChaseList(ctx context.Context, e dispatcher.Event) (any, error) {
	req, err := m.deps.Parser.ParseFightRef(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chase list: %w", err)
	}
	if req.VehicleID != 0 {
		return m.deps.Chases.ForVehicle(ctx, req.FightID, req.VehicleID)
	}
	return m.deps.Chases.ForFight(ctx, req.FightID)
}
