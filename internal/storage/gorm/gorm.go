// Package gormstorage implements storage.Store on top of GORM. The postgres
// and sqlite backends embed it and only add connection and dump handling.
package gormstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chiwar/encounter/internal/logging"
	"github.com/chiwar/encounter/internal/model"
	"github.com/chiwar/encounter/internal/model/convert"
	"github.com/chiwar/encounter/internal/storage"
	"github.com/chiwar/encounter/pkg/core"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB         *gorm.DB
	LogManager *logging.SlogManager
}

// Backend implements storage.Store using GORM.
type Backend struct {
	deps Dependencies
	db   *gorm.DB
	inTx bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{deps: deps, db: deps.DB}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init runs schema migration.
func (b *Backend) Init() error {
	if b.db == nil {
		return errors.New("gormstorage: no database configured")
	}
	if err := b.setupDB(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

// setupDB migrates tables and creates indexes GORM tags cannot express.
func (b *Backend) setupDB() error {
	log := b.deps.LogManager

	log.WriteLog("setupDB", "Migrating schema", "INFO")
	if err := b.db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// one active chase per unordered vehicle pair per fight
	if err := b.db.Exec(fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %s ON chase_relationships (fight_id, pair_low, pair_high) WHERE active`,
		model.ActiveChasePairIndex,
	)).Error; err != nil {
		return fmt.Errorf("failed to create %s: %w", model.ActiveChasePairIndex, err)
	}

	log.WriteLog("setupDB", "Database setup complete", "INFO")
	return nil
}

// Close is a no-op; connections are owned by the caller that opened them.
func (b *Backend) Close() error {
	return nil
}

// Transaction runs fn inside a database transaction. The Store passed to fn
// is bound to the transaction and must be the only one used inside fn.
func (b *Backend) Transaction(ctx context.Context, fn func(tx storage.Store) error) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Backend{deps: b.deps, db: tx, inTx: true})
	})
}

////////////////////////
// FIGHT
////////////////////////

// CreateFight inserts the fight row and assigns its ID.
func (b *Backend) CreateFight(ctx context.Context, f *core.Fight) error {
	if f.Sequence == 0 {
		f.Sequence = 1
	}
	row := convert.CoreToFight(*f)
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert fight: %w", err)
	}
	f.ID = row.ID
	return nil
}

// LoadFight loads the fight aggregate: shots with their character or
// vehicle, every chase relationship and every effect. Inside a transaction
// the fight row is locked FOR UPDATE until commit, so writers of one fight
// run their read-modify-write one after another. SQLite has no row locks
// and relies on its single connection instead.
func (b *Backend) LoadFight(ctx context.Context, id uint) (*core.Fight, error) {
	db := b.db.WithContext(ctx)

	q := db
	if b.inTx {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}

	var f model.Fight
	err := q.
		Preload("Shots", func(db *gorm.DB) *gorm.DB { return db.Order("shots.id") }).
		Preload("Shots.Character").
		Preload("Shots.Vehicle").
		First(&f, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("fight %d: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load fight %d: %w", id, err)
	}

	var chases []model.ChaseRelationship
	if err := db.Where("fight_id = ?", id).Order("id").Find(&chases).Error; err != nil {
		return nil, fmt.Errorf("failed to load chases for fight %d: %w", id, err)
	}

	var effects []model.CharacterEffect
	if err := db.Where("fight_id = ?", id).Order("id").Find(&effects).Error; err != nil {
		return nil, fmt.Errorf("failed to load effects for fight %d: %w", id, err)
	}

	out, err := convert.FightToCore(f, chases, effects)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fight %d: %w", id, err)
	}
	return &out, nil
}

// AdvanceSequence increments the sequence counter in SQL and reads it back
// in the same transaction, so concurrent callers never lose an increment.
func (b *Backend) AdvanceSequence(ctx context.Context, fightID uint) (int, error) {
	var seq int
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Fight{}).
			Where("id = ?", fightID).
			UpdateColumn("sequence", gorm.Expr("sequence + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("fight %d: %w", fightID, core.ErrNotFound)
		}
		return tx.Model(&model.Fight{}).Select("sequence").Where("id = ?", fightID).Scan(&seq).Error
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// EndFight flips active to false only if it is still true.
func (b *Backend) EndFight(ctx context.Context, fightID uint) error {
	db := b.db.WithContext(ctx)
	now := time.Now().UTC()

	res := db.Model(&model.Fight{}).
		Where("id = ? AND active = ?", fightID, true).
		Updates(map[string]any{"active": false, "ended_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to end fight %d: %w", fightID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := db.Model(&model.Fight{}).Where("id = ?", fightID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up fight %d: %w", fightID, err)
	}
	if count == 0 {
		return fmt.Errorf("fight %d: %w", fightID, core.ErrNotFound)
	}
	return fmt.Errorf("fight %d: %w", fightID, core.ErrFightEnded)
}

////////////////////////
// ROSTER
////////////////////////

// CreateCharacter inserts a character and assigns its ID.
func (b *Backend) CreateCharacter(ctx context.Context, c *core.Character) error {
	row, err := convert.CoreToCharacter(*c)
	if err != nil {
		return err
	}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert character: %w", err)
	}
	c.ID = row.ID
	return nil
}

// CreateVehicle inserts a vehicle and assigns its ID.
func (b *Backend) CreateVehicle(ctx context.Context, v *core.Vehicle) error {
	row, err := convert.CoreToVehicle(*v)
	if err != nil {
		return err
	}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert vehicle: %w", err)
	}
	v.ID = row.ID
	return nil
}

// AddShot inserts a shot binding exactly one character or vehicle.
func (b *Backend) AddShot(ctx context.Context, s *core.Shot) error {
	if s.IsCharacter() == s.IsVehicle() {
		return fmt.Errorf("shot must bind exactly one character or vehicle: %w", core.ErrInvalid)
	}
	row := convert.CoreToShot(*s)
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("failed to insert shot: %w: %v", core.ErrConstraintViolation, err)
		}
		return fmt.Errorf("failed to insert shot: %w", err)
	}
	s.ID = row.ID
	return nil
}

// RemoveShot hard-deletes a shot, clearing driver links that point at it
// and the effects scoped to it.
func (b *Backend) RemoveShot(ctx context.Context, fightID, shotID uint) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Shot{}).
			Where("fight_id = ? AND driving_id = ?", fightID, shotID).
			Update("driving_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Shot{}).
			Where("fight_id = ? AND driver_id = ?", fightID, shotID).
			Update("driver_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("fight_id = ? AND shot_id = ?", fightID, shotID).
			Delete(&model.CharacterEffect{}).Error; err != nil {
			return err
		}

		res := tx.Where("id = ? AND fight_id = ?", shotID, fightID).Delete(&model.Shot{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("shot %d: %w", shotID, core.ErrNotFound)
		}
		return nil
	})
}

////////////////////////
// COMBAT STATE
////////////////////////

// SaveShot writes every mutable shot column.
func (b *Backend) SaveShot(ctx context.Context, s *core.Shot) error {
	res := b.db.WithContext(ctx).Model(&model.Shot{}).
		Where("id = ? AND fight_id = ?", s.ID, s.FightID).
		Updates(map[string]any{
			"shot":                  s.Shot,
			"count":                 s.Count,
			"impairments":           s.Impairments,
			"color":                 s.Color,
			"location":              s.Location,
			"driver_id":             s.DriverID,
			"driving_id":            s.DrivingID,
			"was_rammed_or_damaged": s.WasRammedOrDamaged,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save shot %d: %w", s.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("shot %d: %w", s.ID, core.ErrNotFound)
	}
	return nil
}

// SaveCharacter writes the character's action values, status and impairments.
func (b *Backend) SaveCharacter(ctx context.Context, c *core.Character) error {
	row, err := convert.CoreToCharacter(*c)
	if err != nil {
		return err
	}
	res := b.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"action_values": row.ActionValues,
			"status":        row.Status,
			"impairments":   row.Impairments,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save character %d: %w", c.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("character %d: %w", c.ID, core.ErrNotFound)
	}
	return nil
}

////////////////////////
// CHASES
////////////////////////

// CreateChase inserts an active chase. A second active row for the same
// unordered pair is rejected by the partial unique index.
func (b *Backend) CreateChase(ctx context.Context, c *core.ChaseRelationship) error {
	row := convert.CoreToChase(*c)
	row.Active = true
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("chase %d/%d in fight %d: %w", c.PursuerID, c.EvaderID, c.FightID, core.ErrConstraintViolation)
		}
		return fmt.Errorf("failed to insert chase: %w", err)
	}
	c.ID = row.ID
	c.Active = true
	c.CreatedAt = row.CreatedAt
	c.UpdatedAt = row.UpdatedAt
	return nil
}

// UpdateChasePosition changes the position of an active chase.
func (b *Backend) UpdateChasePosition(ctx context.Context, fightID, chaseID uint, pos core.ChasePosition) error {
	res := b.db.WithContext(ctx).Model(&model.ChaseRelationship{}).
		Where("id = ? AND fight_id = ? AND active = ?", chaseID, fightID, true).
		Update("position", string(pos))
	if res.Error != nil {
		return fmt.Errorf("failed to update chase %d: %w", chaseID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("active chase %d: %w", chaseID, core.ErrNotFound)
	}
	return nil
}

// DeactivateChase sets active to false. Rows are never deleted.
func (b *Backend) DeactivateChase(ctx context.Context, fightID, chaseID uint) error {
	res := b.db.WithContext(ctx).Model(&model.ChaseRelationship{}).
		Where("id = ? AND fight_id = ?", chaseID, fightID).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate chase %d: %w", chaseID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chase %d: %w", chaseID, core.ErrNotFound)
	}
	return nil
}

// ActiveChases returns the active chase relationships of a fight.
func (b *Backend) ActiveChases(ctx context.Context, fightID uint) ([]core.ChaseRelationship, error) {
	var rows []model.ChaseRelationship
	if err := b.db.WithContext(ctx).
		Where("fight_id = ? AND active = ?", fightID, true).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load chases for fight %d: %w", fightID, err)
	}
	out := make([]core.ChaseRelationship, 0, len(rows))
	for _, r := range rows {
		out = append(out, convert.ChaseToCore(r))
	}
	return out, nil
}

////////////////////////
// EFFECTS AND HISTORY
////////////////////////

// AddEffect inserts a character effect and assigns its ID.
func (b *Backend) AddEffect(ctx context.Context, e *core.CharacterEffect) error {
	row := convert.CoreToEffect(*e)
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert effect: %w", err)
	}
	e.ID = row.ID
	return nil
}

// RecordFightEvent appends an audit record. The payload is stored verbatim.
func (b *Backend) RecordFightEvent(ctx context.Context, fightID uint, kind string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	row := model.FightEvent{
		UUID:    uuid.NewString(),
		FightID: fightID,
		Kind:    kind,
		Payload: datatypes.JSON(payload),
	}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record %s event: %w", kind, err)
	}
	return nil
}

// isConstraintError reports whether err is a uniqueness or check violation.
// Drivers without error translation are matched on their message.
func isConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "violates check constraint")
}
