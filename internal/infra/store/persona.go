package store

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/osa030/duet/internal/domain/persona"
	"github.com/osa030/duet/internal/domain/recommendation"
	"github.com/osa030/duet/internal/domain/track"
)

// PersonaStore persists personas and their first-pick slot.
type PersonaStore struct {
	db *gorm.DB
}

// NewPersonaStore creates a persona store.
func NewPersonaStore(db *gorm.DB) *PersonaStore {
	return &PersonaStore{db: db}
}

// SeedPersonas upserts personas. Cached first picks are kept.
func (s *PersonaStore) SeedPersonas(ctx context.Context, personas []persona.Persona) error {
	for _, p := range personas {
		rec := PersonaRecord{
			ID:          p.ID,
			Name:        p.Name,
			StyleGuide:  p.StyleGuide,
			Description: p.Description,
		}
		result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "style_guide", "description", "updated_at"}),
		}).Omit("FirstSelection").Create(&rec)
		if result.Error != nil {
			return errors.Wrapf(result.Error, "failed to seed persona %s", p.ID)
		}
	}
	return nil
}

// ListPersonas returns all personas with their cached pick.
func (s *PersonaStore) ListPersonas(ctx context.Context) ([]persona.Persona, error) {
	var recs []PersonaRecord
	if err := s.db.WithContext(ctx).Preload("FirstSelection").Order("id").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list personas")
	}
	out := make([]persona.Persona, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toDomain())
	}
	return out, nil
}

// GetPersona returns the persona or nil if it does not exist.
func (s *PersonaStore) GetPersona(ctx context.Context, id string) (*persona.Persona, error) {
	var rec PersonaRecord
	err := s.db.WithContext(ctx).Preload("FirstSelection").Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get persona %s", id)
	}
	p := rec.toDomain()
	return &p, nil
}

// SaveFirstSelection stores the persona's cached pick, replacing any previous one.
func (s *PersonaStore) SaveFirstSelection(ctx context.Context, personaID string, fs persona.FirstSelection) error {
	rec, err := newFirstSelectionRecord(personaID, fs)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "persona_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"artist", "title", "rationale", "track", "created_at"}),
	}).Create(rec)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to save first selection of %s", personaID)
	}
	return nil
}

// TakeFirstSelection reads and deletes the cached pick in one transaction.
// Only the caller whose delete removed the row gets the pick; it returns nil
// when the slot is empty.
func (s *PersonaStore) TakeFirstSelection(ctx context.Context, personaID string) (*persona.FirstSelection, error) {
	var taken *persona.FirstSelection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec FirstSelectionRecord
		err := tx.Where("persona_id = ?", personaID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read")
		}

		result := tx.Where("persona_id = ?", personaID).Delete(&FirstSelectionRecord{})
		if result.Error != nil {
			return errors.Wrap(result.Error, "delete")
		}
		if result.RowsAffected == 0 {
			return nil
		}
		fs := rec.toDomain()
		taken = &fs
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to take first selection of %s", personaID)
	}
	return taken, nil
}

// ClearFirstSelection deletes the cached pick and reports whether one existed.
func (s *PersonaStore) ClearFirstSelection(ctx context.Context, personaID string) (bool, error) {
	result := s.db.WithContext(ctx).Where("persona_id = ?", personaID).Delete(&FirstSelectionRecord{})
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "failed to clear first selection of %s", personaID)
	}
	return result.RowsAffected > 0, nil
}

func (r *PersonaRecord) toDomain() persona.Persona {
	p := persona.Persona{
		ID:          r.ID,
		Name:        r.Name,
		StyleGuide:  r.StyleGuide,
		Description: r.Description,
	}
	if r.FirstSelection != nil {
		fs := r.FirstSelection.toDomain()
		p.FirstSelection = &fs
	}
	return p
}

func newFirstSelectionRecord(personaID string, fs persona.FirstSelection) (*FirstSelectionRecord, error) {
	rec := &FirstSelectionRecord{
		PersonaID: personaID,
		Artist:    fs.Recommendation.Artist,
		Title:     fs.Recommendation.Title,
		Rationale: fs.Recommendation.Rationale,
		CreatedAt: fs.CreatedAt,
	}
	if fs.Track != nil {
		data, err := json.Marshal(fs.Track)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode track")
		}
		rec.Track = string(data)
	}
	return rec, nil
}

func (r *FirstSelectionRecord) toDomain() persona.FirstSelection {
	fs := persona.FirstSelection{
		Recommendation: recommendation.Recommendation{
			Artist:    r.Artist,
			Title:     r.Title,
			Rationale: r.Rationale,
		},
		CreatedAt: r.CreatedAt,
	}
	if r.Track != "" {
		var t track.Track
		if err := json.Unmarshal([]byte(r.Track), &t); err == nil {
			fs.Track = &t
		}
	}
	return fs
}
