package store

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/osa030/duet/internal/domain/recommendation"
)

// RecencyCache remembers what each persona picked recently.
type RecencyCache struct {
	db     *gorm.DB
	window time.Duration
	limit  int
	now    func() time.Time
}

// NewRecencyCache creates a recency cache returning at most limit picks made
// within window.
func NewRecencyCache(db *gorm.DB, window time.Duration, limit int) *RecencyCache {
	return &RecencyCache{db: db, window: window, limit: limit, now: time.Now}
}

// RecentPicks returns the persona's recent picks, newest first, without duplicates.
func (c *RecencyCache) RecentPicks(ctx context.Context, personaID string) ([]recommendation.Exclusion, error) {
	q := c.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Order("created_at DESC, id DESC")
	if c.window > 0 {
		q = q.Where("created_at >= ?", c.now().Add(-c.window))
	}
	if c.limit > 0 {
		q = q.Limit(c.limit)
	}

	var picks []RecentPick
	if err := q.Find(&picks).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load recent picks of %s", personaID)
	}

	seen := make(map[string]bool, len(picks))
	out := make([]recommendation.Exclusion, 0, len(picks))
	for _, p := range picks {
		key := strings.ToLower(p.Artist + "\x00" + p.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, recommendation.Exclusion{Artist: p.Artist, Title: p.Title})
	}
	return out, nil
}

// Record stores a pick.
func (c *RecencyCache) Record(ctx context.Context, personaID, artist, title, artworkURL string) error {
	pick := RecentPick{
		PersonaID:  personaID,
		Artist:     artist,
		Title:      title,
		ArtworkURL: artworkURL,
		CreatedAt:  c.now(),
	}
	if err := c.db.WithContext(ctx).Create(&pick).Error; err != nil {
		return errors.Wrapf(err, "failed to record pick of %s", personaID)
	}
	return nil
}

// Prune deletes picks older than the window. It returns the number of rows deleted.
func (c *RecencyCache) Prune(ctx context.Context) (int64, error) {
	if c.window <= 0 {
		return 0, nil
	}
	result := c.db.WithContext(ctx).
		Where("created_at < ?", c.now().Add(-c.window)).
		Delete(&RecentPick{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to prune recent picks")
	}
	return result.RowsAffected, nil
}
