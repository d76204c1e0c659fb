// Package mongo provides MongoDB implementation of the preferences repository.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/preferences"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName is the collection holding preference documents.
const CollectionName = "notification_preferences"

type preferenceDocument struct {
	UserID          string          `bson:"_id"`
	EmailEnabled    bool            `bson:"email_enabled"`
	TypeEnabled     map[string]bool `bson:"type_enabled,omitempty"`
	Frequency       string          `bson:"frequency"`
	QuietHoursStart *int            `bson:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *int            `bson:"quiet_hours_end,omitempty"`
	Timezone        string          `bson:"timezone,omitempty"`
	UpdatedAt       bson.DateTime   `bson:"updated_at"`
}

// Repository implements preferences.Repository using MongoDB.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository creates a new MongoDB repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(CollectionName)}
}

// Get retrieves a user's preferences.
func (r *Repository) Get(ctx context.Context, userID string) (*domain.Preference, error) {
	var doc preferenceDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, preferences.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("find preference: %w", err)
	}
	return doc.toDomain(), nil
}

// Upsert creates or replaces a user's preferences.
func (r *Repository) Upsert(ctx context.Context, pref *domain.Preference) error {
	if err := preferences.Validate(pref); err != nil {
		return err
	}

	doc := fromDomain(pref)
	_, err := r.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: doc.UserID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (d *preferenceDocument) toDomain() *domain.Preference {
	types := make(map[domain.NotificationType]bool, len(d.TypeEnabled))
	for k, v := range d.TypeEnabled {
		types[domain.NotificationType(k)] = v
	}
	freq := domain.Frequency(d.Frequency)
	if freq == "" {
		freq = domain.FrequencyImmediate
	}
	return &domain.Preference{
		UserID:          d.UserID,
		EmailEnabled:    d.EmailEnabled,
		TypeEnabled:     types,
		Frequency:       freq,
		QuietHoursStart: d.QuietHoursStart,
		QuietHoursEnd:   d.QuietHoursEnd,
		Timezone:        d.Timezone,
		UpdatedAt:       d.UpdatedAt.Time().UTC(),
	}
}

func fromDomain(p *domain.Preference) preferenceDocument {
	types := make(map[string]bool, len(p.TypeEnabled))
	for k, v := range p.TypeEnabled {
		types[string(k)] = v
	}
	return preferenceDocument{
		UserID:          p.UserID,
		EmailEnabled:    p.EmailEnabled,
		TypeEnabled:     types,
		Frequency:       string(p.Frequency),
		QuietHoursStart: p.QuietHoursStart,
		QuietHoursEnd:   p.QuietHoursEnd,
		Timezone:        p.Timezone,
		UpdatedAt:       bson.NewDateTimeFromTime(p.UpdatedAt),
	}
}
