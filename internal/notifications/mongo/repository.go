// Package mongo provides MongoDB storage for notification records.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName is the collection holding notification records.
const CollectionName = "notifications"

type notificationDocument struct {
	ID            string     `bson:"_id"`
	UserID        string     `bson:"user_id"`
	Type          string     `bson:"type"`
	Channel       string     `bson:"channel"`
	Recipient     string     `bson:"recipient"`
	Subject       string     `bson:"subject,omitempty"`
	Body          string     `bson:"body"`
	Status        string     `bson:"status"`
	FailureReason string     `bson:"failure_reason,omitempty"`
	SentAt        *time.Time `bson:"sent_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

// Repository stores notification records and implements queue.RecordStore.
type Repository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewRepository creates a new MongoDB repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		coll: db.Collection(CollectionName),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the index used by LastSentAt.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "status", Value: 1},
			{Key: "sent_at", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("create notifications index: %w", err)
	}
	return nil
}

// Create inserts a notification record.
func (r *Repository) Create(ctx context.Context, n *domain.Notification) error {
	now := r.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = domain.DeliveryStatusPending
	}

	if _, err := r.coll.InsertOne(ctx, fromDomain(n)); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotification retrieves a notification record by ID.
func (r *Repository) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	var doc notificationDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return doc.toDomain(), nil
}

// UpdateDeliveryStatus records the delivery outcome on the notification.
func (r *Repository) UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus, reason string) error {
	now := r.now()
	set := bson.D{
		{Key: "status", Value: string(status)},
		{Key: "failure_reason", Value: reason},
		{Key: "updated_at", Value: now},
	}
	if status == domain.DeliveryStatusSent {
		set = append(set, bson.E{Key: "sent_at", Value: now})
	}

	res, err := r.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// LastSentAt returns when the user last received a notification, or zero if never.
func (r *Repository) LastSentAt(ctx context.Context, userID string) (time.Time, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "sent_at", Value: -1}}).
		SetProjection(bson.D{{Key: "sent_at", Value: 1}})

	var doc struct {
		SentAt *time.Time `bson:"sent_at"`
	}
	filter := bson.D{
		{Key: "user_id", Value: userID},
		{Key: "status", Value: string(domain.DeliveryStatusSent)},
	}
	err := r.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("find last sent: %w", err)
	}
	if doc.SentAt == nil {
		return time.Time{}, nil
	}
	return doc.SentAt.UTC(), nil
}

func (d *notificationDocument) toDomain() *domain.Notification {
	return &domain.Notification{
		ID:            d.ID,
		UserID:        d.UserID,
		Type:          domain.NotificationType(d.Type),
		Channel:       domain.DeliveryChannel(d.Channel),
		Recipient:     d.Recipient,
		Subject:       d.Subject,
		Body:          d.Body,
		Status:        domain.DeliveryStatus(d.Status),
		FailureReason: d.FailureReason,
		SentAt:        d.SentAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func fromDomain(n *domain.Notification) notificationDocument {
	return notificationDocument{
		ID:            n.ID,
		UserID:        n.UserID,
		Type:          string(n.Type),
		Channel:       string(n.Channel),
		Recipient:     n.Recipient,
		Subject:       n.Subject,
		Body:          n.Body,
		Status:        string(n.Status),
		FailureReason: n.FailureReason,
		SentAt:        n.SentAt,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}
