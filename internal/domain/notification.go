// Package domain contains the records shared between the queue and its collaborators.
package domain

import (
	"errors"
	"time"
)

// ErrNotificationNotFound is returned by record stores for unknown notification IDs.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationType identifies what a notification is about.
type NotificationType string

// Notification types produced by the job board services.
const (
	NotificationTypeJobAlert          NotificationType = "job_alert"
	NotificationTypeApplicationUpdate NotificationType = "application_update"
	NotificationTypeNewApplication    NotificationType = "new_application"
	NotificationTypeInterviewInvite   NotificationType = "interview_invite"
	NotificationTypeMessage           NotificationType = "message"
	NotificationTypeAccount           NotificationType = "account"
)

// DeliveryChannel is the transport a notification is delivered through.
type DeliveryChannel string

// Delivery channels.
const (
	DeliveryChannelEmail   DeliveryChannel = "email"
	DeliveryChannelWebhook DeliveryChannel = "webhook"
)

// DeliveryStatus is the delivery state stored on the notification record.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

// Notification is the record owned by the notification service.
// The queue only references it by ID.
type Notification struct {
	ID            string
	UserID        string
	Type          NotificationType
	Channel       DeliveryChannel
	Recipient     string // email address or webhook URL
	Subject       string
	Body          string
	Status        DeliveryStatus
	FailureReason string
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
