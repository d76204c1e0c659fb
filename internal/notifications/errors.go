package notifications

import "errors"

// Delivery errors.
var (
	ErrUnsupportedChannel = errors.New("no sender for delivery channel")
	ErrMissingRecipient   = errors.New("notification has no recipient")
)
