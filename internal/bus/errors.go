package bus

import "errors"

var (
	// ErrSignalChannelFull is returned when a subscriber's outbound
	// buffer cannot absorb another signal.
	ErrSignalChannelFull = errors.New("signal channel full")

	// ErrSubscriberClosed is returned when sending to an already-closed
	// subscriber.
	ErrSubscriberClosed = errors.New("subscriber closed")
)
