package errors

// Error codes shared by the mediator, the event bus transports, storage and the
// booking domain. Keep stable; the REST layer and adapters match on them.
const (
	ErrCodeHandlerExists       = "servicebus.handler_exists"
	ErrCodeHandlerNotFound     = "servicebus.handler_not_found"
	ErrCodeHandlerTypeMismatch = "servicebus.handler_type_mismatch"

	ErrCodeTransportNotConfigured = "eventbus.transport_not_configured"
	ErrCodeUnknownTransport       = "eventbus.unknown_transport"
	ErrCodePublishFailed          = "eventbus.publish_failed"
	ErrCodeSubscribeFailed        = "eventbus.subscribe_failed"
	ErrCodeSerializationFailed    = "eventbus.serialization_failed"
	ErrCodeInvalidEvent           = "eventbus.invalid_event"
	ErrCodeBusClosed              = "eventbus.closed"

	ErrCodeRoomUnavailable = "booking.room_unavailable"
	ErrCodeInvalidPeriod   = "booking.invalid_period"
	ErrCodeInvalidBooking  = "booking.invalid_booking"

	ErrCodeDuplicateBooking = "storage.duplicate_booking"
	ErrCodeStorageConfig    = "storage.not_configured"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrHandlerExists       = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound     = Code(ErrCodeHandlerNotFound)
	ErrHandlerTypeMismatch = Code(ErrCodeHandlerTypeMismatch)

	ErrTransportNotConfigured = Code(ErrCodeTransportNotConfigured)
	ErrUnknownTransport       = Code(ErrCodeUnknownTransport)
	ErrPublishFailed          = Code(ErrCodePublishFailed)
	ErrSubscribeFailed        = Code(ErrCodeSubscribeFailed)
	ErrSerializationFailed    = Code(ErrCodeSerializationFailed)
	ErrInvalidEvent           = Code(ErrCodeInvalidEvent)
	ErrBusClosed              = Code(ErrCodeBusClosed)

	// ErrRoomUnavailable is the only business rule violation; the REST layer maps it to 409.
	ErrRoomUnavailable = Code(ErrCodeRoomUnavailable)
	ErrInvalidPeriod   = Code(ErrCodeInvalidPeriod)
	ErrInvalidBooking  = Code(ErrCodeInvalidBooking)

	// ErrDuplicateBooking is raised by write registries enforcing the (room, arrival, departure) constraint.
	ErrDuplicateBooking = Code(ErrCodeDuplicateBooking)
	ErrStorageConfig    = Code(ErrCodeStorageConfig)
)
