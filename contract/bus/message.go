package bus

// Command is a marker interface for commands (intent to change state).
// A command should have a single handler.
type Command interface{}

// Query is a marker interface for queries. Queries are handled synchronously and must not change state.
type Query interface{}

// Header keys set on every message by the typed event helpers.
const (
	HeaderEventID      = "event-id"
	HeaderEventName    = "event-name"
	HeaderContentType  = "content-type"
	// HeaderPartitionKey groups messages that must stay ordered relative to
	// each other on partitioned transports.
	HeaderPartitionKey = "partition-key"
)

// Message is the transport envelope: an opaque UTF-8 JSON body plus string
// headers. Typed payloads are encoded and validated by the domain event
// helpers at the boundary, never by the transports.
type Message struct {
	Body    []byte
	Headers map[string]string
}

// ID returns the event id header, if any.
func (m Message) ID() string { return m.Headers[HeaderEventID] }

// Clone returns a copy whose headers map can be mutated safely.
func (m Message) Clone() Message {
	h := make(map[string]string, len(m.Headers)+2)
	for k, v := range m.Headers {
		h[k] = v
	}

	return Message{Body: m.Body, Headers: h}
}
