package reactor

// handle identifies a live connection inside the reactor. Handles are even,
// which frees the low bit of an event tag to tell socket events from timer
// events of the same connection.
type handle uint64

// eventKind is the discriminator carried in the low bit of a tag
type eventKind uint64

const (
	socketEvent eventKind = 0
	timerEvent  eventKind = 1
)

// Tags of the reactor's own descriptors. Handle 0 is never allocated, so
// neither collides with a connection tag.
const (
	listenerTag uint64 = 0
	wakeTag     uint64 = 1
)

// firstHandle is the first connection handle allocated
const firstHandle handle = 2

func (h handle) tag(kind eventKind) uint64 {
	return uint64(h) | uint64(kind)
}

// id is the connection number shown to users
func (h handle) id() uint64 {
	return uint64(h) >> 1
}

func (h handle) next() handle {
	return h + 2
}

func decodeTag(tag uint64) (handle, eventKind) {
	return handle(tag &^ 1), eventKind(tag & 1)
}
