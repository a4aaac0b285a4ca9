package monitor

// trackOrderSize is the number of distinct recent tracks kept for re-entry detection.
const trackOrderSize = 5

// trackOrder is a fixed-capacity FIFO of recently entered track ids.
// Pushing onto a full buffer overwrites the oldest id.
type trackOrder struct {
	ids  [trackOrderSize]string
	head int // index of the oldest id
	size int
}

// Push appends id, evicting the oldest entry when full.
func (o *trackOrder) Push(id string) {
	if o.size < len(o.ids) {
		o.ids[(o.head+o.size)%len(o.ids)] = id
		o.size++
		return
	}
	o.ids[o.head] = id
	o.head = (o.head + 1) % len(o.ids)
}

// Contains reports whether id is among the buffered ids.
func (o *trackOrder) Contains(id string) bool {
	for i := 0; i < o.size; i++ {
		if o.ids[(o.head+i)%len(o.ids)] == id {
			return true
		}
	}
	return false
}

// Items returns the buffered ids, oldest first.
func (o *trackOrder) Items() []string {
	out := make([]string, o.size)
	for i := 0; i < o.size; i++ {
		out[i] = o.ids[(o.head+i)%len(o.ids)]
	}
	return out
}

// Len returns the number of buffered ids.
func (o *trackOrder) Len() int {
	return o.size
}
