package streamsplit

import "sync"

// OpenStream records which clients hold one opened hardware device.
type OpenStream struct {
	deviceID uint32
	handle   Handle
	input    Input

	mu       sync.Mutex
	playback *slotTable[ClientID, struct{}]
	record   *slotTable[ClientID, struct{}]
	total    int
	lastID   ClientID
}

func newOpenStream(deviceID uint32, h Handle, in Input, maxPerKind int) *OpenStream {
	return &OpenStream{
		deviceID: deviceID,
		handle:   h,
		input:    in,
		playback: newSlotTable[ClientID, struct{}](maxPerKind),
		record:   newSlotTable[ClientID, struct{}](maxPerKind),
	}
}

// DeviceID returns the hardware device this stream was opened for.
func (o *OpenStream) DeviceID() uint32 { return o.deviceID }

// Handle returns the directory handle of the opened input.
func (o *OpenStream) Handle() Handle { return o.handle }

// Input returns the opened hardware input.
func (o *OpenStream) Input() Input { return o.input }

func (o *OpenStream) table(kind ClientKind) *slotTable[ClientID, struct{}] {
	if kind == KindRecord {
		return o.record
	}
	return o.playback
}

// AddClient registers a new client of kind and returns its id. Ids start at
// 1 and are never reused for the lifetime of the stream.
func (o *OpenStream) AddClient(kind ClientKind) (ClientID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := o.table(kind)
	if t.Full() {
		return 0, capacityError(kind.String(), t.Cap())
	}

	id := o.lastID + 1
	if err := t.Insert(id, struct{}{}); err != nil {
		return 0, capacityError(kind.String(), t.Cap())
	}
	o.lastID = id
	o.total++
	return id, nil
}

// Purge removes client id and returns how many clients remain. ok is false
// when id was not registered, in which case nothing changes.
func (o *OpenStream) Purge(id ClientID) (remaining int, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, found := o.playback.Remove(id); !found {
		if _, found = o.record.Remove(id); !found {
			return o.total, false
		}
	}
	o.total--
	return o.total, true
}

// KindOf reports whether id is a playback or record client.
func (o *OpenStream) KindOf(id ClientID) (ClientKind, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.kindOfLocked(id)
}

func (o *OpenStream) kindOfLocked(id ClientID) (ClientKind, bool) {
	if _, ok := o.playback.Get(id); ok {
		return KindPlayback, true
	}
	if _, ok := o.record.Get(id); ok {
		return KindRecord, true
	}
	return 0, false
}

// HasClient reports whether id is registered.
func (o *OpenStream) HasClient(id ClientID) bool {
	_, ok := o.KindOf(id)
	return ok
}

// ClientCount returns the total number of registered clients.
func (o *OpenStream) ClientCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// CountOf returns the number of registered clients of kind.
func (o *OpenStream) CountOf(kind ClientKind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.table(kind).Len()
}

// LatestClientID returns the most recently issued id, or 0 if none.
func (o *OpenStream) LatestClientID() ClientID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastID
}

// Clients returns the registered ids of kind in slot order.
func (o *OpenStream) Clients(kind ClientKind) []ClientID {
	o.mu.Lock()
	defer o.mu.Unlock()

	var ids []ClientID
	for id := range o.table(kind).All() {
		ids = append(ids, id)
	}
	return ids
}
