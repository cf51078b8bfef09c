package rig

// EventType identifies different rig events.
type EventType int

const (
	EventProjectLoaded EventType = iota
	EventProjectSaved
	EventCalibrated     // data: device name
	EventTargetsChanged // data: []r3.Vector
	EventPatchFinished  // data: patch.Result
	EventModified       // data: bool
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// On registers an event listener for the specified event type.
func (r *Rig) On(event EventType, listener EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[event] = append(r.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (r *Rig) Emit(event EventType, data interface{}) {
	r.mu.RLock()
	listeners := r.listeners[event]
	r.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// SetModified marks the rig state as modified and emits an event.
func (r *Rig) SetModified(modified bool) {
	r.mu.Lock()
	r.modified = modified
	r.mu.Unlock()
	r.Emit(EventModified, modified)
}

// Modified reports whether the state changed since the last save or load.
func (r *Rig) Modified() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modified
}
