package core

import (
	"sync"

	"github.com/spaghettifunk/ember/engine/containers"
)

// EventContext carries the payload of an event. Producers document which
// fields a given code fills.
type EventContext struct {
	Data struct {
		I64 [2]int64
		U64 [2]uint64
		F64 [2]float64

		I32 [4]int32
		U32 [4]uint32
		F32 [4]float32

		I16 [8]int16
		U16 [8]uint16

		I8 [16]int8
		U8 [16]uint8
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Keyboard key pressed.
	// u16 key_code = data.U16[0]
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02

	// Keyboard key released.
	// u16 key_code = data.U16[0]
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03

	// Mouse button pressed.
	// u16 button = data.U16[0], u16 mods = data.U16[1]
	EVENT_CODE_BUTTON_PRESSED SystemEventCode = 0x04

	// Mouse button released.
	// u16 button = data.U16[0], u16 mods = data.U16[1]
	EVENT_CODE_BUTTON_RELEASED SystemEventCode = 0x05

	// Mouse moved.
	// f64 x = data.F64[0], f64 y = data.F64[1]
	EVENT_CODE_MOUSE_MOVED SystemEventCode = 0x06

	// Mouse wheel or trackpad scroll.
	// f64 dx = data.F64[0], f64 dy = data.F64[1]
	EVENT_CODE_MOUSE_WHEEL SystemEventCode = 0x07

	// Resized/resolution changed from the OS.
	// u32 width = data.U32[0], u32 height = data.U32[1]
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// Should return true if handled. A handled event is not passed to the
// remaining listeners.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type queuedEvent struct {
	code   SystemEventCode
	sender interface{}
	data   EventContext
}

// EventBus dispatches window and application events to registered
// listeners. Post may be called from any goroutine; Dispatch and Fire run
// callbacks on the calling goroutine.
type EventBus struct {
	mu         sync.Mutex
	registered map[SystemEventCode][]registeredEvent
	queue      *containers.RingQueue[queuedEvent]
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]registeredEvent),
		queue:      containers.NewRingQueue[queuedEvent](64, true),
	}
}

// Register adds a listener for code. Registering the same listener twice for
// one code is rejected.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, fn FnOnEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if listener != nil && e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{listener: listener, callback: fn})
	return true
}

func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Post queues an event for the next Dispatch.
func (b *EventBus) Post(code SystemEventCode, sender interface{}, data EventContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// growable queue, Enqueue cannot fail
	_ = b.queue.Enqueue(queuedEvent{code: code, sender: sender, data: data})
}

// Fire dispatches immediately and reports whether a listener handled it.
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, data EventContext) bool {
	b.mu.Lock()
	listeners := append([]registeredEvent(nil), b.registered[code]...)
	b.mu.Unlock()

	for _, e := range listeners {
		if e.callback(code, sender, e.listener, data) {
			return true
		}
	}
	return false
}

// Dispatch drains every queued event and returns how many were delivered.
func (b *EventBus) Dispatch() int {
	n := 0
	for {
		b.mu.Lock()
		ev, err := b.queue.Dequeue()
		b.mu.Unlock()
		if err != nil {
			return n
		}
		b.Fire(ev.code, ev.sender, ev.data)
		n++
	}
}

func (b *EventBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}
