package httpapi

import (
	"reflect"
	"sync"
)

type EventType string

const (
	EventTypeRingUpdate EventType = "ring_update"
	EventTypeActuation  EventType = "actuation"
)

type RingUpdateBody struct {
	RingState
}

type ActuationBody struct {
	Kind     ActuationKind `json:"kind" doc:"Whether the gates were opened or closed"`
	Cursor   int           `json:"cursor" doc:"Cursor at the time of the actuation"`
	Channels []int         `json:"channels" doc:"Servo channels driven"`
	Position int           `json:"position" doc:"Position written to every channel"`
}

type Event struct {
	// Id's are monotonically increasing integers within a single subscription.
	// They are not globally unique.
	Id      int
	Type    EventType
	Payload any
}

type EventEmitter struct {
	mu                  sync.Mutex
	ring                RingState
	chans               map[int]chan Event
	chanEventIdx        map[int]int
	chanIdx             int
	subscriptionBufSize int
}

// subscriptionBufSize is the size of the buffer for each subscription.
// Once the buffer is full, the channel will be closed.
// Listeners must actively drain the channel, so it's important to
// set this to a value that is large enough to handle the expected
// number of events.
func NewEventEmitter(subscriptionBufSize int) *EventEmitter {
	return &EventEmitter{
		ring:                RingState{Channels: []int{}, Hoppers: []Hopper{}},
		chans:               make(map[int]chan Event),
		chanEventIdx:        make(map[int]int),
		subscriptionBufSize: subscriptionBufSize,
	}
}

// Assumes the caller holds the lock.
func (e *EventEmitter) notifyChannels(eventType EventType, payload any) {
	chanIds := make([]int, 0, len(e.chans))
	for chanId := range e.chans {
		chanIds = append(chanIds, chanId)
	}
	for _, chanId := range chanIds {
		ch := e.chans[chanId]
		event := Event{
			Id:      e.chanEventIdx[chanId],
			Type:    eventType,
			Payload: payload,
		}
		e.chanEventIdx[chanId]++

		select {
		case ch <- event:
		default:
			// If the channel is full, close it.
			// Listeners must actively drain the channel.
			close(ch)
			delete(e.chans, chanId)
			delete(e.chanEventIdx, chanId)
		}
	}
}

// UpdateRingAndEmitChanges records the ring state and notifies subscribers
// if it differs from the previous one.
func (e *EventEmitter) UpdateRingAndEmitChanges(state RingState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reflect.DeepEqual(e.ring, state) {
		return
	}
	e.ring = state
	e.notifyChannels(EventTypeRingUpdate, RingUpdateBody{RingState: state})
}

func (e *EventEmitter) EmitActuation(body ActuationBody) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.notifyChannels(EventTypeActuation, body)
}

// Assumes the caller holds the lock.
func (e *EventEmitter) currentStateAsEvents() []Event {
	return []Event{{
		Id:      0,
		Type:    EventTypeRingUpdate,
		Payload: RingUpdateBody{RingState: e.ring},
	}}
}

// Subscribe returns a subscription id and a channel for receiving events. It
// also returns a list of events that recreate the ring state right before
// the subscription was created.
func (e *EventEmitter) Subscribe() (int, <-chan Event, []Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stateEvents := e.currentStateAsEvents()

	// Once a channel becomes full, it will be closed.
	ch := make(chan Event, e.subscriptionBufSize)
	id := e.chanIdx
	e.chans[id] = ch
	e.chanEventIdx[id] = len(stateEvents)
	e.chanIdx++
	return id, ch, stateEvents
}

// Unsubscribe closes the subscription's channel. Unknown ids are ignored.
func (e *EventEmitter) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.chans[id]; ok {
		close(ch)
		delete(e.chans, id)
		delete(e.chanEventIdx, id)
	}
}
