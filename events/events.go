// Package events implements the typed event bus of spec §6: every event
// the engine emits (IncomingMsg, ChatModified, MsgFailed,
// SecurejoinJoinerProgress, WebxdcStatusUpdate, ...) fans out to zero or
// more registered Handlers. Grounded directly on the teacher's
// push.Register/push.Push/Handler shape (server/push/push.go):
// name-keyed registration, a best-effort buffered channel per handler, and
// a package-level Init that parses one JSON sub-config per handler.
package events

import (
	"encoding/json"
	"fmt"

	t "github.com/coreim/dcore/store/types"
)

// What names the kind of event, mirroring the teacher's push.ActMsg/
// push.ActSub action-string idiom.
type What string

const (
	ActIncomingMsg               What = "incoming-msg"
	ActMsgsChanged               What = "msgs-changed"
	ActChatModified              What = "chat-modified"
	ActContactsChanged           What = "contacts-changed"
	ActMsgFailed                 What = "msg-failed"
	ActMsgDelivered              What = "msg-delivered"
	ActMsgRead                   What = "msg-read"
	ActSecurejoinJoinerProgress  What = "securejoin-joiner-progress"
	ActSecurejoinInviterProgress What = "securejoin-inviter-progress"
	ActWebxdcStatusUpdate        What = "webxdc-status-update"
	ActWebxdcInstanceDeleted     What = "webxdc-instance-deleted"
	ActIncomingWebxdcNotify      What = "incoming-webxdc-notify"
	ActErrorSelfNotInGroup       What = "error-self-not-in-group"
	ActImexProgress              What = "imex-progress"
	ActInfo                      What = "info"
	ActWarning                   What = "warning"
	ActError                     What = "error"
)

// Event is the payload every handler receives; only the fields relevant to
// What are populated, matching the teacher's single wide Payload struct
// with per-action fields rather than one type per event.
type Event struct {
	What What

	ChatID    t.ChatID
	MsgID     t.MsgID
	ContactID t.ContactID

	// Progress is used by SecurejoinJoinerProgress/InviterProgress (0..1000)
	// and ImexProgress (0..65535, per §6's u16).
	Progress int

	Serial int64 // WebxdcStatusUpdate's status_update_serial

	Text string // IncomingWebxdcNotify's text, Info/Warning/Error's text
	Href string

	Error string // MsgFailed's error string, ErrorSelfNotInGroup's text
}

// Handler is implemented by each concrete fan-out target (events/fcm,
// events/relay, events/monitor), mirroring push.Handler exactly.
type Handler interface {
	Init(jsonconf string) error
	IsReady() bool
	Events() chan<- *Event
	Stop()
}

type configEntry struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

var handlers map[string]Handler

// Register adds a named handler. Panics on a nil handler or a duplicate
// name, exactly like the teacher's push.Register — a second registration
// under the same name is a startup-time programming error, not a runtime
// condition to recover from.
func Register(name string, h Handler) {
	if handlers == nil {
		handlers = make(map[string]Handler)
	}
	if h == nil {
		panic("events: Register: handler is nil")
	}
	if _, dup := handlers[name]; dup {
		panic("events: Register: called twice for handler " + name)
	}
	handlers[name] = h
}

// Init parses jsonconf (a JSON array of {name, config} entries, one per
// registered handler) and initializes each named handler in turn.
func Init(jsonconf string) error {
	var entries []configEntry
	if err := json.Unmarshal([]byte(jsonconf), &entries); err != nil {
		return fmt.Errorf("events: Init: %w", err)
	}
	for _, e := range entries {
		if h := handlers[e.Name]; h != nil {
			if err := h.Init(string(e.Config)); err != nil {
				return fmt.Errorf("events: Init %s: %w", e.Name, err)
			}
		}
	}
	return nil
}

// Emit fans ev out to every ready handler, non-blocking: a handler whose
// channel is full drops the event rather than stalling the pipeline
// (spec §5's single-threaded-cooperative model must never block on a
// slow embedder).
func Emit(ev *Event) {
	for _, h := range handlers {
		if !h.IsReady() {
			continue
		}
		select {
		case h.Events() <- ev:
		default:
		}
	}
}

// Stop shuts down every ready handler.
func Stop() {
	for _, h := range handlers {
		if h.IsReady() {
			h.Stop()
		}
	}
}
