// Package fcm dispatches IncomingMsg and IncomingWebxdcNotify events (spec
// §6) as Firebase Cloud Messaging push notifications, so a mobile
// embedder's OS-level notification tray fires even while the app process
// is suspended. Grounded on the teacher's server/push/tnpg lifecycle
// (Init parses a JSON sub-config, spawns one worker goroutine reading off
// a buffered input channel, Stop signals a stop channel) with the actual
// send call swapped from the HTTP relay tnpg uses to the Firebase Admin
// SDK's messaging client directly, since this repo has no separate
// gateway hop to make.
package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"

	"github.com/coreim/dcore/events"
	t "github.com/coreim/dcore/store/types"
)

const bufferSize = 1024

type configType struct {
	Enabled         bool   `json:"enabled"`
	CredentialsFile string `json:"credentials_file"`
}

// TokenResolver maps an account's contacts to their registered device
// tokens; the engine core knows nothing about device registration, so
// this is supplied by the embedder at Init time via NewHandler.
type TokenResolver interface {
	DeviceTokens(ctx context.Context, contact t.ContactID) ([]string, error)
}

// Handler is the events.Handler implementation registered under name
// "fcm".
type Handler struct {
	client  *messaging.Client
	tokens  TokenResolver
	input   chan *events.Event
	stop    chan struct{}
	ready   bool
}

// NewHandler constructs an unregistered Handler; the caller still calls
// events.Register("fcm", h) and events.Init(jsonconf) to activate it,
// exactly as the teacher wires push.Register + push.Init.
func NewHandler(tokens TokenResolver) *Handler {
	return &Handler{tokens: tokens}
}

func (h *Handler) Init(jsonconf string) error {
	var cfg configType
	if err := json.Unmarshal([]byte(jsonconf), &cfg); err != nil {
		return fmt.Errorf("fcm: parse config: %w", err)
	}
	if !cfg.Enabled {
		return nil
	}

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, nil)
	if err != nil {
		return fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("fcm: init messaging client: %w", err)
	}
	h.client = client
	h.input = make(chan *events.Event, bufferSize)
	h.stop = make(chan struct{}, 1)
	h.ready = true

	go h.loop(ctx)
	return nil
}

func (h *Handler) loop(ctx context.Context) {
	for {
		select {
		case ev := <-h.input:
			go h.deliver(ctx, ev)
		case <-h.stop:
			return
		}
	}
}

func (h *Handler) deliver(ctx context.Context, ev *events.Event) {
	if ev.What != events.ActIncomingMsg && ev.What != events.ActIncomingWebxdcNotify {
		return
	}
	tokens, err := h.tokens.DeviceTokens(ctx, ev.ContactID)
	if err != nil || len(tokens) == 0 {
		return
	}

	notification := &messaging.Notification{Body: ev.Text}
	for _, token := range tokens {
		msg := &messaging.Message{
			Token:        token,
			Notification: notification,
			Data: map[string]string{
				"what": string(ev.What),
				"chat": fmt.Sprint(ev.ChatID),
				"msg":  fmt.Sprint(ev.MsgID),
			},
		}
		if _, err := h.client.Send(ctx, msg); err != nil {
			log.Println("fcm: send failed:", err)
		}
	}
}

func (h *Handler) IsReady() bool { return h.ready }

func (h *Handler) Events() chan<- *events.Event { return h.input }

func (h *Handler) Stop() {
	if h.ready {
		h.stop <- struct{}{}
	}
}
