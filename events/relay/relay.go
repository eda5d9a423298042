// Package relay implements a webhook-style events.Handler: every fanned-out
// event is POSTed as JSON to a configured URL, for desktop/bot embedders
// that want plain HTTP delivery instead of a mobile push gateway. Grounded
// on the teacher's server/push/tnpg HTTP-POST-to-a-gateway shape, stripped
// of the FCM-batching specifics that package adds on top (tnpg posts
// pre-rendered FCM messages; this package posts the event payload itself,
// since there is no second push gateway in this domain once FCM is wired
// directly in events/fcm).
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coreim/dcore/events"
)

const bufferSize = 1024

type configType struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
}

// Handler is the events.Handler implementation registered under name
// "relay".
type Handler struct {
	url    string
	token  string
	client *http.Client
	input  chan *events.Event
	stop   chan struct{}
	ready  bool
}

func NewHandler() *Handler {
	return &Handler{client: &http.Client{Timeout: 10 * time.Second}}
}

func (h *Handler) Init(jsonconf string) error {
	var cfg configType
	if err := json.Unmarshal([]byte(jsonconf), &cfg); err != nil {
		return fmt.Errorf("relay: parse config: %w", err)
	}
	if !cfg.Enabled {
		return nil
	}
	if cfg.URL == "" {
		return fmt.Errorf("relay: events.relay.url not specified")
	}
	h.url = cfg.URL
	h.token = cfg.Token
	h.input = make(chan *events.Event, bufferSize)
	h.stop = make(chan struct{}, 1)
	h.ready = true

	go h.loop()
	return nil
}

func (h *Handler) loop() {
	for {
		select {
		case ev := <-h.input:
			go h.post(ev)
		case <-h.stop:
			return
		}
	}
}

func (h *Handler) post(ev *events.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Println("relay: marshal event:", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		log.Println("relay: build request:", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		log.Println("relay: post failed:", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Println("relay: webhook rejected:", resp.Status)
	}
}

func (h *Handler) IsReady() bool { return h.ready }

func (h *Handler) Events() chan<- *events.Event { return h.input }

func (h *Handler) Stop() {
	if h.ready {
		h.stop <- struct{}{}
	}
}
