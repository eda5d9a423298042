// Package webxdc implements the status-update engine of spec §4.6: the
// append-only per-instance update log, the hidden MIME envelope format
// updates travel in, per-recipient pseudo-addresses, batching/flush into
// size-capped envelopes, and in-chat info-message collapsing. Grounded on
// the teacher's push package shape (a narrow Handler-ish surface around an
// append-only log) generalized from push receipts to status updates.
package webxdc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/coreim/dcore/dcerr"
	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
)

// EnvelopeSizeCap is the recommended per-envelope size cap of §4.6
// (~100 KiB); FlushPending splits pending serials across more than one
// MIME envelope once this is exceeded.
const EnvelopeSizeCap = 100 * 1024

// EventSink receives the two webxdc-shaped events of §6.
type EventSink interface {
	WebxdcStatusUpdate(instance t.MsgID, serial int64)
	IncomingWebxdcNotify(instance t.MsgID, text, href string)
}

// Engine drives the status-update log for one account.
type Engine struct {
	Store  adapter.Adapter
	Events EventSink
}

func New(store adapter.Adapter, events EventSink) *Engine {
	return &Engine{Store: store, Events: events}
}

// SendStatusUpdate appends a locally-authored update (spec
// send_webxdc_status_update) and enqueues its serial for the SMTP-update
// queue. The instance must already be a Webxdc-viewtype message; callers
// that haven't checked this get ErrNotWebxdcInstance.
func (e *Engine) SendStatusUpdate(ctx context.Context, instance *t.Message, sender t.ContactID, u UpdateJSON) (int64, error) {
	if instance.Viewtype != t.ViewtypeWebxdc {
		return 0, dcerr.New(dcerr.ClassProtocol, dcerr.ErrNotWebxdcInstance)
	}
	if len(u.Payload) == 0 {
		return 0, ErrMissingPayload
	}

	row := &t.WebxdcUpdate{
		InstanceMsgID:   instance.ID,
		Payload:         u.Payload,
		Info:            u.Info,
		Summary:         u.Summary,
		Document:        u.Document,
		Href:            u.Href,
		Notify:          u.Notify,
		Uid:             u.Uid,
		SenderContactID: sender,
		Timestamp:       t.TimeNow(),
	}
	serial, err := e.Store.WebxdcAppend(ctx, row)
	if err != nil {
		return 0, err
	}
	if serial == 0 {
		// Uid duplicate: discarded silently per §4.6, nothing to enqueue.
		return 0, nil
	}
	if err := e.Store.WebxdcQueuePending(ctx, t.SmtpUpdateRange{
		InstanceMsgID: instance.ID,
		MinSerial:     serial,
		MaxSerial:     serial,
	}); err != nil {
		return 0, err
	}
	if e.Events != nil {
		e.Events.WebxdcStatusUpdate(instance.ID, serial)
	}
	return serial, nil
}

// GetStatusUpdates implements get_webxdc_status_updates: updates with
// serial > afterSerial, ascending, each annotated with the instance's
// current max serial.
func (e *Engine) GetStatusUpdates(ctx context.Context, instance t.MsgID, afterSerial int64) ([]t.WebxdcUpdate, int64, error) {
	updates, err := e.Store.WebxdcUpdatesSince(ctx, instance, afterSerial)
	if err != nil {
		return nil, 0, err
	}
	max, err := e.Store.WebxdcMaxSerial(ctx, instance)
	if err != nil {
		return nil, 0, err
	}
	return updates, max, nil
}

// FlushPending implements flush_status_updates: drains the SMTP-update
// queue for instance and renders one or more MIME envelope bodies,
// splitting a pending range across multiple envelopes once EnvelopeSizeCap
// is exceeded. A single update whose encoded form alone exceeds the cap is
// rejected rather than silently truncated (§4.6).
func (e *Engine) FlushPending(ctx context.Context, instance t.MsgID) ([][]byte, error) {
	ranges, err := e.Store.WebxdcQueueDrain(ctx, instance)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, nil
	}

	minSerial := ranges[0].MinSerial
	for _, r := range ranges[1:] {
		if r.MinSerial < minSerial {
			minSerial = r.MinSerial
		}
	}
	updates, _, err := e.GetStatusUpdates(ctx, instance, minSerial-1)
	if err != nil {
		return nil, err
	}

	var envelopes [][]byte
	var batch []t.WebxdcUpdate
	batchSize := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		body, err := EncodeEnvelope(batch)
		if err != nil {
			return fmt.Errorf("webxdc: encode envelope: %w", err)
		}
		envelopes = append(envelopes, body)
		batch = nil
		batchSize = 0
		return nil
	}
	for _, u := range updates {
		single, err := EncodeEnvelope([]t.WebxdcUpdate{u})
		if err != nil {
			return nil, err
		}
		if len(single) > EnvelopeSizeCap {
			return nil, fmt.Errorf("webxdc: status update serial %d exceeds %d byte envelope cap and cannot be split", u.Serial, EnvelopeSizeCap)
		}
		if batchSize+len(single) > EnvelopeSizeCap {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, u)
		batchSize += len(single)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return envelopes, nil
}

// ChatMessages is the narrow message-store surface info-message
// synthesis/collapsing needs; the pipeline package supplies the concrete
// implementation over adapter.Adapter so this package never has to know
// about chat assignment or the rest of the receive pipeline.
type ChatMessages interface {
	LastMessage(ctx context.Context, chat t.ChatID) (*t.Message, error)
	InsertMessage(ctx context.Context, m *t.Message) error
	UpdateMessageText(ctx context.Context, id t.MsgID, text string) error
}

// ApplyInfoMessage implements §4.6's info-message synthesis and collapsing
// rule: an update carrying `info` creates (or, if the chat's last message
// is already an info message for the same instance, overwrites) an
// in-chat system message. A human message in between always breaks the
// run, so collapsing never reaches across real conversation.
func ApplyInfoMessage(ctx context.Context, cm ChatMessages, chat t.ChatID, instance t.MsgID, info, href string) error {
	if info == "" {
		return nil
	}
	last, err := cm.LastMessage(ctx, chat)
	if err != nil {
		return err
	}
	if last != nil && last.IsInfo() && last.Params.Get(t.ParamInfoInstance) == strconv.Itoa(int(instance)) {
		return cm.UpdateMessageText(ctx, last.ID, info)
	}
	m := &t.Message{
		ChatID:   chat,
		FromID:   t.ContactInfo,
		Viewtype: t.ViewtypeText,
		Text:     info,
	}
	m.Params.Set(t.ParamInfoInstance, strconv.Itoa(int(instance)))
	if href != "" {
		m.Params.Set("href", href)
	}
	m.SortTimestamp = t.TimeNow()
	return cm.InsertMessage(ctx, m)
}

// DispatchNotify implements the IncomingWebxdcNotify event of §4.6: a
// notify map entry addressed to selfPseudoAddr (or the "*" wildcard) fires
// the event — unless fromSelf is true, in which case this is our own echo
// of an update we authored, and "notifications addressed to our own
// self-addr are not delivered to us" means we never re-notify ourselves
// about something we just sent.
func (e *Engine) DispatchNotify(instance t.MsgID, notify map[string]string, selfPseudoAddr string, fromSelf bool, href string) {
	if e.Events == nil || len(notify) == 0 || fromSelf {
		return
	}
	if text, ok := notify[selfPseudoAddr]; ok {
		e.Events.IncomingWebxdcNotify(instance, text, href)
		return
	}
	if text, ok := notify["*"]; ok {
		e.Events.IncomingWebxdcNotify(instance, text, href)
	}
}

// DeleteInstance implements the housekeeping rule of §4.6: deleting an
// instance deletes its whole update log and SMTP-queue rows.
func (e *Engine) DeleteInstance(ctx context.Context, instance t.MsgID) error {
	return e.Store.WebxdcDeleteInstance(ctx, instance)
}
