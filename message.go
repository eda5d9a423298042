package dcore

import (
	"context"

	"github.com/coreim/dcore/dcerr"
	"github.com/coreim/dcore/events"
	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
)

// Messages implements the message state machine of spec §4.5 on top of an
// adapter.Adapter, plus the ChatMessages surface webxdc's info-message
// collapsing needs. Grounded on the teacher's state-transition style in
// topic.go (a message's delivery state only ever moves forward through a
// fixed set of named transitions, each one a single store update).
type Messages struct {
	Store adapter.Adapter
}

// LastMessage implements webxdc.ChatMessages: the most recently inserted
// message in a chat, by insertion order (MessagesForChat returns rows
// sorted by SortTimestamp ascending; the last element is the most recent
// in the common case where sort and insertion order agree, which holds
// for the info-message collapsing use this serves — info messages are
// always timestamped at insertion). Returns nil, nil for an empty chat.
func (m *Messages) LastMessage(ctx context.Context, chat t.ChatID) (*t.Message, error) {
	rows, err := m.Store.MessagesForChat(ctx, chat, nil)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[len(rows)-1], nil
}

// InsertMessage assigns sort/received timestamps if unset and saves m.
func (m *Messages) InsertMessage(ctx context.Context, msg *t.Message) error {
	msg.InitTimes()
	if msg.ReceivedTimestamp.IsZero() {
		msg.ReceivedTimestamp = t.TimeNow()
	}
	if msg.SortTimestamp.IsZero() {
		msg.SortTimestamp = msg.ReceivedTimestamp
	}
	return m.Store.MessageSave(ctx, msg)
}

func (m *Messages) UpdateMessageText(ctx context.Context, id t.MsgID, text string) error {
	return m.Store.MessageUpdate(ctx, id, map[string]interface{}{"text": text})
}

// MarkSeen implements §4.5's markseen rule: a message whose download is
// incomplete may only advance to InNoticed, never InSeen, so read status
// is never reported for content we haven't actually received.
func (m *Messages) MarkSeen(ctx context.Context, id t.MsgID) error {
	msg, err := m.Store.MessageGet(ctx, id)
	if err != nil || msg == nil {
		return err
	}
	if !msg.State.IsIncoming() {
		return nil
	}
	newState := t.StateInSeen
	if msg.Download.IsIncomplete() {
		newState = t.StateInNoticed
	}
	if newState == msg.State {
		return nil
	}
	return m.Store.MessageUpdate(ctx, id, map[string]interface{}{"state": int(newState)})
}

// MarkNoticed advances InFresh -> InNoticed, e.g. when the chat is opened
// but individual messages haven't been scrolled into view yet.
func (m *Messages) MarkNoticed(ctx context.Context, id t.MsgID) error {
	msg, err := m.Store.MessageGet(ctx, id)
	if err != nil || msg == nil {
		return err
	}
	if msg.State != t.StateInFresh {
		return nil
	}
	return m.Store.MessageUpdate(ctx, id, map[string]interface{}{"state": int(t.StateInNoticed)})
}

// SetMsgFailed transitions a message to OutFailed with a human-readable
// error, emitting MsgFailed (§7 "Permanent send").
func (m *Messages) SetMsgFailed(ctx context.Context, id t.MsgID, reason string) error {
	if err := m.Store.MessageUpdate(ctx, id, map[string]interface{}{
		"state": int(t.StateOutFailed),
		"error": reason,
	}); err != nil {
		return err
	}
	events.Emit(&events.Event{What: events.ActMsgFailed, MsgID: id, Error: reason})
	return nil
}

// SetMsgDelivered transitions OutPending -> OutDelivered on SMTP success.
func (m *Messages) SetMsgDelivered(ctx context.Context, id t.MsgID) error {
	if err := m.Store.MessageUpdate(ctx, id, map[string]interface{}{"state": int(t.StateOutDelivered)}); err != nil {
		return err
	}
	events.Emit(&events.Event{What: events.ActMsgDelivered, MsgID: id})
	return nil
}

// ApplyMdn transitions OutDelivered -> OutMdnRcvd. Per §4.5, MDN ingestion
// never changes chat visibility: the caller must not touch
// Chat.Visibility as a side effect of this call.
func (m *Messages) ApplyMdn(ctx context.Context, id t.MsgID) error {
	msg, err := m.Store.MessageGet(ctx, id)
	if err != nil || msg == nil {
		return err
	}
	if msg.State != t.StateOutDelivered {
		return nil
	}
	if err := m.Store.MessageUpdate(ctx, id, map[string]interface{}{"state": int(t.StateOutMdnRcvd)}); err != nil {
		return err
	}
	events.Emit(&events.Event{What: events.ActMsgRead, MsgID: id})
	return nil
}

// DuplicateMessageID reports whether mid already has a stored row,
// implementing the universal invariant of §8: for all M1/M2 sharing a
// Message-ID, exactly one row exists.
func (m *Messages) DuplicateMessageID(ctx context.Context, mid string) (bool, t.ChatID, error) {
	existing, err := m.Store.MessageGetByRfc724Mid(ctx, mid)
	if err != nil {
		return false, 0, err
	}
	if existing == nil {
		return false, 0, nil
	}
	return true, existing.ChatID, nil
}

// ErrNoDraft is the sentinel for a chat that has no draft; kept as a
// sentinel rather than a bare nil so callers can use errors.Is against the
// dcerr taxonomy.
var ErrNoDraft = dcerr.Configuration("dcore: chat has no draft")
