package dcore

import (
	"context"
	"fmt"

	"github.com/coreim/dcore/events"
	t "github.com/coreim/dcore/store/types"
)

// AcceptChat moves a deaddrop/contact-request chat to accepted, the
// outbound counterpart of classify's step-7 auto-block rule. Grounded on
// the teacher's topic.go subscription-state transitions (a single field
// flip plus a presence broadcast).
func (c *Context) AcceptChat(ctx context.Context, chat t.ChatID) error {
	if err := c.Store.ChatUpdate(ctx, chat, map[string]interface{}{"blocked": int(t.BlockedNot)}); err != nil {
		return err
	}
	events.Emit(&events.Event{What: events.ActChatModified, ChatID: chat})
	return nil
}

// BlockChat marks chat as manually blocked; unlike BlockedRequest this
// never auto-clears.
func (c *Context) BlockChat(ctx context.Context, chat t.ChatID) error {
	if err := c.Store.ChatUpdate(ctx, chat, map[string]interface{}{"blocked": int(t.BlockedManually)}); err != nil {
		return err
	}
	events.Emit(&events.Event{What: events.ActChatModified, ChatID: chat})
	return nil
}

// ArchiveChat sets chat's default chatlist visibility.
func (c *Context) ArchiveChat(ctx context.Context, chat t.ChatID, archived bool) error {
	vis := t.VisibilityNormal
	if archived {
		vis = t.VisibilityArchived
	}
	if err := c.Store.ChatUpdate(ctx, chat, map[string]interface{}{"visibility": int(vis)}); err != nil {
		return err
	}
	events.Emit(&events.Event{What: events.ActChatModified, ChatID: chat})
	return nil
}

// DeleteChat removes chat and every message filed under it. Reserved
// chats (Deaddrop, Trash, ...) can never be deleted, matching §3's "never
// physically deleted" rule for the equivalent reserved contacts.
func (c *Context) DeleteChat(ctx context.Context, chat *t.Chat) error {
	if chat.IsSpecial() {
		return fmt.Errorf("dcore: refusing to delete reserved chat id %d", chat.ID)
	}
	if chat.Type == t.ChatTypeGroup || chat.Type == t.ChatTypeVerifiedGroup {
		if !chat.LeftSelf {
			if _, err := c.Group.Leave(ctx, chat, nowUnix()); err != nil {
				return err
			}
		}
	}
	return c.Store.ChatDelete(ctx, chat.ID)
}

// NewDraft creates (or replaces) the chat's single OutDraft message, the
// local scratch row an editor keeps writing into before Send promotes it.
func (c *Context) NewDraft(ctx context.Context, chat t.ChatID, text string, viewtype t.Viewtype) (*t.Message, error) {
	existing, err := c.Store.MessagesForChat(ctx, chat, nil)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if d := &existing[i]; d.State == t.StateOutDraft {
			if err := c.Store.MessageUpdate(ctx, d.ID, map[string]interface{}{"text": text, "viewtype": int(viewtype)}); err != nil {
				return nil, err
			}
			d.Text, d.Viewtype = text, viewtype
			return d, nil
		}
	}
	m := &t.Message{
		ChatID:   chat,
		FromID:   t.ContactSelf,
		Text:     text,
		Viewtype: viewtype,
		State:    t.StateOutDraft,
	}
	if err := c.Messages.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Send promotes an outbound message (typically a draft) to OutPending, the
// state the SMTP collaborator watches to know what to transmit next. The
// caller is responsible for actually rendering and delivering the MIME
// message; this only records intent and the chat-level bookkeeping.
func (c *Context) Send(ctx context.Context, id t.MsgID) error {
	if err := c.Store.MessageUpdate(ctx, id, map[string]interface{}{"state": int(t.StateOutPending)}); err != nil {
		return err
	}
	events.Emit(&events.Event{What: events.ActMsgsChanged, MsgID: id})
	return nil
}

// nowUnix is a tiny seam so group operations driven from outbound API
// calls (which need "now" as a unix timestamp, unlike the rest of this
// package which deals in time.Time) share one conversion point.
func nowUnix() int64 {
	return t.TimeNow().Unix()
}
