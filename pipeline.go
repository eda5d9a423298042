package dcore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/coreim/dcore/dcerr"
	"github.com/coreim/dcore/events"
	"github.com/coreim/dcore/group"
	"github.com/coreim/dcore/securejoin"
	t "github.com/coreim/dcore/store/types"
	"github.com/coreim/dcore/webxdc"
	"github.com/coreim/dcore/wire"
)

// ReceivedMsg is what ReceiveIMF hands back to the IMAP/SMTP collaborator:
// where the message landed, and any protocol reply the transport must now
// send on this account's behalf.
type ReceivedMsg struct {
	ChatID      t.ChatID
	MsgID       t.MsgID
	ChatCreated bool
	Duplicate   bool
	Trashed     bool

	// SecurejoinReply, if non-nil, is the Secure-Join message the caller
	// must encode and send back to the peer (encrypted, if
	// MustBeEncrypted).
	SecurejoinReply *securejoin.OutgoingMessage

	// GroupReply carries the headers for a vg-member-added confirmation
	// the inviter must send after finishing a verified-group join.
	GroupReply *group.OutgoingDelta
}

// ReceiveIMF is the pipeline's single entry point (spec §2 receive_imf):
// classify the message into a chat, apply any group-membership delta,
// ingest Autocrypt state, advance a Secure-Join handshake, insert the
// message row, and dispatch a webxdc status-update envelope, in that
// order, stopping early wherever the spec says a message is a tombstone
// or a no-op duplicate. Grounded on the teacher's Hub.run dispatch loop
// in spirit (one function, a fixed sequence of independently testable
// steps) though this is a synchronous call, not a goroutine select loop,
// since spec §5 makes each account single-threaded-cooperative.
func (c *Context) ReceiveIMF(ctx context.Context, msg *wire.ParsedMessage) (*ReceivedMsg, error) {
	if msg.MessageID == "" {
		mid, err := synthesizeMessageID()
		if err != nil {
			return nil, fmt.Errorf("dcore: synthesize message id: %w", err)
		}
		msg.MessageID = mid
	}

	if dup, chatID, err := c.Messages.DuplicateMessageID(ctx, msg.MessageID); err != nil {
		return nil, err
	} else if dup {
		return &ReceivedMsg{ChatID: chatID, Duplicate: true}, nil
	}

	result, err := c.Classify.Classify(ctx, msg)
	if err != nil {
		return nil, err
	}
	if c.Metrics != nil {
		c.Metrics.MessagesClassified.WithLabelValues(classifyOutcomeLabel(result.ChatID, result.Created)).Inc()
	}

	if result.ChatID == t.ChatTrash {
		tomb := &t.Message{
			ChatID:    t.ChatTrash,
			Rfc724Mid: msg.MessageID,
			Hidden:    true,
		}
		if err := c.Messages.InsertMessage(ctx, tomb); err != nil {
			return nil, err
		}
		return &ReceivedMsg{ChatID: t.ChatTrash, Trashed: true}, nil
	}

	chat, err := c.Store.ChatGet(ctx, result.ChatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("dcore: classify returned chat %d which does not exist", result.ChatID)
	}

	fromID, err := c.Contacts.ResolveAddr(ctx, msg.From)
	if err != nil {
		return nil, err
	}

	if _, err := c.Group.ApplyIncoming(ctx, chat, msg, msg.Recipients(), result.Created); err != nil {
		if dcErr, ok := err.(*dcerr.Error); ok {
			events.Emit(&events.Event{What: events.ActErrorSelfNotInGroup, ChatID: chat.ID, Error: dcErr.Error()})
		}
		return nil, err
	}

	c.ingestAutocrypt(ctx, msg)

	out := &ReceivedMsg{ChatID: chat.ID, ChatCreated: result.Created}

	if step := msg.Header(wire.HeaderSecureJoin); step != "" {
		reply, delta, err := c.dispatchSecurejoin(ctx, msg, step)
		if err != nil {
			return nil, err
		}
		out.SecurejoinReply = reply
		out.GroupReply = delta
	} else if err := c.Securejoin.BackwardVerify(ctx, msg.From, msg); err != nil {
		return nil, err
	}

	viewtype, params := deriveViewtype(msg)
	m := &t.Message{
		ChatID:        chat.ID,
		FromID:        fromID,
		Rfc724Mid:     msg.MessageID,
		MimeInReplyTo: msg.InReplyTo,
		Subject:       msg.Subject,
		SentTimestamp: msg.Date,
		Viewtype:      viewtype,
		State:         t.StateInFresh,
		Params:        params,
	}
	if err := c.Messages.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	out.MsgID = m.ID

	if msg.StatusUpdatePart != nil {
		if err := c.dispatchWebxdcUpdate(ctx, msg, fromID, chat.ID); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// deriveViewtype scans msg.Parts for a .xdc attachment and validates it per
// §4.6: a valid webxdc ZIP (index.html present) becomes Viewtype Webxdc,
// with ParamWebxdcNeedsUpgrade set if the manifest declares a min_api this
// build can't satisfy, so the open path can render the "requires newer
// version" placeholder instead of index.html. A part whose name ends
// .xdc but fails ValidateInstance downgrades to ViewtypeFile, exactly as
// spec'd, rather than being rejected outright. A message without any .xdc
// part keeps the plain ViewtypeText default.
func deriveViewtype(msg *wire.ParsedMessage) (t.Viewtype, t.Params) {
	for _, p := range msg.Parts {
		if !strings.HasSuffix(strings.ToLower(p.Filename), ".xdc") {
			continue
		}
		params := t.Params{}
		params.Set(t.ParamFile, p.Filename)

		manifest, err := webxdc.ValidateInstance(p.Data)
		if err != nil {
			return t.ViewtypeFile, params
		}
		if manifest.NeedsUpgradePlaceholder() {
			params.Set(t.ParamWebxdcNeedsUpgrade, "1")
		}
		return t.ViewtypeWebxdc, params
	}
	return t.ViewtypeText, nil
}

func classifyOutcomeLabel(chat t.ChatID, created bool) string {
	if chat == t.ChatTrash {
		return "trash"
	}
	if created {
		return "created"
	}
	return "existing"
}

// synthesizeMessageID mints an RFC-5322-shaped Message-ID for an inbound
// message that arrived without one (classical MUAs sometimes omit it),
// matching spec §4.1 step 0's instruction that classification itself
// never runs without one.
func synthesizeMessageID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return "<synth-" + hex.EncodeToString(raw[:]) + "@localhost>", nil
}

func (c *Context) ingestAutocrypt(ctx context.Context, msg *wire.ParsedMessage) {
	if raw := msg.Header(wire.HeaderAutocrypt); raw != "" {
		_ = c.Autocrypt.IngestAutocrypt(ctx, msg.From, msg.Date, raw)
	} else if !msg.WasEncrypted {
		_ = c.Autocrypt.ResetOnPlaintext(ctx, msg.From, msg.Date)
	}

	if !msg.WasEncrypted || !msg.WasSigned {
		return
	}
	for _, raw := range msg.HeaderAll(wire.HeaderAutocryptGossip) {
		addr, _, _, err := c.Autocrypt.Engine.ParseHeader(raw)
		if err != nil || addr == "" {
			continue
		}
		_ = c.Autocrypt.IngestGossip(ctx, addr, msg.Date, raw)
	}
}

// dispatchSecurejoin routes one Secure-Join protocol message to the
// joiner or inviter state machine by step token: request-shaped steps
// (vc-request/vg-request) are only ever sent to an inviter, the rest only
// ever sent to a joiner (§4.4).
func (c *Context) dispatchSecurejoin(ctx context.Context, msg *wire.ParsedMessage, step string) (*securejoin.OutgoingMessage, *group.OutgoingDelta, error) {
	switch step {
	case wire.StepVcRequest, wire.StepVcRequestWithAuth, wire.StepVgRequest, wire.StepVgRequestWithAuth:
		return c.Securejoin.InviterHandleInbound(ctx, msg.From, msg, c.SelfFingerprint)
	default:
		reply, err := c.Securejoin.JoinerHandleInbound(ctx, msg.From, msg)
		return reply, nil, err
	}
}

// dispatchWebxdcUpdate applies an incoming status-update envelope attached
// to a reply referencing a webxdc instance: each update is appended to the
// instance's log directly (bypassing Engine.SendStatusUpdate, which is
// reserved for locally-authored updates that still need to be queued for
// outgoing SMTP), then info-message collapsing and notify dispatch run
// exactly as they would for a local update.
func (c *Context) dispatchWebxdcUpdate(ctx context.Context, msg *wire.ParsedMessage, fromID t.ContactID, chatID t.ChatID) error {
	env, err := webxdc.DecodeEnvelope(msg.StatusUpdatePart.Data)
	if err != nil {
		return err
	}
	inst, err := c.Store.MessageGetByRfc724Mid(ctx, msg.InReplyTo)
	if err != nil {
		return err
	}
	if inst == nil || inst.Viewtype != t.ViewtypeWebxdc {
		return dcerr.New(dcerr.ClassProtocol, dcerr.ErrNotWebxdcInstance)
	}

	fromSelf := fromID == t.ContactSelf
	selfPseudo, err := webxdc.DerivePseudoAddr(inst.Rfc724Mid, strings.ToLower(c.SelfAddr), []byte(inst.Rfc724Mid))
	if err != nil {
		return err
	}

	for _, u := range env.Updates {
		row := &t.WebxdcUpdate{
			InstanceMsgID:   inst.ID,
			Payload:         u.Payload,
			Info:            u.Info,
			Summary:         u.Summary,
			Document:        u.Document,
			Href:            u.Href,
			Notify:          u.Notify,
			Uid:             u.Uid,
			SenderContactID: fromID,
			Timestamp:       t.TimeNow(),
		}
		serial, err := c.Store.WebxdcAppend(ctx, row)
		if err != nil {
			return err
		}
		if serial == 0 {
			continue // duplicate Uid, discarded per §4.6
		}
		if c.Webxdc.Events != nil {
			c.Webxdc.Events.WebxdcStatusUpdate(inst.ID, serial)
		}
		if err := webxdc.ApplyInfoMessage(ctx, c.Messages, chatID, inst.ID, u.Info, u.Href); err != nil {
			return err
		}
		c.Webxdc.DispatchNotify(inst.ID, u.Notify, selfPseudo, fromSelf, u.Href)
	}
	return nil
}
