// Package classify implements the chat-assignment heuristic of spec §4.1:
// given a parsed MIME message, decide which chat it belongs to, creating
// one if needed. This is the engine's single most load-bearing piece of
// "business logic read as a flowchart", grounded on the teacher's
// datamodel.go dispatch style (a sequence of independent classification
// rules applied in order, first match wins).
package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
	"github.com/coreim/dcore/wire"
)

// ShowEmails mirrors the show_emails config knob of spec §6.
type ShowEmails int

const (
	ShowEmailsChatOnly ShowEmails = iota
	ShowEmailsAccepted
	ShowEmailsAll
)

// Config is the per-account configuration classify needs (spec §4.1
// Inputs).
type Config struct {
	SelfAddr   string
	ShowEmails ShowEmails
	IsBot      bool
}

// ContactResolver creates-or-looks-up a contact by address, matching the
// teacher's add_or_lookup idiom (spec §3 Contact lifecycle). classify only
// ever needs ids, never display metadata, so the interface is this narrow.
type ContactResolver interface {
	ResolveAddr(ctx context.Context, addr string) (t.ContactID, error)
}

// Classifier assigns inbound messages to chats.
type Classifier struct {
	Store    adapter.Adapter
	Contacts ContactResolver
	Config   Config
}

// Result is the outcome of classifying one message.
type Result struct {
	ChatID ChatOutcome
	// Created is true if Result.ChatID is a chat this call just created.
	Created bool
}

// ChatOutcome is just a types.ChatID, named separately so call sites read
// "the outcome of classification" rather than "a chat id I already had".
type ChatOutcome = t.ChatID

// Classify returns the chat a message must be inserted into. It never
// returns an error for "could not classify" — per spec §4.1 Failure, an
// unclassifiable message still gets a tombstone assignment to TRASH; errors
// here are reserved for storage failures.
func (c *Classifier) Classify(ctx context.Context, msg *wire.ParsedMessage) (Result, error) {
	// Step 0 (spec §4.1 Failure): no parseable From -> trash tombstone,
	// no event. Message-ID synthesis is the caller's job (receive
	// pipeline), classify only sees a message that already has one.
	if msg.From == "" || msg.MessageID == "" {
		return Result{ChatID: t.ChatTrash}, nil
	}

	// Step 1: Message-ID already seen.
	if existing, err := c.Store.MessageGetByRfc724Mid(ctx, msg.MessageID); err != nil {
		return Result{}, err
	} else if existing != nil {
		return Result{ChatID: existing.ChatID}, nil
	}

	// Step 2: mailing list.
	if isMailinglist(msg) {
		return c.classifyMailinglist(ctx, msg)
	}

	// Step 3: messenger group.
	if grpid := msg.Header(wire.HeaderChatGroupID); grpid != "" {
		return c.classifyGroup(ctx, msg, grpid)
	}

	// Step 4: reply assignment.
	if res, ok, err := c.classifyReply(ctx, msg); err != nil {
		return Result{}, err
	} else if ok {
		return res, nil
	}

	// Step 5: ad-hoc group (>= 3 unique recipients incl. sender).
	recipients := msg.Recipients()
	if uniqueCountWithSender(msg.From, recipients) >= 3 {
		return c.classifyAdhocGroup(ctx, msg, recipients)
	}

	// Step 6: one-to-one, with step 7/8 deaddrop/self-note folded in.
	return c.classifySingle(ctx, msg)
}

func uniqueCountWithSender(from string, recipients []string) int {
	seen := map[string]bool{strings.ToLower(from): true}
	for _, r := range recipients {
		seen[strings.ToLower(r)] = true
	}
	return len(seen)
}

func isMailinglist(msg *wire.ParsedMessage) bool {
	if msg.Header(wire.HeaderListID) != "" {
		return true
	}
	return msg.Header(wire.HeaderSender) != "" && strings.Contains(strings.ToLower(msg.Header(wire.HeaderPrecedence)), "list")
}

// mailinglistGrpid derives a stable key from the list domain token so the
// same list always resolves to the same chat, mirroring how Chat-Group-ID
// anchors messenger groups.
func mailinglistGrpid(msg *wire.ParsedMessage) string {
	src := msg.Header(wire.HeaderListID)
	if src == "" {
		src = msg.Header(wire.HeaderSender)
	}
	sum := sha256.Sum256([]byte("mailinglist:" + strings.ToLower(src)))
	return hex.EncodeToString(sum[:16])
}

func (c *Classifier) classifyMailinglist(ctx context.Context, msg *wire.ParsedMessage) (Result, error) {
	grpid := mailinglistGrpid(msg)
	existing, err := c.Store.ChatGetByGrpid(ctx, grpid)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		if listPost := msg.Header(wire.HeaderListPost); listPost != "" && existing.Params.Get(t.ParamListPost) != listPost {
			existing.Params.Set(t.ParamListPost, listPost)
			if err := c.Store.ChatUpdate(ctx, existing.ID, map[string]interface{}{"params": existing.Params}); err != nil {
				return Result{}, err
			}
		}
		return Result{ChatID: existing.ID}, nil
	}

	chat := &t.Chat{
		Type:  t.ChatTypeMailinglist,
		Name:  msg.Subject,
		Grpid: grpid,
	}
	chat.Params.Set(t.ParamListPost, msg.Header(wire.HeaderListPost))
	if err := c.Store.ChatCreate(ctx, chat); err != nil {
		return Result{}, err
	}
	return Result{ChatID: chat.ID, Created: true}, nil
}

// classifyGroup implements step 3: look up by grpid, or create a new
// Group chat if this is plausibly the group's first message on this
// device. A chat created here is always ChatTypeGroup; this path never
// creates a VerifiedGroup.
func (c *Classifier) classifyGroup(ctx context.Context, msg *wire.ParsedMessage, grpid string) (Result, error) {
	existing, err := c.Store.ChatGetByGrpid(ctx, grpid)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return Result{ChatID: existing.ID}, nil
	}

	// Unknown grpid + a removed-self message about us -> trash, never
	// recreate a group we deliberately left (spec §4.1 step 3).
	if msg.Header(wire.HeaderChatGroupMemberRemoved) != "" &&
		strings.EqualFold(msg.Header(wire.HeaderChatGroupMemberRemoved), c.Config.SelfAddr) {
		return Result{ChatID: t.ChatTrash}, nil
	}

	fromID, err := c.Contacts.ResolveAddr(ctx, msg.From)
	if err != nil {
		return Result{}, err
	}
	if fromID == 0 {
		return Result{ChatID: t.ChatTrash}, nil
	}

	chat := &t.Chat{
		Type:  t.ChatTypeGroup,
		Name:  msg.Header(wire.HeaderChatGroupName),
		Grpid: grpid,
	}
	if err := c.Store.ChatCreate(ctx, chat); err != nil {
		return Result{}, err
	}
	return Result{ChatID: chat.ID, Created: true}, nil
}

// classifyReply implements step 4: walk In-Reply-To then References, most
// recent first, and assign to the referenced message's chat unless the
// current recipient set looks like a deliberate private reply carving a
// subset out of a group.
func (c *Classifier) classifyReply(ctx context.Context, msg *wire.ParsedMessage) (Result, bool, error) {
	candidates := make([]string, 0, 1+len(msg.References))
	if msg.InReplyTo != "" {
		candidates = append(candidates, msg.InReplyTo)
	}
	for i := len(msg.References) - 1; i >= 0; i-- {
		candidates = append(candidates, msg.References[i])
	}

	for _, mid := range candidates {
		ref, err := c.Store.MessageGetByRfc724Mid(ctx, mid)
		if err != nil {
			return Result{}, false, err
		}
		if ref == nil || ref.IsTombstone() {
			continue
		}
		chat, err := c.Store.ChatGet(ctx, ref.ChatID)
		if err != nil {
			return Result{}, false, err
		}
		if chat == nil {
			continue
		}
		if isPrivateReplySplit(chat, msg) {
			continue
		}
		return Result{ChatID: chat.ID}, true, nil
	}
	return Result{}, false, nil
}

// isPrivateReplySplit detects "reply to fewer": the target is a group and
// the current message has at most two To/Cc recipients. Only the count is
// checked; the recipients are not compared with the group's members.
func isPrivateReplySplit(chat *t.Chat, msg *wire.ParsedMessage) bool {
	if !chat.Type.IsGroup() {
		return false
	}
	recipients := msg.Recipients()
	return len(recipients) <= 2
}

// classifyAdhocGroup implements step 5. Per the design note in spec §9, an
// ad-hoc group is never re-identified by hashing its recipient set —
// continuity is by reply-chain alone (step 4, which already ran and
// failed to match by the time we get here). Every ad-hoc message that
// isn't a reply to a live chat starts a brand new chat.
func (c *Classifier) classifyAdhocGroup(ctx context.Context, msg *wire.ParsedMessage, recipients []string) (Result, error) {
	chat := &t.Chat{
		Type: t.ChatTypeGroup,
		Name: msg.Subject,
		// Grpid intentionally left empty: ad-hoc groups have no stable id.
	}
	if err := c.Store.ChatCreate(ctx, chat); err != nil {
		return Result{}, err
	}
	return Result{ChatID: chat.ID, Created: true}, nil
}

// classifySingle implements steps 6-9: the one-to-one chat, deaddrop
// acceptance, self-note suppression and the show_emails filter.
func (c *Classifier) classifySingle(ctx context.Context, msg *wire.ParsedMessage) (Result, error) {
	// Step 8: outgoing self-note (From == SELF, only recipient is SELF).
	if strings.EqualFold(msg.From, c.Config.SelfAddr) {
		recipients := msg.Recipients()
		if len(recipients) == 0 || (len(recipients) == 1 && strings.EqualFold(recipients[0], c.Config.SelfAddr)) {
			return c.selfTalkChat(ctx)
		}
	}

	peerAddr := msg.From
	isOutgoing := strings.EqualFold(msg.From, c.Config.SelfAddr)
	if isOutgoing {
		for _, r := range msg.Recipients() {
			if !strings.EqualFold(r, c.Config.SelfAddr) {
				peerAddr = r
				break
			}
		}
	}

	peerID, err := c.Contacts.ResolveAddr(ctx, peerAddr)
	if err != nil {
		return Result{}, err
	}

	existing, err := c.Store.ChatGetSingleForContact(ctx, peerID)
	if err != nil {
		return Result{}, err
	}

	classical := msg.ChatVersion == ""
	if existing == nil {
		// Step 9: show_emails filter for classical mail from unknown peers.
		if classical && !isOutgoing && c.Config.ShowEmails == ShowEmailsChatOnly {
			return Result{ChatID: t.ChatTrash}, nil
		}

		chat := &t.Chat{Type: t.ChatTypeSingle}
		if err := c.Store.ChatCreate(ctx, chat); err != nil {
			return Result{}, err
		}
		if err := c.Store.MembersAdd(ctx, chat.ID, peerID); err != nil {
			return Result{}, err
		}

		// Step 7: deaddrop / auto-accept.
		blocked := t.BlockedRequest
		if c.Config.IsBot || isOutgoing {
			blocked = t.BlockedNot
		}
		chat.Blocked = blocked
		if err := c.Store.ChatUpdate(ctx, chat.ID, map[string]interface{}{"blocked": int(blocked)}); err != nil {
			return Result{}, err
		}
		return Result{ChatID: chat.ID, Created: true}, nil
	}

	if classical && !isOutgoing && c.Config.ShowEmails == ShowEmailsAccepted && existing.Blocked == t.BlockedRequest {
		// A chat already exists as a contact request; mode 1 keeps it a
		// request rather than promoting it.
		return Result{ChatID: existing.ID}, nil
	}

	return Result{ChatID: existing.ID}, nil
}

func (c *Classifier) selfTalkChat(ctx context.Context) (Result, error) {
	selfID, err := c.Contacts.ResolveAddr(ctx, c.Config.SelfAddr)
	if err != nil {
		return Result{}, err
	}
	existing, err := c.Store.ChatGetSingleForContact(ctx, selfID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return Result{ChatID: existing.ID}, nil
	}
	chat := &t.Chat{Type: t.ChatTypeSingle, Name: "Saved Messages"}
	chat.Params.Set(t.ParamSelfTalk, "1")
	chat.Blocked = t.BlockedNot
	if err := c.Store.ChatCreate(ctx, chat); err != nil {
		return Result{}, err
	}
	if err := c.Store.MembersAdd(ctx, chat.ID, selfID); err != nil {
		return Result{}, err
	}
	return Result{ChatID: chat.ID, Created: true}, nil
}
