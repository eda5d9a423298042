// Package group implements the group membership protocol of spec §4.2: a
// leaderless, last-writer-wins convergence of each Group/VerifiedGroup's
// ChatContact rows driven by the Chat-Group-Member-Timestamp carried on
// every membership-changing message. Grounded on the teacher's topic.go
// subscription bookkeeping (add/remove acting directly on store rows, no
// separate in-memory membership cache).
package group

import (
	"context"
	"strconv"
	"strings"

	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
	"github.com/coreim/dcore/wire"

	"github.com/coreim/dcore/dcerr"
)

// ContactResolver creates-or-looks-up a contact by address. Mirrors
// classify.ContactResolver; kept as its own interface so group does not
// import classify for a one-method contract.
type ContactResolver interface {
	ResolveAddr(ctx context.Context, addr string) (t.ContactID, error)
}

// Verifier reports whether a contact is bidirectionally verified, backing
// the VerifiedGroup invariant of §4.2. The securejoin package is the
// producer of this state; group only ever reads it.
type Verifier interface {
	IsVerified(ctx context.Context, contact t.ContactID) (bool, error)
}

// Protocol applies and produces group membership deltas.
type Protocol struct {
	Store    adapter.Adapter
	Contacts ContactResolver
	Verify   Verifier
	SelfAddr string
}

// Delta is what changed so the caller (the dcore receive pipeline) can
// decide whether to surface a system message.
type Delta struct {
	Added, Removed []t.ContactID
	SelfAdded      bool
	SelfRemoved    bool
	TimestampMoved bool
}

// ApplyIncoming applies an incoming message's membership headers to chat,
// per the rules of §4.2. It is a no-op for non-group chats. It does not
// resolve msg's From address; the caller resolves the sender separately.
func (p *Protocol) ApplyIncoming(ctx context.Context, chat *t.Chat, msg *wire.ParsedMessage, recipients []string, firstContact bool) (Delta, error) {
	if !chat.Type.IsGroup() {
		return Delta{}, nil
	}

	tMsg, hasTimestamp := parseTimestamp(msg.Header(wire.HeaderChatGroupMemberTimestamp))
	tDb := chat.Params.MemberTimestamp()

	added := msg.Header(wire.HeaderChatGroupMemberAdded)
	removed := msg.Header(wire.HeaderChatGroupMemberRemoved)

	var delta Delta

	if hasTimestamp {
		if tMsg < tDb {
			// Rule 1: stale claim. Message body still gets inserted by the
			// caller; membership is left untouched entirely.
			return Delta{}, nil
		}

		if added != "" {
			d, err := p.addMember(ctx, chat, added, firstContact)
			if err != nil {
				return Delta{}, err
			}
			delta.Added = append(delta.Added, d.Added...)
			delta.SelfAdded = d.SelfAdded
		}
		if removed != "" {
			d, err := p.removeMember(ctx, chat, removed)
			if err != nil {
				return Delta{}, err
			}
			delta.Removed = append(delta.Removed, d.Removed...)
			delta.SelfRemoved = d.SelfRemoved
		}

		chat.Params.SetMemberTimestamp(tMsg)
		if err := p.persistParams(ctx, chat); err != nil {
			return Delta{}, err
		}
		delta.TimestampMoved = true
		tDb = tMsg
	}

	// Rules 3 & 4 only ever add; once SELF has explicitly left, bare
	// recipient lists must never resurrect membership (rule 5).
	if chat.LeftSelf {
		return delta, nil
	}

	isMembershipMessage := added != "" || removed != ""

	if !isMembershipMessage && chat.Grpid != "" {
		members, err := p.Store.MembersGet(ctx, chat.ID)
		if err != nil {
			return Delta{}, err
		}
		selfID, err := p.Contacts.ResolveAddr(ctx, p.SelfAddr)
		if err != nil {
			return Delta{}, err
		}
		selfPresent := containsID(members, selfID)

		// Rule 3: recreate on missing-self-add.
		if !selfPresent && containsAddr(recipients, p.SelfAddr) {
			if err := p.Store.MembersAdd(ctx, chat.ID, selfID); err != nil {
				return Delta{}, err
			}
			delta.Added = append(delta.Added, selfID)
			delta.SelfAdded = true
		}

		// Rule 4: recreate on size mismatch. Only meaningful once the
		// timestamp check has already cleared this message as current.
		if !hasTimestamp || tMsg >= tDb {
			for _, addr := range recipients {
				if strings.EqualFold(addr, p.SelfAddr) {
					continue
				}
				id, err := p.Contacts.ResolveAddr(ctx, addr)
				if err != nil {
					return Delta{}, err
				}
				members, err := p.Store.MembersGet(ctx, chat.ID)
				if err != nil {
					return Delta{}, err
				}
				if !containsID(members, id) {
					if err := p.Store.MembersAdd(ctx, chat.ID, id); err != nil {
						return Delta{}, err
					}
					delta.Added = append(delta.Added, id)
				}
			}
		}
	}

	// Rule 6 (classical MUA interop) requires no extra code: removal only
	// ever happens above via an explicit Chat-Group-Member-Removed header,
	// never inferred from a recipient list's absence.
	return delta, nil
}

func (p *Protocol) addMember(ctx context.Context, chat *t.Chat, addr string, firstContact bool) (Delta, error) {
	id, err := p.Contacts.ResolveAddr(ctx, addr)
	if err != nil {
		return Delta{}, err
	}
	if id == 0 {
		return Delta{}, dcerr.New(dcerr.ClassProtocol, dcerr.ErrInvalidContact)
	}

	if chat.RequiresVerifiedMembers() && !strings.EqualFold(addr, p.SelfAddr) {
		ok, err := p.Verify.IsVerified(ctx, id)
		if err != nil {
			return Delta{}, err
		}
		if !ok {
			return Delta{}, dcerr.New(dcerr.ClassProtocol, dcerr.ErrVerificationFailed)
		}
	}

	if err := p.Store.MembersAdd(ctx, chat.ID, id); err != nil {
		return Delta{}, err
	}

	d := Delta{Added: []t.ContactID{id}}
	if strings.EqualFold(addr, p.SelfAddr) {
		d.SelfAdded = true
		blocked := t.BlockedNot
		if firstContact {
			blocked = t.BlockedRequest
		}
		chat.Blocked = blocked
		chat.LeftSelf = false
		if err := p.Store.ChatUpdate(ctx, chat.ID, map[string]interface{}{"blocked": int(blocked)}); err != nil {
			return Delta{}, err
		}
	}
	return d, nil
}

func (p *Protocol) removeMember(ctx context.Context, chat *t.Chat, addr string) (Delta, error) {
	id, err := p.Contacts.ResolveAddr(ctx, addr)
	if err != nil {
		return Delta{}, err
	}
	if err := p.Store.MembersRemove(ctx, chat.ID, id); err != nil {
		return Delta{}, err
	}
	d := Delta{Removed: []t.ContactID{id}}
	if strings.EqualFold(addr, p.SelfAddr) {
		d.SelfRemoved = true
		chat.LeftSelf = true
	}
	return d, nil
}

func (p *Protocol) persistParams(ctx context.Context, chat *t.Chat) error {
	return p.Store.ChatUpdate(ctx, chat.ID, map[string]interface{}{"params": chat.Params})
}

// OutgoingDelta is the set of headers the wire-encoding collaborator must
// attach to the message produced by a local membership change.
type OutgoingDelta struct {
	Headers map[string]string
}

// AddMember is the local, user-initiated counterpart to the incoming
// protocol: add addr to chat and return the headers the outgoing message
// must carry, bumping the chat's member timestamp monotonically.
func (p *Protocol) AddMember(ctx context.Context, chat *t.Chat, addr string, now int64) (OutgoingDelta, error) {
	if err := chat.EnsureGroup(); err != nil {
		return OutgoingDelta{}, dcerr.New(dcerr.ClassConfiguration, dcerr.ErrNotAGroup)
	}
	if err := p.ensureSelfMember(ctx, chat); err != nil {
		return OutgoingDelta{}, err
	}

	id, err := p.Contacts.ResolveAddr(ctx, addr)
	if err != nil {
		return OutgoingDelta{}, err
	}
	if id == 0 {
		return OutgoingDelta{}, dcerr.New(dcerr.ClassPermanentSend, dcerr.ErrInvalidContact)
	}
	if chat.RequiresVerifiedMembers() {
		ok, err := p.Verify.IsVerified(ctx, id)
		if err != nil {
			return OutgoingDelta{}, err
		}
		if !ok {
			return OutgoingDelta{}, dcerr.New(dcerr.ClassProtocol, dcerr.ErrVerificationFailed)
		}
	}

	if err := p.Store.MembersAdd(ctx, chat.ID, id); err != nil {
		return OutgoingDelta{}, err
	}
	ts := p.bumpTimestamp(chat, now)
	if err := p.persistParams(ctx, chat); err != nil {
		return OutgoingDelta{}, err
	}

	return OutgoingDelta{Headers: map[string]string{
		wire.HeaderChatGroupID:              chat.Grpid,
		wire.HeaderChatGroupMemberAdded:     addr,
		wire.HeaderChatGroupMemberTimestamp: strconv.FormatInt(ts, 10),
	}}, nil
}

// RemoveMember is the user-initiated removal of a member other than SELF.
func (p *Protocol) RemoveMember(ctx context.Context, chat *t.Chat, addr string, now int64) (OutgoingDelta, error) {
	if err := chat.EnsureGroup(); err != nil {
		return OutgoingDelta{}, dcerr.New(dcerr.ClassConfiguration, dcerr.ErrNotAGroup)
	}
	if err := p.ensureSelfMember(ctx, chat); err != nil {
		return OutgoingDelta{}, err
	}

	id, err := p.Contacts.ResolveAddr(ctx, addr)
	if err != nil {
		return OutgoingDelta{}, err
	}
	if err := p.Store.MembersRemove(ctx, chat.ID, id); err != nil {
		return OutgoingDelta{}, err
	}
	ts := p.bumpTimestamp(chat, now)
	if err := p.persistParams(ctx, chat); err != nil {
		return OutgoingDelta{}, err
	}

	return OutgoingDelta{Headers: map[string]string{
		wire.HeaderChatGroupID:              chat.Grpid,
		wire.HeaderChatGroupMemberRemoved:   addr,
		wire.HeaderChatGroupMemberTimestamp: strconv.FormatInt(ts, 10),
	}}, nil
}

// Leave is SELF explicitly leaving the group: it is distinguished from
// RemoveMember(selfAddr) only by setting LeftSelf, which blocks every
// future auto-recreate rule until an explicit re-add arrives (rule 5).
func (p *Protocol) Leave(ctx context.Context, chat *t.Chat, now int64) (OutgoingDelta, error) {
	if err := chat.EnsureGroup(); err != nil {
		return OutgoingDelta{}, dcerr.New(dcerr.ClassConfiguration, dcerr.ErrNotAGroup)
	}
	selfID, err := p.Contacts.ResolveAddr(ctx, p.SelfAddr)
	if err != nil {
		return OutgoingDelta{}, err
	}
	if err := p.Store.MembersRemove(ctx, chat.ID, selfID); err != nil {
		return OutgoingDelta{}, err
	}
	chat.LeftSelf = true
	ts := p.bumpTimestamp(chat, now)
	if err := p.persistParams(ctx, chat); err != nil {
		return OutgoingDelta{}, err
	}
	return OutgoingDelta{Headers: map[string]string{
		wire.HeaderChatGroupID:              chat.Grpid,
		wire.HeaderChatGroupMemberRemoved:   p.SelfAddr,
		wire.HeaderChatGroupMemberTimestamp: strconv.FormatInt(ts, 10),
	}}, nil
}

func (p *Protocol) ensureSelfMember(ctx context.Context, chat *t.Chat) error {
	selfID, err := p.Contacts.ResolveAddr(ctx, p.SelfAddr)
	if err != nil {
		return err
	}
	members, err := p.Store.MembersGet(ctx, chat.ID)
	if err != nil {
		return err
	}
	if !containsID(members, selfID) {
		return dcerr.New(dcerr.ClassProtocol, dcerr.ErrSelfNotInGroup)
	}
	return nil
}

// bumpTimestamp returns a new member timestamp strictly greater than the
// stored one, so two membership changes issued in the same second never
// collide and get mistaken for a stale claim elsewhere.
func (p *Protocol) bumpTimestamp(chat *t.Chat, now int64) int64 {
	ts := now
	if tDb := chat.Params.MemberTimestamp(); ts <= tDb {
		ts = tDb + 1
	}
	chat.Params.SetMemberTimestamp(ts)
	return ts
}

func parseTimestamp(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func containsID(ids []t.ContactID, id t.ContactID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func containsAddr(addrs []string, addr string) bool {
	for _, a := range addrs {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}
