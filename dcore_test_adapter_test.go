package dcore

import (
	"context"
	"time"

	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
)

// memAdapter is a minimal in-memory adapter.Adapter for root-package
// tests, the same style as securejoin's fakeAdapter: plain maps, no
// query semantics beyond what the code under test actually exercises.
type memAdapter struct {
	contacts map[t.ContactID]*t.Contact
	chats    map[t.ChatID]*t.Chat
	messages map[t.MsgID]*t.Message
	byMid    map[string]t.MsgID
	nextMsg  t.MsgID
	members  map[t.ChatID][]t.ContactID
}

var _ adapter.Adapter = (*memAdapter)(nil)

func newMemAdapter() *memAdapter {
	return &memAdapter{
		contacts: map[t.ContactID]*t.Contact{},
		chats:    map[t.ChatID]*t.Chat{},
		messages: map[t.MsgID]*t.Message{},
		byMid:    map[string]t.MsgID{},
		members:  map[t.ChatID][]t.ContactID{},
		nextMsg:  1,
	}
}

func (a *memAdapter) Open(string) error { return nil }
func (a *memAdapter) Close() error      { return nil }
func (a *memAdapter) IsOpen() bool      { return true }

func (a *memAdapter) ContactCreate(ctx context.Context, c *t.Contact) error {
	a.contacts[c.ID] = c
	return nil
}
func (a *memAdapter) ContactGet(ctx context.Context, id t.ContactID) (*t.Contact, error) {
	return a.contacts[id], nil
}
func (a *memAdapter) ContactGetByAddr(ctx context.Context, addr string) (*t.Contact, error) {
	for _, c := range a.contacts {
		if c.Addr == addr {
			return c, nil
		}
	}
	return nil, nil
}
func (a *memAdapter) ContactUpdate(ctx context.Context, id t.ContactID, update map[string]interface{}) error {
	return nil
}

func (a *memAdapter) PeerstateGet(ctx context.Context, addr string) (*t.Peerstate, error) {
	return nil, nil
}
func (a *memAdapter) PeerstateSave(ctx context.Context, p *t.Peerstate) error { return nil }

func (a *memAdapter) ChatCreate(ctx context.Context, c *t.Chat) error {
	a.chats[c.ID] = c
	return nil
}
func (a *memAdapter) ChatGet(ctx context.Context, id t.ChatID) (*t.Chat, error) {
	return a.chats[id], nil
}
func (a *memAdapter) ChatGetByGrpid(ctx context.Context, grpid string) (*t.Chat, error) {
	for _, c := range a.chats {
		if c.Grpid == grpid {
			return c, nil
		}
	}
	return nil, nil
}
func (a *memAdapter) ChatGetSingleForContact(ctx context.Context, contact t.ContactID) (*t.Chat, error) {
	return nil, nil
}
func (a *memAdapter) ChatUpdate(ctx context.Context, id t.ChatID, update map[string]interface{}) error {
	c := a.chats[id]
	if c == nil {
		return nil
	}
	if v, ok := update["blocked"]; ok {
		c.Blocked = t.Blocked(v.(int))
	}
	if v, ok := update["visibility"]; ok {
		c.Visibility = t.Visibility(v.(int))
	}
	return nil
}
func (a *memAdapter) ChatDelete(ctx context.Context, id t.ChatID) error {
	delete(a.chats, id)
	return nil
}

func (a *memAdapter) MembersAdd(ctx context.Context, chat t.ChatID, contacts ...t.ContactID) error {
	a.members[chat] = append(a.members[chat], contacts...)
	return nil
}
func (a *memAdapter) MembersRemove(ctx context.Context, chat t.ChatID, contacts ...t.ContactID) error {
	return nil
}
func (a *memAdapter) MembersGet(ctx context.Context, chat t.ChatID) ([]t.ContactID, error) {
	return a.members[chat], nil
}

func (a *memAdapter) MessageSave(ctx context.Context, m *t.Message) error {
	if m.ID == 0 {
		m.ID = a.nextMsg
		a.nextMsg++
	}
	a.messages[m.ID] = m
	if m.Rfc724Mid != "" {
		a.byMid[m.Rfc724Mid] = m.ID
	}
	return nil
}
func (a *memAdapter) MessageGetByRfc724Mid(ctx context.Context, mid string) (*t.Message, error) {
	id, ok := a.byMid[mid]
	if !ok {
		return nil, nil
	}
	return a.messages[id], nil
}
func (a *memAdapter) MessageGet(ctx context.Context, id t.MsgID) (*t.Message, error) {
	return a.messages[id], nil
}
func (a *memAdapter) MessageUpdate(ctx context.Context, id t.MsgID, update map[string]interface{}) error {
	m := a.messages[id]
	if m == nil {
		return nil
	}
	if v, ok := update["state"]; ok {
		m.State = t.State(v.(int))
	}
	if v, ok := update["text"]; ok {
		m.Text = v.(string)
	}
	if v, ok := update["error"]; ok {
		m.Error = v.(string)
	}
	return nil
}
func (a *memAdapter) MessagesForChat(ctx context.Context, chat t.ChatID, opts *t.QueryOpt) ([]t.Message, error) {
	var out []t.Message
	for _, m := range a.messages {
		if m.ChatID == chat {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (a *memAdapter) WebxdcAppend(ctx context.Context, u *t.WebxdcUpdate) (int64, error) {
	return 0, nil
}
func (a *memAdapter) WebxdcUpdatesSince(ctx context.Context, instance t.MsgID, afterSerial int64) ([]t.WebxdcUpdate, error) {
	return nil, nil
}
func (a *memAdapter) WebxdcMaxSerial(ctx context.Context, instance t.MsgID) (int64, error) {
	return 0, nil
}
func (a *memAdapter) WebxdcHasUid(ctx context.Context, instance t.MsgID, uid string) (bool, error) {
	return false, nil
}
func (a *memAdapter) WebxdcQueuePending(ctx context.Context, r t.SmtpUpdateRange) error { return nil }
func (a *memAdapter) WebxdcQueueDrain(ctx context.Context, instance t.MsgID) ([]t.SmtpUpdateRange, error) {
	return nil, nil
}
func (a *memAdapter) WebxdcDeleteInstance(ctx context.Context, instance t.MsgID) error { return nil }

func (a *memAdapter) DeleteExpired(ctx context.Context, olderThan time.Time) error { return nil }
