package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coreim/dcore/config"
	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
)

type stubAdapter struct {
	contacts map[t.ContactID]*t.Contact
	chats    map[t.ChatID]*t.Chat
}

var _ adapter.Adapter = (*stubAdapter)(nil)

func (a *stubAdapter) Open(string) error { return nil }
func (a *stubAdapter) Close() error      { return nil }
func (a *stubAdapter) IsOpen() bool      { return true }

func (a *stubAdapter) ContactCreate(context.Context, *t.Contact) error { return nil }
func (a *stubAdapter) ContactGet(ctx context.Context, id t.ContactID) (*t.Contact, error) {
	return a.contacts[id], nil
}
func (a *stubAdapter) ContactGetByAddr(context.Context, string) (*t.Contact, error) { return nil, nil }
func (a *stubAdapter) ContactUpdate(context.Context, t.ContactID, map[string]interface{}) error {
	return nil
}

func (a *stubAdapter) PeerstateGet(context.Context, string) (*t.Peerstate, error) { return nil, nil }
func (a *stubAdapter) PeerstateSave(context.Context, *t.Peerstate) error          { return nil }

func (a *stubAdapter) ChatCreate(context.Context, *t.Chat) error { return nil }
func (a *stubAdapter) ChatGet(ctx context.Context, id t.ChatID) (*t.Chat, error) {
	return a.chats[id], nil
}
func (a *stubAdapter) ChatGetByGrpid(context.Context, string) (*t.Chat, error)        { return nil, nil }
func (a *stubAdapter) ChatGetSingleForContact(context.Context, t.ContactID) (*t.Chat, error) {
	return nil, nil
}
func (a *stubAdapter) ChatUpdate(context.Context, t.ChatID, map[string]interface{}) error { return nil }
func (a *stubAdapter) ChatDelete(context.Context, t.ChatID) error                         { return nil }

func (a *stubAdapter) MembersAdd(context.Context, t.ChatID, ...t.ContactID) error    { return nil }
func (a *stubAdapter) MembersRemove(context.Context, t.ChatID, ...t.ContactID) error { return nil }
func (a *stubAdapter) MembersGet(context.Context, t.ChatID) ([]t.ContactID, error)   { return nil, nil }

func (a *stubAdapter) MessageSave(context.Context, *t.Message) error { return nil }
func (a *stubAdapter) MessageGetByRfc724Mid(context.Context, string) (*t.Message, error) {
	return nil, nil
}
func (a *stubAdapter) MessageGet(context.Context, t.MsgID) (*t.Message, error) { return nil, nil }
func (a *stubAdapter) MessageUpdate(context.Context, t.MsgID, map[string]interface{}) error {
	return nil
}
func (a *stubAdapter) MessagesForChat(context.Context, t.ChatID, *t.QueryOpt) ([]t.Message, error) {
	return nil, nil
}

func (a *stubAdapter) WebxdcAppend(context.Context, *t.WebxdcUpdate) (int64, error) { return 0, nil }
func (a *stubAdapter) WebxdcUpdatesSince(context.Context, t.MsgID, int64) ([]t.WebxdcUpdate, error) {
	return nil, nil
}
func (a *stubAdapter) WebxdcMaxSerial(context.Context, t.MsgID) (int64, error) { return 0, nil }
func (a *stubAdapter) WebxdcHasUid(context.Context, t.MsgID, string) (bool, error) {
	return false, nil
}
func (a *stubAdapter) WebxdcQueuePending(context.Context, t.SmtpUpdateRange) error { return nil }
func (a *stubAdapter) WebxdcQueueDrain(context.Context, t.MsgID) ([]t.SmtpUpdateRange, error) {
	return nil, nil
}
func (a *stubAdapter) WebxdcDeleteInstance(context.Context, t.MsgID) error { return nil }

func (a *stubAdapter) DeleteExpired(context.Context, time.Time) error { return nil }

func fullyPopulated() *stubAdapter {
	a := &stubAdapter{contacts: map[t.ContactID]*t.Contact{}, chats: map[t.ChatID]*t.Chat{}}
	for _, id := range []t.ContactID{t.ContactSelf, t.ContactInfo, t.ContactDevice} {
		a.contacts[id] = &t.Contact{ID: id}
	}
	for _, id := range []t.ChatID{t.ChatDeaddrop, t.ChatTrash, t.ChatArchivedLink, t.ChatAllDoneHint} {
		a.chats[id] = &t.Chat{ID: id}
	}
	return a
}

func TestCheckReservedPasses(t2 *testing.T) {
	if err := checkReserved(context.Background(), fullyPopulated()); err != nil {
		t2.Fatalf("expected no error on a fully seeded store, got %v", err)
	}
}

func TestCheckReservedReportsMissingContact(t2 *testing.T) {
	a := fullyPopulated()
	delete(a.contacts, t.ContactDevice)
	err := checkReserved(context.Background(), a)
	if err == nil || !strings.Contains(err.Error(), "5") {
		t2.Fatalf("expected an error naming the missing contact id 5, got %v", err)
	}
}

func TestCheckReservedReportsMissingChat(t2 *testing.T) {
	a := fullyPopulated()
	delete(a.chats, t.ChatTrash)
	err := checkReserved(context.Background(), a)
	if err == nil || !strings.Contains(err.Error(), "3") {
		t2.Fatalf("expected an error naming the missing chat id 3, got %v", err)
	}
}

func TestStoreDSNReadsSubConfig(t2 *testing.T) {
	raw, err := json.Marshal(map[string]string{"dsn": "user:pass@tcp(localhost)/dcore"})
	if err != nil {
		t2.Fatalf("Marshal: %v", err)
	}
	cfg := config.Default()
	cfg.StoreConfig = raw
	if got := storeDSN(cfg); got != "user:pass@tcp(localhost)/dcore" {
		t2.Fatalf("expected dsn to round-trip, got %q", got)
	}
}

func TestStoreDSNEmptyWhenUnset(t2 *testing.T) {
	if got := storeDSN(config.Default()); got != "" {
		t2.Fatalf("expected empty dsn, got %q", got)
	}
}
