package securejoin

import (
	"context"
	"testing"
	"time"

	"github.com/coreim/dcore/securejoin/authtoken"
	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
	"github.com/coreim/dcore/wire"
)

type fakeAdapter struct {
	peerstates map[string]*t.Peerstate
	chats      map[string]*t.Chat
}

var _ adapter.Adapter = (*fakeAdapter)(nil)

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{peerstates: map[string]*t.Peerstate{}, chats: map[string]*t.Chat{}}
}

func (a *fakeAdapter) Open(string) error { return nil }
func (a *fakeAdapter) Close() error      { return nil }
func (a *fakeAdapter) IsOpen() bool      { return true }

func (a *fakeAdapter) ContactCreate(context.Context, *t.Contact) error { return nil }
func (a *fakeAdapter) ContactGet(context.Context, t.ContactID) (*t.Contact, error) {
	return nil, nil
}
func (a *fakeAdapter) ContactGetByAddr(context.Context, string) (*t.Contact, error) {
	return nil, nil
}
func (a *fakeAdapter) ContactUpdate(context.Context, t.ContactID, map[string]interface{}) error {
	return nil
}

func (a *fakeAdapter) PeerstateGet(ctx context.Context, addr string) (*t.Peerstate, error) {
	return a.peerstates[addr], nil
}
func (a *fakeAdapter) PeerstateSave(ctx context.Context, p *t.Peerstate) error {
	a.peerstates[p.ContactAddr] = p
	return nil
}

func (a *fakeAdapter) ChatCreate(context.Context, *t.Chat) error { return nil }
func (a *fakeAdapter) ChatGet(ctx context.Context, id t.ChatID) (*t.Chat, error) {
	for _, c := range a.chats {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}
func (a *fakeAdapter) ChatGetByGrpid(ctx context.Context, grpid string) (*t.Chat, error) {
	return a.chats[grpid], nil
}
func (a *fakeAdapter) ChatGetSingleForContact(context.Context, t.ContactID) (*t.Chat, error) {
	return nil, nil
}
func (a *fakeAdapter) ChatUpdate(context.Context, t.ChatID, map[string]interface{}) error { return nil }
func (a *fakeAdapter) ChatDelete(context.Context, t.ChatID) error                         { return nil }

func (a *fakeAdapter) MembersAdd(context.Context, t.ChatID, ...t.ContactID) error    { return nil }
func (a *fakeAdapter) MembersRemove(context.Context, t.ChatID, ...t.ContactID) error { return nil }
func (a *fakeAdapter) MembersGet(context.Context, t.ChatID) ([]t.ContactID, error)   { return nil, nil }

func (a *fakeAdapter) MessageSave(context.Context, *t.Message) error { return nil }
func (a *fakeAdapter) MessageGetByRfc724Mid(context.Context, string) (*t.Message, error) {
	return nil, nil
}
func (a *fakeAdapter) MessageGet(context.Context, t.MsgID) (*t.Message, error) { return nil, nil }
func (a *fakeAdapter) MessageUpdate(context.Context, t.MsgID, map[string]interface{}) error {
	return nil
}
func (a *fakeAdapter) MessagesForChat(context.Context, t.ChatID, *t.QueryOpt) ([]t.Message, error) {
	return nil, nil
}

func (a *fakeAdapter) WebxdcAppend(context.Context, *t.WebxdcUpdate) (int64, error) { return 0, nil }
func (a *fakeAdapter) WebxdcUpdatesSince(context.Context, t.MsgID, int64) ([]t.WebxdcUpdate, error) {
	return nil, nil
}
func (a *fakeAdapter) WebxdcMaxSerial(context.Context, t.MsgID) (int64, error) { return 0, nil }
func (a *fakeAdapter) WebxdcHasUid(context.Context, t.MsgID, string) (bool, error) {
	return false, nil
}
func (a *fakeAdapter) WebxdcQueuePending(context.Context, t.SmtpUpdateRange) error { return nil }
func (a *fakeAdapter) WebxdcQueueDrain(context.Context, t.MsgID) ([]t.SmtpUpdateRange, error) {
	return nil, nil
}
func (a *fakeAdapter) WebxdcDeleteInstance(context.Context, t.MsgID) error { return nil }

func (a *fakeAdapter) DeleteExpired(context.Context, time.Time) error { return nil }

type addrResolver struct {
	ids  map[string]t.ContactID
	next t.ContactID
}

func newAddrResolver() *addrResolver {
	return &addrResolver{ids: map[string]t.ContactID{}, next: t.ContactLastSpecial + 1}
}

func (r *addrResolver) ResolveAddr(ctx context.Context, addr string) (t.ContactID, error) {
	if id, ok := r.ids[addr]; ok {
		return id, nil
	}
	id := r.next
	r.next++
	r.ids[addr] = id
	return id, nil
}

type recordingEvents struct {
	joinerProgress  []int
	inviterProgress []int
}

func (r *recordingEvents) SecurejoinJoinerProgress(contact t.ContactID, progress int) {
	r.joinerProgress = append(r.joinerProgress, progress)
}
func (r *recordingEvents) SecurejoinInviterProgress(contact t.ContactID, progress int) {
	r.inviterProgress = append(r.inviterProgress, progress)
}

func TestVcHandshakeEndToEnd(t2 *testing.T) {
	store := newFakeAdapter()
	tokens, err := authtoken.New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t2.Fatalf("authtoken.New: %v", err)
	}

	inviterAddr, joinerAddr := "inviter@example.com", "joiner@example.com"
	inviterEvents, joinerEvents := &recordingEvents{}, &recordingEvents{}

	inviter := NewManager(store, newAddrResolver(), nil, tokens, inviterEvents, inviterAddr)
	joiner := NewManager(store, newAddrResolver(), nil, tokens, joinerEvents, joinerAddr)

	// Pretend the joiner already knows the inviter's key, as if discovered
	// via some other channel, so the fingerprint pin can be checked.
	store.peerstates[inviterAddr] = &t.Peerstate{ContactAddr: inviterAddr, PublicKey: t.Key{Fingerprint: "AAAA", Data: []byte("k")}}
	store.peerstates[joinerAddr] = &t.Peerstate{ContactAddr: joinerAddr, PublicKey: t.Key{Fingerprint: "BBBB", Data: []byte("k2")}}

	qrRaw, err := inviter.Offer(context.Background(), "AAAA", "Inviter", nil)
	if err != nil {
		t2.Fatalf("Offer: %v", err)
	}
	qr, err := ParseQR(qrRaw)
	if err != nil {
		t2.Fatalf("ParseQR: %v", err)
	}

	// 1. joiner -> vc-request
	req, err := joiner.StartJoiner(context.Background(), qr)
	if err != nil {
		t2.Fatalf("StartJoiner: %v", err)
	}
	if req.Headers[wire.HeaderSecureJoin] != wire.StepVcRequest {
		t2.Fatalf("expected vc-request, got %q", req.Headers[wire.HeaderSecureJoin])
	}

	// 2. inviter receives vc-request -> vc-auth-required
	inMsg1 := &wire.ParsedMessage{Headers: map[string][]string{
		wire.HeaderSecureJoin:             {req.Headers[wire.HeaderSecureJoin]},
		wire.HeaderSecureJoinInvitenumber: {req.Headers[wire.HeaderSecureJoinInvitenumber]},
	}}
	authRequired, _, err := inviter.InviterHandleInbound(context.Background(), joinerAddr, inMsg1, "AAAA")
	if err != nil {
		t2.Fatalf("InviterHandleInbound (request): %v", err)
	}
	if authRequired.Headers[wire.HeaderSecureJoin] != wire.StepVcAuthRequired {
		t2.Fatalf("expected vc-auth-required, got %q", authRequired.Headers[wire.HeaderSecureJoin])
	}

	// 3. joiner receives vc-auth-required -> vc-request-with-auth
	inMsg2 := &wire.ParsedMessage{WasEncrypted: true, Headers: map[string][]string{
		wire.HeaderSecureJoin:            {authRequired.Headers[wire.HeaderSecureJoin]},
		wire.HeaderSecureJoinFingerprint: {authRequired.Headers[wire.HeaderSecureJoinFingerprint]},
	}}
	reqWithAuth, err := joiner.JoinerHandleInbound(context.Background(), inviterAddr, inMsg2)
	if err != nil {
		t2.Fatalf("JoinerHandleInbound (auth-required): %v", err)
	}
	if reqWithAuth.Headers[wire.HeaderSecureJoin] != wire.StepVcRequestWithAuth {
		t2.Fatalf("expected vc-request-with-auth, got %q", reqWithAuth.Headers[wire.HeaderSecureJoin])
	}

	// 4. inviter receives vc-request-with-auth -> vc-contact-confirm, peer verified
	inMsg3 := &wire.ParsedMessage{WasEncrypted: true, Headers: map[string][]string{
		wire.HeaderSecureJoin:            {reqWithAuth.Headers[wire.HeaderSecureJoin]},
		wire.HeaderSecureJoinAuth:        {reqWithAuth.Headers[wire.HeaderSecureJoinAuth]},
		wire.HeaderSecureJoinFingerprint: {"BBBB"},
	}}
	confirm, _, err := inviter.InviterHandleInbound(context.Background(), joinerAddr, inMsg3, "AAAA")
	if err != nil {
		t2.Fatalf("InviterHandleInbound (request-with-auth): %v", err)
	}
	if confirm.Headers[wire.HeaderSecureJoin] != wire.StepVcContactConfirm {
		t2.Fatalf("expected vc-contact-confirm, got %q", confirm.Headers[wire.HeaderSecureJoin])
	}
	if !store.peerstates[joinerAddr].IsVerified() {
		t2.Fatalf("inviter should have marked the joiner verified")
	}

	// 5. joiner receives vc-contact-confirm -> done, inviter verified too
	inMsg4 := &wire.ParsedMessage{WasEncrypted: true, WasSigned: true, Headers: map[string][]string{
		wire.HeaderSecureJoin: {confirm.Headers[wire.HeaderSecureJoin]},
	}}
	final, err := joiner.JoinerHandleInbound(context.Background(), inviterAddr, inMsg4)
	if err != nil {
		t2.Fatalf("JoinerHandleInbound (confirm): %v", err)
	}
	if final != nil {
		t2.Fatalf("expected no further outgoing message after vc-contact-confirm")
	}
	if !store.peerstates[inviterAddr].IsVerified() {
		t2.Fatalf("joiner should have marked the inviter verified")
	}
	if joinerEvents.joinerProgress[len(joinerEvents.joinerProgress)-1] != 1000 {
		t2.Fatalf("expected joiner progress to reach 1000, got %v", joinerEvents.joinerProgress)
	}
}

func TestInviterRejectsSwappedGossipFingerprint(t2 *testing.T) {
	store := newFakeAdapter()
	tokens, _ := authtoken.New([]byte("0123456789abcdef0123456789abcdef"))
	inviterAddr, joinerAddr := "inviter@example.com", "mallory@example.com"
	inviter := NewManager(store, newAddrResolver(), nil, tokens, &recordingEvents{}, inviterAddr)

	store.peerstates[joinerAddr] = &t.Peerstate{ContactAddr: joinerAddr, PublicKey: t.Key{Fingerprint: "REAL-FP"}}

	invitenumber := tokens.Generate(0, authtoken.KindInvitenumber, time.Now())
	authcode := tokens.Generate(0, authtoken.KindAuthcode, time.Now())

	inMsg1 := &wire.ParsedMessage{Headers: map[string][]string{
		wire.HeaderSecureJoin:             {wire.StepVcRequest},
		wire.HeaderSecureJoinInvitenumber: {invitenumber},
	}}
	if _, _, err := inviter.InviterHandleInbound(context.Background(), joinerAddr, inMsg1, "AAAA"); err != nil {
		t2.Fatalf("InviterHandleInbound (request): %v", err)
	}

	inMsg2 := &wire.ParsedMessage{WasEncrypted: true, Headers: map[string][]string{
		wire.HeaderSecureJoin:            {wire.StepVcRequestWithAuth},
		wire.HeaderSecureJoinAuth:        {authcode},
		wire.HeaderSecureJoinFingerprint: {"SWAPPED-FP"},
	}}
	_, _, err := inviter.InviterHandleInbound(context.Background(), joinerAddr, inMsg2, "AAAA")
	if err == nil {
		t2.Fatalf("expected a swapped gossip fingerprint to be rejected")
	}
}
