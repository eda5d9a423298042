package autocrypt

import (
	"context"
	"errors"
	"testing"
	"time"

	t "github.com/coreim/dcore/store/types"
)

// fakeStore implements the slice of adapter.Adapter the ingestor touches
// with an in-memory map, following the same fake-the-whole-interface
// style as group_test.go's minimalAdapter: only PeerstateGet/PeerstateSave
// do real work, everything else is a stub this package never calls.
type fakeStore struct {
	peers map[string]*t.Peerstate
}

func newFakeStore() *fakeStore {
	return &fakeStore{peers: map[string]*t.Peerstate{}}
}

func (s *fakeStore) Open(string) error { return nil }
func (s *fakeStore) Close() error      { return nil }
func (s *fakeStore) IsOpen() bool      { return true }

func (s *fakeStore) ContactCreate(context.Context, *t.Contact) error { return nil }
func (s *fakeStore) ContactGet(context.Context, t.ContactID) (*t.Contact, error) {
	return nil, nil
}
func (s *fakeStore) ContactGetByAddr(context.Context, string) (*t.Contact, error) {
	return nil, nil
}
func (s *fakeStore) ContactUpdate(context.Context, t.ContactID, map[string]interface{}) error {
	return nil
}

func (s *fakeStore) PeerstateGet(ctx context.Context, addr string) (*t.Peerstate, error) {
	return s.peers[addr], nil
}
func (s *fakeStore) PeerstateSave(ctx context.Context, p *t.Peerstate) error {
	cp := *p
	s.peers[p.ContactAddr] = &cp
	return nil
}

func (s *fakeStore) ChatCreate(context.Context, *t.Chat) error { return nil }
func (s *fakeStore) ChatGet(context.Context, t.ChatID) (*t.Chat, error) {
	return nil, nil
}
func (s *fakeStore) ChatGetByGrpid(context.Context, string) (*t.Chat, error) {
	return nil, nil
}
func (s *fakeStore) ChatGetSingleForContact(context.Context, t.ContactID) (*t.Chat, error) {
	return nil, nil
}
func (s *fakeStore) ChatUpdate(context.Context, t.ChatID, map[string]interface{}) error {
	return nil
}
func (s *fakeStore) ChatDelete(context.Context, t.ChatID) error { return nil }

func (s *fakeStore) MembersAdd(context.Context, t.ChatID, ...t.ContactID) error { return nil }
func (s *fakeStore) MembersRemove(context.Context, t.ChatID, ...t.ContactID) error {
	return nil
}
func (s *fakeStore) MembersGet(context.Context, t.ChatID) ([]t.ContactID, error) {
	return nil, nil
}

func (s *fakeStore) MessageSave(context.Context, *t.Message) error { return nil }
func (s *fakeStore) MessageGetByRfc724Mid(context.Context, string) (*t.Message, error) {
	return nil, nil
}
func (s *fakeStore) MessageGet(context.Context, t.MsgID) (*t.Message, error) {
	return nil, nil
}
func (s *fakeStore) MessageUpdate(context.Context, t.MsgID, map[string]interface{}) error {
	return nil
}
func (s *fakeStore) MessagesForChat(context.Context, t.ChatID, *t.QueryOpt) ([]t.Message, error) {
	return nil, nil
}

func (s *fakeStore) WebxdcAppend(context.Context, *t.WebxdcUpdate) (int64, error) {
	return 0, nil
}
func (s *fakeStore) WebxdcUpdatesSince(context.Context, t.MsgID, int64) ([]t.WebxdcUpdate, error) {
	return nil, nil
}
func (s *fakeStore) WebxdcMaxSerial(context.Context, t.MsgID) (int64, error) { return 0, nil }
func (s *fakeStore) WebxdcHasUid(context.Context, t.MsgID, string) (bool, error) {
	return false, nil
}
func (s *fakeStore) WebxdcQueuePending(context.Context, t.SmtpUpdateRange) error { return nil }
func (s *fakeStore) WebxdcQueueDrain(context.Context, t.MsgID) ([]t.SmtpUpdateRange, error) {
	return nil, nil
}
func (s *fakeStore) WebxdcDeleteInstance(context.Context, t.MsgID) error { return nil }

func (s *fakeStore) DeleteExpired(context.Context, time.Time) error { return nil }

// fakeEngine is the crypto collaborator: a table of raw header strings to
// their parsed (addr, key, prefer), so tests never touch real OpenPGP.
type fakeEngine struct {
	headers map[string]parsedHeader
}

type parsedHeader struct {
	addr   string
	key    t.Key
	prefer t.PreferEncrypt
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{headers: map[string]parsedHeader{}}
}

func (e *fakeEngine) add(raw, addr, fingerprint string, prefer t.PreferEncrypt) {
	e.headers[raw] = parsedHeader{addr: addr, key: t.Key{Fingerprint: fingerprint, Data: []byte(fingerprint)}, prefer: prefer}
}

func (e *fakeEngine) ParseHeader(raw string) (string, t.Key, t.PreferEncrypt, error) {
	h, ok := e.headers[raw]
	if !ok {
		return "", t.Key{}, 0, errors.New("autocrypt: test fake: unknown header")
	}
	return h.addr, h.key, h.prefer, nil
}

func TestIngestAutocryptStoresKeyAndPreference(t2 *testing.T) {
	store := newFakeStore()
	engine := newFakeEngine()
	engine.add("alice-header", "alice@example.com", "fp-1", t.PreferEncryptMutual)
	ing := &Ingestor{Store: store, Engine: engine}

	day1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := ing.IngestAutocrypt(context.Background(), "alice@example.com", day1, "alice-header"); err != nil {
		t2.Fatalf("IngestAutocrypt: %v", err)
	}

	ps, err := store.PeerstateGet(context.Background(), "alice@example.com")
	if err != nil {
		t2.Fatalf("PeerstateGet: %v", err)
	}
	if ps == nil {
		t2.Fatal("expected a peerstate row to be created")
	}
	if ps.PublicKey.Fingerprint != "fp-1" {
		t2.Fatalf("expected key fp-1, got %q", ps.PublicKey.Fingerprint)
	}
	if ps.PreferEncrypt != t.PreferEncryptMutual {
		t2.Fatalf("expected PreferEncryptMutual, got %v", ps.PreferEncrypt)
	}
}

func TestIngestAutocryptIgnoresAddrMismatch(t2 *testing.T) {
	store := newFakeStore()
	engine := newFakeEngine()
	// Header claims a different addr than the message's From.
	engine.add("mismatched-header", "mallory@example.com", "fp-evil", t.PreferEncryptMutual)
	ing := &Ingestor{Store: store, Engine: engine}

	if err := ing.IngestAutocrypt(context.Background(), "alice@example.com", time.Now(), "mismatched-header"); err != nil {
		t2.Fatalf("IngestAutocrypt: %v", err)
	}
	if ps, _ := store.PeerstateGet(context.Background(), "alice@example.com"); ps != nil {
		t2.Fatalf("expected no peerstate row for an addr= mismatched header, got %+v", ps)
	}
	if ps, _ := store.PeerstateGet(context.Background(), "mallory@example.com"); ps != nil {
		t2.Fatalf("expected no peerstate row keyed by the header's claimed addr either, got %+v", ps)
	}
}

func TestIngestAutocryptLastSeenAutocryptIsMonotonic(t2 *testing.T) {
	store := newFakeStore()
	engine := newFakeEngine()
	engine.add("newer", "alice@example.com", "fp-new", t.PreferEncryptMutual)
	engine.add("older", "alice@example.com", "fp-old", t.PreferEncryptNoPreference)
	ing := &Ingestor{Store: store, Engine: engine}

	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := ing.IngestAutocrypt(context.Background(), "alice@example.com", newer, "newer"); err != nil {
		t2.Fatalf("IngestAutocrypt (newer): %v", err)
	}
	if err := ing.IngestAutocrypt(context.Background(), "alice@example.com", older, "older"); err != nil {
		t2.Fatalf("IngestAutocrypt (older): %v", err)
	}

	ps, _ := store.PeerstateGet(context.Background(), "alice@example.com")
	if ps.PublicKey.Fingerprint != "fp-new" {
		t2.Fatalf("expected an out-of-order older header to be dropped, key is now %q", ps.PublicKey.Fingerprint)
	}
	if ps.PreferEncrypt != t.PreferEncryptMutual {
		t2.Fatalf("expected preference from the older header not to overwrite the newer one, got %v", ps.PreferEncrypt)
	}
}

func TestResetOnPlaintextTransitionsMutualToResetButKeepsKey(t2 *testing.T) {
	store := newFakeStore()
	ing := &Ingestor{Store: store, Engine: newFakeEngine()}

	store.peers["alice@example.com"] = &t.Peerstate{
		ContactAddr:   "alice@example.com",
		PreferEncrypt: t.PreferEncryptMutual,
		PublicKey:     t.Key{Fingerprint: "fp-1", Data: []byte("fp-1")},
	}

	if err := ing.ResetOnPlaintext(context.Background(), "alice@example.com", time.Now()); err != nil {
		t2.Fatalf("ResetOnPlaintext: %v", err)
	}

	ps, _ := store.PeerstateGet(context.Background(), "alice@example.com")
	if ps.PreferEncrypt != t.PreferEncryptReset {
		t2.Fatalf("expected PreferEncryptReset, got %v", ps.PreferEncrypt)
	}
	if ps.PublicKey.Fingerprint != "fp-1" {
		t2.Fatalf("expected the key to be retained across a plaintext reset, got %q", ps.PublicKey.Fingerprint)
	}
}

func TestEncryptionDecisionRequiresEveryRecipientToHaveAKey(t2 *testing.T) {
	store := newFakeStore()
	ing := &Ingestor{Store: store, Engine: newFakeEngine()}

	store.peers["alice@example.com"] = &t.Peerstate{
		ContactAddr:   "alice@example.com",
		PreferEncrypt: t.PreferEncryptMutual,
		PublicKey:     t.Key{Fingerprint: "fp-alice", Data: []byte("fp-alice")},
	}
	// bob@example.com has no peerstate at all: no key on file.

	d, err := ing.EncryptionDecision(context.Background(), []string{"alice@example.com", "bob@example.com"}, true, false, false)
	if err != nil {
		t2.Fatalf("EncryptionDecision: %v", err)
	}
	if d.Encrypt {
		t2.Fatal("expected Encrypt=false when one recipient has no known key")
	}
	if len(d.Votes) != 2 {
		t2.Fatalf("expected a vote per recipient, got %d", len(d.Votes))
	}
}

func TestEncryptionDecisionMutualAgreementEncrypts(t2 *testing.T) {
	store := newFakeStore()
	ing := &Ingestor{Store: store, Engine: newFakeEngine()}

	for _, addr := range []string{"alice@example.com", "bob@example.com"} {
		store.peers[addr] = &t.Peerstate{
			ContactAddr:   addr,
			PreferEncrypt: t.PreferEncryptMutual,
			PublicKey:     t.Key{Fingerprint: "fp-" + addr, Data: []byte(addr)},
		}
	}

	d, err := ing.EncryptionDecision(context.Background(), []string{"alice@example.com", "bob@example.com"}, true, false, false)
	if err != nil {
		t2.Fatalf("EncryptionDecision: %v", err)
	}
	if !d.Encrypt {
		t2.Fatal("expected Encrypt=true when local and every peer prefer Mutual")
	}
}

func TestEncryptionDecisionOpportunisticEscalationViaThread(t2 *testing.T) {
	store := newFakeStore()
	ing := &Ingestor{Store: store, Engine: newFakeEngine()}

	// No preference declared on either side, but we hold a key and the
	// thread's last message was encrypted: still encrypt.
	store.peers["bob@example.com"] = &t.Peerstate{
		ContactAddr:   "bob@example.com",
		PreferEncrypt: t.PreferEncryptNoPreference,
		PublicKey:     t.Key{Fingerprint: "fp-bob", Data: []byte("bob")},
	}

	d, err := ing.EncryptionDecision(context.Background(), []string{"bob@example.com"}, false, false, true)
	if err != nil {
		t2.Fatalf("EncryptionDecision: %v", err)
	}
	if !d.Encrypt {
		t2.Fatal("expected opportunistic escalation to encrypt when the thread's last message was encrypted")
	}

	// Same peerstate, but no prior encrypted message in the thread and no
	// mutual agreement: falls back to plaintext.
	d2, err := ing.EncryptionDecision(context.Background(), []string{"bob@example.com"}, false, false, false)
	if err != nil {
		t2.Fatalf("EncryptionDecision: %v", err)
	}
	if d2.Encrypt {
		t2.Fatal("expected no escalation without mutual agreement or thread history")
	}
}

func TestEncryptionDecisionVerifiedGroupReportsMissingKeyRatherThanFallback(t2 *testing.T) {
	store := newFakeStore()
	ing := &Ingestor{Store: store, Engine: newFakeEngine()}
	// No peerstate at all for the recipient: no key on file.

	d, err := ing.EncryptionDecision(context.Background(), []string{"carol@example.com"}, true, true, false)
	if err != nil {
		t2.Fatalf("EncryptionDecision: %v", err)
	}
	if d.Encrypt {
		t2.Fatal("expected Encrypt=false so the caller can hard-fail the send rather than silently drop to plaintext")
	}
}

func TestEncryptionDecisionVerifiedGroupEncryptsWhenAllHaveKeys(t2 *testing.T) {
	store := newFakeStore()
	ing := &Ingestor{Store: store, Engine: newFakeEngine()}

	store.peers["carol@example.com"] = &t.Peerstate{
		ContactAddr: "carol@example.com",
		PublicKey:   t.Key{Fingerprint: "fp-carol", Data: []byte("carol")},
	}

	// A verified group must always encrypt once every recipient has a
	// key, regardless of prefer-encrypt agreement.
	d, err := ing.EncryptionDecision(context.Background(), []string{"carol@example.com"}, false, true, false)
	if err != nil {
		t2.Fatalf("EncryptionDecision: %v", err)
	}
	if !d.Encrypt {
		t2.Fatal("expected a verified group to always encrypt once every recipient has a known key")
	}
}
