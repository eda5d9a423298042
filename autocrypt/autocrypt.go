// Package autocrypt implements header ingestion and the outgoing
// encryption decision of spec §4.3. It never touches OpenPGP key bytes
// itself beyond what the crypto collaborator (the Engine interface) hands
// back already parsed; the core only ever compares fingerprints and
// timestamps, matching the teacher's own stance of keeping crypto/transport
// concerns behind a narrow interface (see push.Handler for the analogous
// pattern on the notification side).
package autocrypt

import (
	"context"
	"strings"
	"time"

	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
)

// Engine is the external OpenPGP collaborator's contract: parsing an
// Autocrypt header's keydata into a fingerprint is a crypto operation, not
// something this package implements.
type Engine interface {
	// ParseHeader parses a raw Autocrypt/Autocrypt-Gossip header value
	// (the "addr=...; prefer-encrypt=...; keydata=..." format) and returns
	// the addr it claims, the key (with Fingerprint already computed) and
	// the declared preference. prefer-encrypt is only meaningful on a
	// plain Autocrypt header; gossip headers carry no preference.
	ParseHeader(raw string) (addr string, key t.Key, prefer t.PreferEncrypt, err error)
}

// Ingestor applies incoming Autocrypt state and decides outgoing
// encryption.
type Ingestor struct {
	Store  adapter.Adapter
	Engine Engine
}

// IngestAutocrypt applies a plain Autocrypt header from an incoming
// message, only if its addr= matches the message's From address (spec
// §4.3 header ingestion rule (a)); rule (b), the monotonic
// last_seen_autocrypt check, is enforced inside Peerstate.ApplyAutocryptHeader.
func (ing *Ingestor) IngestAutocrypt(ctx context.Context, fromAddr string, msgDate time.Time, raw string) error {
	if raw == "" {
		return nil
	}
	addr, key, prefer, err := ing.Engine.ParseHeader(raw)
	if err != nil {
		return nil // malformed header: ignored, not fatal, per §4.3/§7 parse-decrypt class
	}
	if !strings.EqualFold(addr, fromAddr) {
		return nil
	}

	ps, err := ing.Store.PeerstateGet(ctx, fromAddr)
	if err != nil {
		return err
	}
	if ps == nil {
		ps = &t.Peerstate{ContactAddr: fromAddr}
	}
	if ps.ApplyAutocryptHeader(msgDate, prefer, key) {
		return ing.Store.PeerstateSave(ctx, ps)
	}
	return nil
}

// IngestGossip applies one Autocrypt-Gossip header. Per §4.3 this is only
// ever honored from inside a message that was itself encrypted and
// signed; the caller (the receive pipeline) is responsible for that check
// since it alone knows the outer MIME structure's crypto status.
func (ing *Ingestor) IngestGossip(ctx context.Context, peerAddr string, msgDate time.Time, raw string) error {
	if raw == "" {
		return nil
	}
	_, key, _, err := ing.Engine.ParseHeader(raw)
	if err != nil {
		return nil
	}
	ps, err := ing.Store.PeerstateGet(ctx, peerAddr)
	if err != nil {
		return err
	}
	if ps == nil {
		ps = &t.Peerstate{ContactAddr: peerAddr}
	}
	if ps.ApplyGossip(msgDate, key) {
		return ing.Store.PeerstateSave(ctx, ps)
	}
	return nil
}

// ResetOnPlaintext applies the PreferEncrypt Mutual->Reset transition of
// §4.3 when a peer who previously opted into Mutual sends an unencrypted
// message. The caller passes msgDate so the stored LastSeen can advance
// even though no Autocrypt header accompanies this message.
func (ing *Ingestor) ResetOnPlaintext(ctx context.Context, peerAddr string, msgDate time.Time) error {
	ps, err := ing.Store.PeerstateGet(ctx, peerAddr)
	if err != nil || ps == nil {
		return err
	}
	ps.ResetOnPlaintext()
	if msgDate.After(ps.LastSeen) {
		ps.LastSeen = msgDate
	}
	return ing.Store.PeerstateSave(ctx, ps)
}

// Vote is one recipient's contribution to an outgoing encryption decision.
type Vote struct {
	Addr       string
	CanEncrypt bool
	Prefer     t.PreferEncrypt
}

// Decision is the outcome of EncryptionDecision.
type Decision struct {
	Encrypt bool
	Votes   []Vote
}

// EncryptionDecision implements §4.3's outgoing rule: encrypt iff every
// recipient has a known key, and either every peer prefers Mutual along
// with our own local preference, or the thread's last message was
// encrypted (opportunistic escalation). Verified groups always require
// encryption; the caller must treat Decision.Encrypt == false on a
// verified group as a hard send failure, not a silent plaintext fallback.
func (ing *Ingestor) EncryptionDecision(ctx context.Context, recipients []string, localPreferMutual bool, verifiedGroup bool, threadLastWasEncrypted bool) (Decision, error) {
	d := Decision{Encrypt: true}
	allMutual := true

	for _, addr := range recipients {
		ps, err := ing.Store.PeerstateGet(ctx, addr)
		if err != nil {
			return Decision{}, err
		}
		v := Vote{Addr: addr}
		if ps != nil {
			v.CanEncrypt = ps.CanEncrypt()
			v.Prefer = ps.PreferEncrypt
		}
		d.Votes = append(d.Votes, v)

		if !v.CanEncrypt {
			d.Encrypt = false
		}
		if v.Prefer != t.PreferEncryptMutual {
			allMutual = false
		}
	}

	if !d.Encrypt {
		// Caller must fail the send on a verified group rather than drop
		// to plaintext; reporting Encrypt==false here is enough either way.
		return d, nil
	}

	if verifiedGroup {
		return d, nil
	}

	mutualAgreed := localPreferMutual && allMutual
	if !mutualAgreed && !threadLastWasEncrypted {
		d.Encrypt = false
	}
	return d, nil
}

// GossipHeaders returns the Autocrypt-Gossip header value to attach for
// every recipient whose key we hold, keyed by address, per §4.3's "every
// outgoing message to > 1 recipient" rule. It does not check the number
// of recipients itself.
func (ing *Ingestor) GossipHeaders(ctx context.Context, recipients []string, render func(t.Key) string) (map[string]string, error) {
	out := make(map[string]string)
	for _, addr := range recipients {
		ps, err := ing.Store.PeerstateGet(ctx, addr)
		if err != nil {
			return nil, err
		}
		if ps != nil && ps.CanEncrypt() {
			out[addr] = render(ps.PublicKey)
		}
	}
	return out, nil
}
