package types

import "time"

// PreferEncrypt is a peer's Autocrypt encryption preference.
type PreferEncrypt int

const (
	PreferEncryptNoPreference PreferEncrypt = iota
	PreferEncryptMutual
	// PreferEncryptReset is entered when a peer who previously sent Mutual
	// sends an unencrypted message; the key is kept, only the preference
	// resets, so old signatures remain verifiable.
	PreferEncryptReset
)

func (p PreferEncrypt) String() string {
	switch p {
	case PreferEncryptMutual:
		return "mutual"
	case PreferEncryptReset:
		return "reset"
	default:
		return "no-preference"
	}
}

// Key is an OpenPGP public key plus its fingerprint, as handed to us by the
// crypto collaborator (see the crypto package's Engine interface). The core
// never inspects key bytes itself; it only compares fingerprints and
// timestamps.
type Key struct {
	Fingerprint string
	Data        []byte
}

func (k Key) IsSet() bool {
	return k.Fingerprint != ""
}

// Peerstate is the per-contact cryptographic state maintained by the
// Autocrypt engine. Keys are never deleted, only ever replaced by a
// header whose message date is not older than the last one applied (§4.3); this is what lets an old, unverified
// signature still validate after a peer resets their preference.
type Peerstate struct {
	ContactAddr string

	LastSeen         time.Time
	LastSeenAutocrypt time.Time

	PreferEncrypt PreferEncrypt

	PublicKey Key

	GossipKey       Key
	GossipTimestamp time.Time

	VerifiedKey     Key
	VerifiedBy      ContactID

	// BackwardVerified is set when a Chat-Verified header elevated this
	// peer to verified without us having seen the matching
	// vc-contact-confirm (§4.4 "Backward verification").
	BackwardVerified bool

	// FingerprintChanged is a sticky flag raised the first time a stored
	// key's fingerprint is replaced, so the UI can warn the user once.
	FingerprintChanged bool
}

// IsVerified reports whether the peer has been through the Secure-Join
// handshake (or a backward-verification header) and the resulting key is
// still the one on file.
func (p *Peerstate) IsVerified() bool {
	return p.VerifiedKey.IsSet() && p.VerifiedKey.Fingerprint == p.PublicKey.Fingerprint
}

// CanEncrypt reports whether we hold any usable public key for this peer.
func (p *Peerstate) CanEncrypt() bool {
	return p.PublicKey.IsSet()
}

// ApplyAutocryptHeader updates the stored key from an incoming Autocrypt
// header, honoring the monotonic last_seen_autocrypt invariant of §4.3: a
// header is only applied if msgDate is not older than what we've already
// recorded, and fingerprint changes are tracked.
func (p *Peerstate) ApplyAutocryptHeader(msgDate time.Time, prefer PreferEncrypt, key Key) bool {
	if msgDate.Before(p.LastSeenAutocrypt) {
		return false
	}
	p.LastSeenAutocrypt = msgDate
	if msgDate.After(p.LastSeen) {
		p.LastSeen = msgDate
	}
	if key.IsSet() && key.Fingerprint != p.PublicKey.Fingerprint {
		if p.PublicKey.IsSet() {
			p.FingerprintChanged = true
		}
		p.PublicKey = key
	}
	p.PreferEncrypt = prefer
	return true
}

// ApplyGossip updates the gossip key, which is only ever accepted from
// inside an already encrypted+signed message (enforced by the caller).
func (p *Peerstate) ApplyGossip(msgDate time.Time, key Key) bool {
	if !msgDate.After(p.GossipTimestamp) && !p.GossipTimestamp.IsZero() {
		return false
	}
	p.GossipTimestamp = msgDate
	if key.IsSet() && key.Fingerprint != p.GossipKey.Fingerprint {
		p.GossipKey = key
	}
	return true
}

// ResetOnPlaintext transitions PreferEncrypt to Reset when a peer who had
// Mutual sends us an unencrypted message. The key itself is retained.
func (p *Peerstate) ResetOnPlaintext() {
	if p.PreferEncrypt == PreferEncryptMutual {
		p.PreferEncrypt = PreferEncryptReset
	}
}
