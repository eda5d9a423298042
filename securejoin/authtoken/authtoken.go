// Package authtoken mints and verifies the invitenumber/authcode pair
// carried in a Secure-Join QR payload and its vc-request-with-auth
// message. Grounded on the teacher's server/auth/token fixed-layout,
// HMAC-signed token: instead of persisting a random invitenumber/authcode
// per pending invite and looking it up on every message, both are opaque
// self-verifying tokens the inviter can check without a DB round trip.
package authtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"time"

	t "github.com/coreim/dcore/store/types"
)

// Token layout, mirroring the teacher's token_auth byte layout:
// [8:ContactID][4:issuedAt unix32][1:kind][32:HMAC-SHA256 signature] == 45 bytes,
// base32-encoded (no padding) so it drops cleanly into a QR fragment.
const (
	contactIDLen = 8
	issuedAtLen  = 4
	kindLen      = 1
	sigLen       = sha256.Size
	rawLen       = contactIDLen + issuedAtLen + kindLen + sigLen
)

// Kind distinguishes an invitenumber from an authcode so one can never be
// replayed as the other even though they share an encoding.
type Kind byte

const (
	KindInvitenumber Kind = 1
	KindAuthcode     Kind = 2
)

var ErrMalformed = errors.New("authtoken: malformed token")
var ErrBadSignature = errors.New("authtoken: signature mismatch")
var ErrWrongKind = errors.New("authtoken: wrong token kind")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Codec mints and verifies tokens for one account.
type Codec struct {
	hmacSalt []byte
}

func New(hmacSalt []byte) (*Codec, error) {
	if len(hmacSalt) < sha256.Size {
		return nil, errors.New("authtoken: salt too short")
	}
	return &Codec{hmacSalt: hmacSalt}, nil
}

// Generate mints a token binding contact and kind, stamped with now.
func (c *Codec) Generate(contact t.ContactID, kind Kind, now time.Time) string {
	buf := make([]byte, rawLen)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(contact))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(now.Unix()))
	buf[12] = byte(kind)

	mac := hmac.New(sha256.New, c.hmacSalt)
	mac.Write(buf[:13])
	sig := mac.Sum(nil)
	copy(buf[13:], sig)

	return encoding.EncodeToString(buf)
}

// Verify checks a token's signature and kind, returning the bound contact
// and the time it was issued.
func (c *Codec) Verify(token string, wantKind Kind) (t.ContactID, time.Time, error) {
	buf, err := encoding.DecodeString(token)
	if err != nil || len(buf) != rawLen {
		return 0, time.Time{}, ErrMalformed
	}

	mac := hmac.New(sha256.New, c.hmacSalt)
	mac.Write(buf[:13])
	want := mac.Sum(nil)
	if !hmac.Equal(want, buf[13:]) {
		return 0, time.Time{}, ErrBadSignature
	}

	if Kind(buf[12]) != wantKind {
		return 0, time.Time{}, ErrWrongKind
	}

	contact := t.ContactID(binary.LittleEndian.Uint64(buf[0:8]))
	issuedAt := time.Unix(int64(binary.LittleEndian.Uint32(buf[8:12])), 0).UTC()
	return contact, issuedAt, nil
}
