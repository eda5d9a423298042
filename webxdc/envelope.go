package webxdc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/coreim/dcore/dcerr"
	t "github.com/coreim/dcore/store/types"
)

// ErrMalformedEnvelope and ErrMissingPayload are the two hard-error cases
// of §4.6/§7's "Protocol" class: a malformed JSON body or an update
// missing its required payload field.
var (
	ErrMalformedEnvelope = dcerr.New(dcerr.ClassProtocol, dcerr.ErrMalformedUpdate)
	ErrMissingPayload    = dcerr.New(dcerr.ClassProtocol, dcerr.ErrMalformedUpdate)
)

// Envelope is the JSON body of the hidden report-type=status-update MIME
// part (§4.6): {"updates":[ {...}, ... ]}.
type Envelope struct {
	Updates []UpdateJSON `json:"updates"`
}

// UpdateJSON is the wire shape of one status update. Unknown fields are
// dropped silently by encoding/json's default decode-into-struct behavior,
// matching §4.6's "future apps can probe for new features" extensibility
// rule without this package doing anything extra.
type UpdateJSON struct {
	Payload  json.RawMessage   `json:"payload"`
	Info     string            `json:"info,omitempty"`
	Summary  string            `json:"summary,omitempty"`
	Document string            `json:"document,omitempty"`
	Href     string            `json:"href,omitempty"`
	Notify   map[string]string `json:"notify,omitempty"`
	Uid      string            `json:"uid,omitempty"`
}

// DecodeEnvelope parses a received status-update MIME part's body. A
// malformed JSON or missing payload is a hard error per §4.6/§7.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	for _, u := range env.Updates {
		if len(u.Payload) == 0 {
			return nil, ErrMissingPayload
		}
	}
	return &env, nil
}

// EncodeEnvelope renders updates (already persisted, so they carry
// Serial) back into the wire JSON shape for retransmission/resync. Fields
// never recognized on the wire (Serial, SenderContactID, Timestamp) are
// left out, matching "unknown fields are silently dropped on send".
func EncodeEnvelope(updates []t.WebxdcUpdate) ([]byte, error) {
	env := Envelope{Updates: make([]UpdateJSON, len(updates))}
	for i, u := range updates {
		env.Updates[i] = UpdateJSON{
			Payload:  json.RawMessage(u.Payload),
			Info:     u.Info,
			Summary:  u.Summary,
			Document: u.Document,
			Href:     u.Href,
			Notify:   u.Notify,
			Uid:      u.Uid,
		}
	}
	return json.Marshal(env)
}

// DerivePseudoAddr computes the deterministic, non-reversible per-recipient
// self-addr of §4.6 via HKDF over (instance rfc724-mid, recipient address,
// a per-instance creation salt), so the webxdc app inside the instance can
// target notifications at specific members without ever learning their
// real email addresses.
func DerivePseudoAddr(instanceRfc724Mid, recipientAddr string, salt []byte) (string, error) {
	h := hkdf.New(sha256.New, []byte(recipientAddr), salt, []byte("webxdc-self-addr:"+instanceRfc724Mid))
	out := make([]byte, 16)
	if _, err := io.ReadFull(h, out); err != nil {
		return "", fmt.Errorf("webxdc: derive pseudo-addr: %w", err)
	}
	return hex.EncodeToString(out), nil
}
