package securejoin

import (
	"errors"
	"net/url"
	"strings"
)

const qrScheme = "OPENPGP4FPR:"

// QR is a parsed Secure-Join QR payload: OPENPGP4FPR:<fp>#a=<addr>&n=<name>
// &i=<invitenumber>&s=<authcode>[&x=<grpid>&g=<grpname>].
type QR struct {
	Fingerprint  string
	InviterAddr  string
	Name         string
	Invitenumber string
	Authcode     string

	// Grpid and GroupName are set only for the vg-* (verify-group) variant.
	Grpid     string
	GroupName string
}

// IsGroupFlavor reports whether this QR selects the vg-* state machine.
func (q *QR) IsGroupFlavor() bool {
	return q.Grpid != ""
}

// ParseQR parses a scanned Secure-Join QR payload.
func ParseQR(raw string) (*QR, error) {
	if !strings.HasPrefix(raw, qrScheme) {
		return nil, errors.New("securejoin: not an OPENPGP4FPR payload")
	}
	rest := raw[len(qrScheme):]

	fp, frag, ok := strings.Cut(rest, "#")
	if !ok {
		return nil, errors.New("securejoin: QR payload missing fragment")
	}

	values, err := url.ParseQuery(frag)
	if err != nil {
		return nil, err
	}

	q := &QR{
		Fingerprint:  strings.ToUpper(strings.TrimSpace(fp)),
		InviterAddr:  values.Get("a"),
		Name:         values.Get("n"),
		Invitenumber: values.Get("i"),
		Authcode:     values.Get("s"),
		Grpid:        values.Get("x"),
		GroupName:    values.Get("g"),
	}
	if q.InviterAddr == "" || q.Invitenumber == "" || q.Authcode == "" {
		return nil, errors.New("securejoin: QR payload missing required field")
	}
	return q, nil
}
