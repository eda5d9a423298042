package types

import (
	"errors"
	"time"
)

// Origin records how we first learned about a contact. The zero value is
// never stored; Unknown exists only so a missing origin is detectable.
// Ordering matters: higher values win when two origins are observed for the
// same address and the contact's display metadata has to be reconciled.
type Origin int

const (
	OriginUnknown Origin = iota
	OriginHidden
	OriginIncomingTo
	OriginAddressBook
	OriginIncomingUnknownFrom
	OriginManuallyCreated
)

var originNames = map[Origin]string{
	OriginUnknown:             "unknown",
	OriginHidden:              "hidden",
	OriginIncomingTo:          "incoming-to",
	OriginAddressBook:         "address-book",
	OriginIncomingUnknownFrom: "incoming-unknown-from",
	OriginManuallyCreated:     "manually-created",
}

func (o Origin) String() string {
	if s, ok := originNames[o]; ok {
		return s
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler so adapters can store the
// origin as a short string instead of a raw int that would break if the
// iota ordering ever shifts.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(b []byte) error {
	s := string(b)
	for k, v := range originNames {
		if v == s {
			*o = k
			return nil
		}
	}
	return errors.New("types: unknown contact origin " + s)
}

// Higher reports whether o should win over other when reconciling which
// origin "wins" for a contact observed through two different paths.
func (o Origin) Higher(other Origin) bool {
	return o > other
}

// Contact is the identity of a remote participant. Reserved ids
// (ContactSelf, ContactInfo, ContactDevice) are never sent over the
// network and never physically deleted.
type Contact struct {
	Header

	ID ContactID

	// Addr is the normalized (IDNA + lowercased) e-mail address. Unique,
	// case-insensitively, across the whole contact table.
	Addr string

	// Name is the user-assigned display name; empty if the user never set
	// one, in which case AuthName or the address itself is shown.
	Name string

	// AuthName is the display name last observed in an incoming From:
	// header, kept separate from Name so a peer can't silently overwrite a
	// name the user chose deliberately.
	AuthName string

	Origin Origin

	// Status is the free-text signature parsed out of a footer, shown in
	// the contact's profile.
	Status string

	LastSeen time.Time

	// Hidden marks a contact that was requested to be deleted while still
	// referenced by a chat membership row; it is excluded from contact
	// pickers but its rows are not physically removed.
	Hidden bool

	IsBot bool
}

// DisplayName returns the best available name for showing in a UI: the
// manually-set name, falling back to the authname, falling back to the
// address.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.AuthName != "" {
		return c.AuthName
	}
	return c.Addr
}
