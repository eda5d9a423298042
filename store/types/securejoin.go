package types

import "time"

// SecurejoinRole distinguishes which side of the handshake a session
// tracks.
type SecurejoinRole int

const (
	RoleJoiner SecurejoinRole = iota
	RoleInviter
)

// SecurejoinStep is a node in the state machines of §4.4.
type SecurejoinStep int

const (
	StepIdle SecurejoinStep = iota

	// Joiner-side.
	StepJoinerWaitingAuthRequired
	StepJoinerWaitingContactConfirm
	StepJoinerDone

	// Inviter-side.
	StepInviterWaitingRequestWithAuth
	StepInviterDone
)

// SecurejoinSession is the per-invitee ephemeral state of §3. The
// securejoin package keeps both the joiner's and the inviter's sessions in
// memory only; nothing is written to chat Params, so an in-flight
// handshake does not survive a restart.
type SecurejoinSession struct {
	Role SecurejoinRole
	Step SecurejoinStep

	ContactID ContactID

	InviteNumber string
	AuthToken    string

	// ExpectedFingerprint pins the inviter's (joiner-side) or joiner's
	// (inviter-side) key so a swapped-gossip MITM is rejected (§4.4).
	ExpectedFingerprint string

	// GroupChatID is set only for the vg-* (verify-group) variant.
	GroupChatID ChatID
	GroupName   string

	StartedAt time.Time

	// JoinerProgress is reported in the SecurejoinJoinerProgress event,
	// 0..1000.
	JoinerProgress int
}

// IsGroupFlavor reports whether this session is the vg-* variant.
func (s *SecurejoinSession) IsGroupFlavor() bool {
	return s.GroupChatID != 0
}

// TimedOut reports whether the session has been waiting longer than
// timeout, measured from StartedAt against now.
func (s *SecurejoinSession) TimedOut(now time.Time, timeout time.Duration) bool {
	return !s.StartedAt.IsZero() && now.Sub(s.StartedAt) > timeout
}
