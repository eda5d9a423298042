package types

import "time"

// WebxdcUpdate is one row of a webxdc instance's append-only status-update
// log, keyed by (InstanceMsgID, Serial). Serial is a per-instance monotonic
// integer starting at 1; it is never exposed to the webxdc app itself, only
// to the host/UI (§4.6).
type WebxdcUpdate struct {
	InstanceMsgID MsgID
	Serial        int64

	// Payload is opaque JSON, passed through byte-for-byte (modulo
	// re-serialization) to the app.
	Payload []byte

	Info     string
	Document string
	Summary  string
	Href     string

	// Notify maps a per-recipient pseudo self-addr (or "*") to a
	// notification string.
	Notify map[string]string

	// Uid is an optional sender-supplied deduplication key; an update
	// whose Uid matches an existing row is discarded (§4.6).
	Uid string

	SenderContactID ContactID
	Timestamp       time.Time
}

// SmtpUpdateRange is a row in the outbound webxdc update queue: a
// contiguous range of serials for one instance still waiting to be
// rendered into a MIME envelope and handed to SMTP.
type SmtpUpdateRange struct {
	InstanceMsgID MsgID
	MinSerial     int64
	MaxSerial     int64
}
