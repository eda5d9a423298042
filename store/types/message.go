package types

import "time"

// Viewtype is the rendering hint for a message's primary content.
type Viewtype int

const (
	ViewtypeText Viewtype = iota
	ViewtypeImage
	ViewtypeGif
	ViewtypeSticker
	ViewtypeAudio
	ViewtypeVoice
	ViewtypeVideo
	ViewtypeFile
	ViewtypeVideochatInvitation
	ViewtypeWebxdc
	ViewtypeVcard
)

// State is a message's position in the state machine of §4.5. Values are
// grouped so that range checks (e.g. "any outgoing state") are cheap.
type State int

const (
	StateUndefined State = iota

	StateInFresh
	StateInNoticed
	StateInSeen

	StateOutPreparing
	StateOutDraft
	StateOutPending
	StateOutDelivered
	StateOutFailed
	StateOutMdnRcvd
)

func (s State) IsIncoming() bool {
	return s == StateInFresh || s == StateInNoticed || s == StateInSeen
}

func (s State) IsOutgoing() bool {
	return s >= StateOutPreparing && s <= StateOutMdnRcvd
}

// DownloadState tracks partial-download handling (§4.5 markseen rule).
type DownloadState int

const (
	DownloadDone DownloadState = iota
	DownloadAvailable
	DownloadInProgress
	DownloadFailure
	DownloadUndecipherable
)

// IsIncomplete reports whether content is not fully available locally,
// which caps markseen at InNoticed (§4.5).
func (d DownloadState) IsIncomplete() bool {
	return d != DownloadDone
}

// Well-known message parameter keys.
const (
	ParamFile          = "file"
	ParamMimeType      = "mimetype"
	ParamCmd           = "cmd"
	ParamSecurejoin    = "securejoin"
	ParamWebxdcSummary = "webxdc_summary"
	ParamWebxdcDocName = "webxdc_document"
	// ParamWebxdcNeedsUpgrade marks an instance whose manifest.toml
	// min_api exceeds SupportedAPI (§4.6): opening it must render the
	// synthesized "requires newer version" page instead of index.html.
	ParamWebxdcNeedsUpgrade = "webxdc_needs_upgrade"
	// ParamInfoInstance marks a system info message as belonging to a
	// webxdc instance, so consecutive info updates from the same instance
	// can collapse into one (§4.6).
	ParamInfoInstance = "info_instance"
)

// IsInfo reports whether m is a synthesized system message (attributed to
// ContactInfo) rather than user-authored content.
func (m *Message) IsInfo() bool {
	return m.FromID == ContactInfo
}

// Message is a single message row. ChatID == ChatTrash marks a tombstone
// kept only to suppress re-download of the same rfc724_mid (§3, §9).
type Message struct {
	Header

	ID     MsgID
	ChatID ChatID
	FromID ContactID
	ToID   ContactID // meaningful for Single chats only

	Rfc724Mid      string
	MimeInReplyTo  string
	MimeReferences []string

	SortTimestamp     time.Time
	SentTimestamp     time.Time
	ReceivedTimestamp time.Time

	Viewtype Viewtype
	State    State

	Text    string
	Subject string

	Download DownloadState
	Hidden   bool

	Params Params

	Error string
}

// IsTombstone reports whether this row exists only to suppress re-download.
func (m *Message) IsTombstone() bool {
	return m.ChatID == ChatTrash
}
