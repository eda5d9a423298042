// Package wire names the custom headers the engine reads and writes (spec
// §6) and defines the narrow contract types the MIME-parsing collaborator
// hands the engine. Full MIME parsing/rendering is an external
// collaborator (spec §1); this package only owns the shapes at that
// boundary, not the parser itself.
package wire

// Header name constants, exactly as carried on the wire.
const (
	HeaderChatVersion              = "Chat-Version"
	HeaderChatGroupID              = "Chat-Group-ID"
	HeaderChatGroupName            = "Chat-Group-Name"
	HeaderChatGroupMemberAdded     = "Chat-Group-Member-Added"
	HeaderChatGroupMemberRemoved   = "Chat-Group-Member-Removed"
	HeaderChatGroupMemberTimestamp = "Chat-Group-Member-Timestamp"
	HeaderChatGroupPastMembers     = "Chat-Group-Past-Members"
	HeaderChatVerified             = "Chat-Verified"
	HeaderChatDispositionNotifyTo  = "Chat-Disposition-Notification-To"
	HeaderSecureJoin               = "Secure-Join"
	HeaderSecureJoinInvitenumber   = "Secure-Join-Invitenumber"
	HeaderSecureJoinAuth           = "Secure-Join-Auth"
	HeaderSecureJoinFingerprint    = "Secure-Join-Fingerprint"
	HeaderSecureJoinGroup          = "Secure-Join-Group"
	HeaderAutocrypt                = "Autocrypt"
	HeaderAutocryptGossip          = "Autocrypt-Gossip"
	HeaderAutoSubmitted             = "Auto-Submitted"
	HeaderListID                   = "List-ID"
	HeaderListPost                 = "List-Post"
	HeaderSender                   = "Sender"
	HeaderPrecedence               = "Precedence"
	HeaderInReplyTo                = "In-Reply-To"
	HeaderReferences               = "References"
	HeaderMessageID                = "Message-ID"
)

const ChatVersion1_0 = "1.0"

// Secure-Join step tokens.
const (
	StepVcRequest          = "vc-request"
	StepVcAuthRequired     = "vc-auth-required"
	StepVcRequestWithAuth  = "vc-request-with-auth"
	StepVcContactConfirm   = "vc-contact-confirm"
	StepVgRequest          = "vg-request"
	StepVgAuthRequired     = "vg-auth-required"
	StepVgRequestWithAuth  = "vg-request-with-auth"
	StepVgMemberAdded      = "vg-member-added"
)
