package types

// ChatContact is a membership row linking a chat to a contact. Group chats
// include ContactSelf; Single chats do not. This is the row the group
// membership protocol (package group) adds, removes and replays.
type ChatContact struct {
	ChatID    ChatID
	ContactID ContactID

	// Added is the Chat-Group-Member-Timestamp at which this row was last
	// (re)confirmed, used only for diagnostics; the authoritative
	// convergence timestamp lives on Chat.Params (ParamMemberTimestamp).
	Added int64
}
