// Package adapter contains the interface that must be implemented by a
// storage backend. The core engine never talks to a database directly; it
// only ever calls through this interface, exactly as the teacher's
// server/store/adapter package isolates Hub/Topic from the SQL/Mongo/
// RethinkDB backend underneath it. The on-disk schema itself (SQLite, per
// spec §1) is an external collaborator — this interface is the only
// contract this repo owns.
package adapter

import (
	"context"
	"time"

	t "github.com/coreim/dcore/store/types"
)

// Adapter is implemented once per storage backend. store/sqladapter and
// store/mongoadapter each provide one.
type Adapter interface {
	Open(dsn string) error
	Close() error
	IsOpen() bool

	// Contacts

	ContactCreate(ctx context.Context, c *t.Contact) error
	ContactGet(ctx context.Context, id t.ContactID) (*t.Contact, error)
	ContactGetByAddr(ctx context.Context, addr string) (*t.Contact, error)
	ContactUpdate(ctx context.Context, id t.ContactID, update map[string]interface{}) error

	// Peerstates

	PeerstateGet(ctx context.Context, addr string) (*t.Peerstate, error)
	PeerstateSave(ctx context.Context, p *t.Peerstate) error

	// Chats

	ChatCreate(ctx context.Context, c *t.Chat) error
	ChatGet(ctx context.Context, id t.ChatID) (*t.Chat, error)
	ChatGetByGrpid(ctx context.Context, grpid string) (*t.Chat, error)
	ChatGetSingleForContact(ctx context.Context, contact t.ContactID) (*t.Chat, error)
	ChatUpdate(ctx context.Context, id t.ChatID, update map[string]interface{}) error
	ChatDelete(ctx context.Context, id t.ChatID) error

	// Membership

	MembersAdd(ctx context.Context, chat t.ChatID, contacts ...t.ContactID) error
	MembersRemove(ctx context.Context, chat t.ChatID, contacts ...t.ContactID) error
	MembersGet(ctx context.Context, chat t.ChatID) ([]t.ContactID, error)

	// Messages

	MessageSave(ctx context.Context, m *t.Message) error
	MessageGetByRfc724Mid(ctx context.Context, mid string) (*t.Message, error)
	MessageGet(ctx context.Context, id t.MsgID) (*t.Message, error)
	MessageUpdate(ctx context.Context, id t.MsgID, update map[string]interface{}) error
	MessagesForChat(ctx context.Context, chat t.ChatID, opts *t.QueryOpt) ([]t.Message, error)

	// Webxdc status updates

	WebxdcAppend(ctx context.Context, u *t.WebxdcUpdate) (serial int64, err error)
	WebxdcUpdatesSince(ctx context.Context, instance t.MsgID, afterSerial int64) ([]t.WebxdcUpdate, error)
	WebxdcMaxSerial(ctx context.Context, instance t.MsgID) (int64, error)
	WebxdcHasUid(ctx context.Context, instance t.MsgID, uid string) (bool, error)
	WebxdcQueuePending(ctx context.Context, r t.SmtpUpdateRange) error
	WebxdcQueueDrain(ctx context.Context, instance t.MsgID) ([]t.SmtpUpdateRange, error)
	WebxdcDeleteInstance(ctx context.Context, instance t.MsgID) error

	// Housekeeping

	DeleteExpired(ctx context.Context, olderThan time.Time) error
}
