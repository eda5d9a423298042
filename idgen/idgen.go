// Package idgen generates monotonic 64-bit ids for Chats, Messages and
// Contacts using github.com/tinode/snowflake, the same id generator the
// teacher repo depends on. A plain autoincrement is fine for a single
// SQLite file, but once an account's store can be replicated or migrated
// between a SQL and a document backend (store/sqladapter,
// store/mongoadapter) a generator that doesn't depend on one backend's
// AUTO_INCREMENT semantics is worth keeping. The reserved low ids of §3
// are carved out below the generator's range.
package idgen

import (
	"fmt"

	"github.com/tinode/snowflake"

	t "github.com/coreim/dcore/store/types"
)

// Generator mints ids above store/types' reserved range.
type Generator struct {
	gen *snowflake.IdGenerator
}

// New builds a generator for the given worker id (one per running
// Context/process, so ids stay globally distinct across concurrently
// active accounts sharing a machine).
func New(workerID uint) (*Generator, error) {
	gen, err := snowflake.NewIdGenerator(workerID)
	if err != nil {
		return nil, fmt.Errorf("idgen: %w", err)
	}
	return &Generator{gen: gen}, nil
}

func (g *Generator) nextAboveReserved(reserved int64) int64 {
	id := g.gen.Get()
	if id <= reserved {
		id += reserved + 1
	}
	return id
}

func (g *Generator) NextContactID() t.ContactID {
	return t.ContactID(g.nextAboveReserved(int64(t.ContactLastSpecial)))
}

func (g *Generator) NextChatID() t.ChatID {
	return t.ChatID(g.nextAboveReserved(int64(t.ChatLastSpecial)))
}

func (g *Generator) NextMsgID() t.MsgID {
	return t.MsgID(g.gen.Get())
}
