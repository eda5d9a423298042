// Command dcoredb verifies a fresh account's storage is ready: it opens
// the configured SQL adapter and checks that the reserved contact/chat
// rows every account needs before ReceiveIMF can run (spec §3's
// ContactSelf/ContactInfo/ContactDevice and ChatDeaddrop/ChatTrash/
// ChatArchivedLink/ChatAllDoneHint) are present. Those rows carry fixed,
// ABI-stable ids that the schema migration itself must seed with explicit
// INSERTs — the adapter's Create methods always assign an
// auto-incremented id and so can never produce them — so this tool
// diagnoses a missing migration rather than attempting to paper over one.
// Grounded on the teacher's tinode-db/main.go: a -config flag (plus -dsn
// to override the store DSN), same "open, detect missing schema, report"
// sequence,
// narrowed from loading a sample dataset to checking the fixed rows this
// engine's ABI depends on.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"github.com/coreim/dcore/config"
	"github.com/coreim/dcore/store/adapter"
	"github.com/coreim/dcore/store/sqladapter"
	t "github.com/coreim/dcore/store/types"
)

func main() {
	conffile := flag.String("config", "./dcore.conf", "path to the account config file")
	dsn := flag.String("dsn", "", "storage DSN; overrides the config file's store_config.dsn if set")
	flag.Parse()

	cfg, err := config.Load(*conffile)
	if err != nil {
		log.Fatal("dcoredb: ", err)
	}

	dsnVal := *dsn
	if dsnVal == "" {
		dsnVal = storeDSN(cfg)
	}
	if dsnVal == "" {
		log.Fatal("dcoredb: no DSN given, pass -dsn or set store_config.dsn in the config file")
	}

	a := sqladapter.New()
	if err := a.Open(dsnVal); err != nil {
		log.Fatal("dcoredb: open storage: ", err)
	}
	defer a.Close()

	if err := checkReserved(context.Background(), a); err != nil {
		log.Fatal("dcoredb: ", err)
	}
	log.Println("dcoredb: storage ready")
}

// storeDSN reads store_config.dsn out of the opaque sub-config, the same
// split the teacher's own config.StoreConfig sub-document uses.
func storeDSN(cfg *config.Config) string {
	var sub struct {
		Dsn string `json:"dsn"`
	}
	if len(cfg.StoreConfig) == 0 {
		return ""
	}
	if err := json.Unmarshal(cfg.StoreConfig, &sub); err != nil {
		return ""
	}
	return sub.Dsn
}

func checkReserved(ctx context.Context, a adapter.Adapter) error {
	for _, id := range []t.ContactID{t.ContactSelf, t.ContactInfo, t.ContactDevice} {
		c, err := a.ContactGet(ctx, id)
		if err != nil {
			return fmt.Errorf("check reserved contact %d: %w", id, err)
		}
		if c == nil {
			return fmt.Errorf("reserved contact %d is missing; run the schema migration before starting the engine", id)
		}
	}
	for _, id := range []t.ChatID{t.ChatDeaddrop, t.ChatTrash, t.ChatArchivedLink, t.ChatAllDoneHint} {
		chat, err := a.ChatGet(ctx, id)
		if err != nil {
			return fmt.Errorf("check reserved chat %d: %w", id, err)
		}
		if chat == nil {
			return fmt.Errorf("reserved chat %d is missing; run the schema migration before starting the engine", id)
		}
	}
	return nil
}
