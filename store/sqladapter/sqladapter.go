// Package sqladapter is a concrete adapter.Adapter backed by a relational
// database, using github.com/jmoiron/sqlx for query convenience and
// github.com/go-sql-driver/mysql as the default driver — the same pairing
// the teacher repo's store layer is built around. It stands in for the
// "SQLite schema" collaborator spec §1 declares external: the exact
// dialect is swappable by DSN, only the query shapes below are this
// repo's concern.
package sqladapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	t "github.com/coreim/dcore/store/types"
)

// Adapter implements adapter.Adapter over a sqlx.DB.
type Adapter struct {
	db *sqlx.DB
}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Open(dsn string) error {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	a.db = db
	return nil
}

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Adapter) IsOpen() bool {
	return a.db != nil
}

func (a *Adapter) ContactCreate(ctx context.Context, c *t.Contact) error {
	c.InitTimes()
	res, err := a.db.ExecContext(ctx,
		`INSERT INTO contacts(addr, name, authname, origin, status, hidden, is_bot, last_seen, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.Addr, c.Name, c.AuthName, c.Origin.String(), c.Status, c.Hidden, c.IsBot, c.LastSeen, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqladapter: ContactCreate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqladapter: ContactCreate: %w", err)
	}
	c.ID = t.ContactID(id)
	return nil
}

func (a *Adapter) ContactGet(ctx context.Context, id t.ContactID) (*t.Contact, error) {
	var row contactRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM contacts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqladapter: ContactGet: %w", err)
	}
	return row.toContact(), nil
}

func (a *Adapter) ContactGetByAddr(ctx context.Context, addr string) (*t.Contact, error) {
	var row contactRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM contacts WHERE addr = ?`, addr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqladapter: ContactGetByAddr: %w", err)
	}
	return row.toContact(), nil
}

func (a *Adapter) ContactUpdate(ctx context.Context, id t.ContactID, update map[string]interface{}) error {
	return execUpdate(ctx, a.db, "contacts", "id", id, update)
}

func (a *Adapter) PeerstateGet(ctx context.Context, addr string) (*t.Peerstate, error) {
	var row peerstateRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM peerstates WHERE contact_addr = ?`, addr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqladapter: PeerstateGet: %w", err)
	}
	return row.toPeerstate(), nil
}

func (a *Adapter) PeerstateSave(ctx context.Context, p *t.Peerstate) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO peerstates (contact_addr, last_seen, last_seen_autocrypt, prefer_encrypt,
			public_key_fp, public_key, gossip_key_fp, gossip_key, gossip_ts,
			verified_key_fp, verified_key, verified_by, backward_verified, fingerprint_changed)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
			last_seen=VALUES(last_seen), last_seen_autocrypt=VALUES(last_seen_autocrypt),
			prefer_encrypt=VALUES(prefer_encrypt),
			public_key_fp=VALUES(public_key_fp), public_key=VALUES(public_key),
			gossip_key_fp=VALUES(gossip_key_fp), gossip_key=VALUES(gossip_key), gossip_ts=VALUES(gossip_ts),
			verified_key_fp=VALUES(verified_key_fp), verified_key=VALUES(verified_key),
			verified_by=VALUES(verified_by), backward_verified=VALUES(backward_verified),
			fingerprint_changed=VALUES(fingerprint_changed)`,
		p.ContactAddr, p.LastSeen, p.LastSeenAutocrypt, int(p.PreferEncrypt),
		p.PublicKey.Fingerprint, p.PublicKey.Data, p.GossipKey.Fingerprint, p.GossipKey.Data, p.GossipTimestamp,
		p.VerifiedKey.Fingerprint, p.VerifiedKey.Data, p.VerifiedBy, p.BackwardVerified, p.FingerprintChanged)
	if err != nil {
		return fmt.Errorf("sqladapter: PeerstateSave: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ? AND received_ts < ?`, t.ChatTrash, olderThan)
	return err
}

// execUpdate builds a minimal "UPDATE table SET k=?,... WHERE pk = ?" from a
// map, the same column-agnostic update style the teacher's
// adapter.UserUpdate/TopicUpdate take a map[string]interface{} for.
func execUpdate(ctx context.Context, db *sqlx.DB, table, pkCol string, pk interface{}, update map[string]interface{}) error {
	if len(update) == 0 {
		return nil
	}
	query := "UPDATE " + table + " SET "
	args := make([]interface{}, 0, len(update)+1)
	first := true
	for col, val := range update {
		if !first {
			query += ", "
		}
		first = false
		query += col + " = ?"
		args = append(args, val)
	}
	query += " WHERE " + pkCol + " = ?"
	args = append(args, pk)
	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqladapter: update %s: %w", table, err)
	}
	return nil
}
