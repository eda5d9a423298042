package sqladapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	t "github.com/coreim/dcore/store/types"
)

func (a *Adapter) ChatCreate(ctx context.Context, c *t.Chat) error {
	c.InitTimes()
	params, _ := json.Marshal(c.Params)
	res, err := a.db.ExecContext(ctx,
		`INSERT INTO chats(type, name, grpid, blocked, visibility, protected, muted_until, params, left_self, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		int(c.Type), c.Name, c.Grpid, int(c.Blocked), int(c.Visibility), c.Protected, c.MutedUntil, params, c.LeftSelf,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqladapter: ChatCreate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = t.ChatID(id)
	return nil
}

func (a *Adapter) ChatGet(ctx context.Context, id t.ChatID) (*t.Chat, error) {
	var row chatRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM chats WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqladapter: ChatGet: %w", err)
	}
	return row.toChat(), nil
}

func (a *Adapter) ChatGetByGrpid(ctx context.Context, grpid string) (*t.Chat, error) {
	var row chatRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM chats WHERE grpid = ?`, grpid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqladapter: ChatGetByGrpid: %w", err)
	}
	return row.toChat(), nil
}

func (a *Adapter) ChatGetSingleForContact(ctx context.Context, contact t.ContactID) (*t.Chat, error) {
	var row chatRow
	err := a.db.GetContext(ctx, &row, `
		SELECT c.* FROM chats c
		JOIN chat_contacts m ON m.chat_id = c.id
		WHERE c.type = ? AND m.contact_id = ?`, int(t.ChatTypeSingle), contact)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqladapter: ChatGetSingleForContact: %w", err)
	}
	return row.toChat(), nil
}

func (a *Adapter) ChatUpdate(ctx context.Context, id t.ChatID, update map[string]interface{}) error {
	return execUpdate(ctx, a.db, "chats", "id", id, update)
}

func (a *Adapter) ChatDelete(ctx context.Context, id t.ChatID) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM webxdc_updates WHERE instance_msg_id IN (SELECT id FROM messages WHERE chat_id = ?)`,
		`DELETE FROM messages WHERE chat_id = ?`,
		`DELETE FROM chat_contacts WHERE chat_id = ?`,
		`DELETE FROM chats WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("sqladapter: ChatDelete: %w", err)
		}
	}
	return tx.Commit()
}

func (a *Adapter) MembersAdd(ctx context.Context, chat t.ChatID, contacts ...t.ContactID) error {
	for _, c := range contacts {
		if _, err := a.db.ExecContext(ctx,
			`INSERT IGNORE INTO chat_contacts(chat_id, contact_id) VALUES (?,?)`, chat, c); err != nil {
			return fmt.Errorf("sqladapter: MembersAdd: %w", err)
		}
	}
	return nil
}

func (a *Adapter) MembersRemove(ctx context.Context, chat t.ChatID, contacts ...t.ContactID) error {
	for _, c := range contacts {
		if _, err := a.db.ExecContext(ctx,
			`DELETE FROM chat_contacts WHERE chat_id = ? AND contact_id = ?`, chat, c); err != nil {
			return fmt.Errorf("sqladapter: MembersRemove: %w", err)
		}
	}
	return nil
}

func (a *Adapter) MembersGet(ctx context.Context, chat t.ChatID) ([]t.ContactID, error) {
	var ids []int64
	if err := a.db.SelectContext(ctx, &ids, `SELECT contact_id FROM chat_contacts WHERE chat_id = ?`, chat); err != nil {
		return nil, fmt.Errorf("sqladapter: MembersGet: %w", err)
	}
	out := make([]t.ContactID, len(ids))
	for i, id := range ids {
		out[i] = t.ContactID(id)
	}
	return out, nil
}

type chatRow struct {
	ID         int64  `db:"id"`
	Type       int    `db:"type"`
	Name       string `db:"name"`
	Grpid      string `db:"grpid"`
	Blocked    int    `db:"blocked"`
	Visibility int    `db:"visibility"`
	Protected  bool   `db:"protected"`
	MutedUntil int64  `db:"muted_until"`
	Params     []byte `db:"params"`
	LeftSelf   bool   `db:"left_self"`
}

func (r *chatRow) toChat() *t.Chat {
	c := &t.Chat{
		ID:         t.ChatID(r.ID),
		Type:       t.ChatType(r.Type),
		Name:       r.Name,
		Grpid:      r.Grpid,
		Blocked:    t.Blocked(r.Blocked),
		Visibility: t.Visibility(r.Visibility),
		Protected:  r.Protected,
		MutedUntil: r.MutedUntil,
		LeftSelf:   r.LeftSelf,
	}
	if len(r.Params) > 0 {
		_ = json.Unmarshal(r.Params, &c.Params)
	}
	return c
}
