package sqladapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	t "github.com/coreim/dcore/store/types"
)

func (a *Adapter) MessageSave(ctx context.Context, m *t.Message) error {
	m.InitTimes()
	params, _ := json.Marshal(m.Params)
	res, err := a.db.ExecContext(ctx, `
		INSERT INTO messages(chat_id, from_id, to_id, rfc724_mid, mime_in_reply_to, mime_references,
			sort_ts, sent_ts, received_ts, viewtype, state, text, subject, download, hidden, params, error,
			created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ChatID, m.FromID, m.ToID, m.Rfc724Mid, m.MimeInReplyTo, strings.Join(m.MimeReferences, " "),
		m.SortTimestamp, m.SentTimestamp, m.ReceivedTimestamp, int(m.Viewtype), int(m.State), m.Text, m.Subject,
		int(m.Download), m.Hidden, params, m.Error, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqladapter: MessageSave: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = t.MsgID(id)
	return nil
}

func (a *Adapter) MessageGetByRfc724Mid(ctx context.Context, mid string) (*t.Message, error) {
	var row messageRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM messages WHERE rfc724_mid = ?`, mid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqladapter: MessageGetByRfc724Mid: %w", err)
	}
	return row.toMessage(), nil
}

func (a *Adapter) MessageGet(ctx context.Context, id t.MsgID) (*t.Message, error) {
	var row messageRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM messages WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqladapter: MessageGet: %w", err)
	}
	return row.toMessage(), nil
}

func (a *Adapter) MessageUpdate(ctx context.Context, id t.MsgID, update map[string]interface{}) error {
	return execUpdate(ctx, a.db, "messages", "id", id, update)
}

func (a *Adapter) MessagesForChat(ctx context.Context, chat t.ChatID, opts *t.QueryOpt) ([]t.Message, error) {
	query := `SELECT * FROM messages WHERE chat_id = ? ORDER BY sort_ts ASC`
	args := []interface{}{chat}
	if opts != nil && opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	var rows []messageRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqladapter: MessagesForChat: %w", err)
	}
	out := make([]t.Message, len(rows))
	for i, r := range rows {
		out[i] = *r.toMessage()
	}
	return out, nil
}

type messageRow struct {
	ID              int64          `db:"id"`
	ChatID          int64          `db:"chat_id"`
	FromID          int64          `db:"from_id"`
	ToID            int64          `db:"to_id"`
	Rfc724Mid       string         `db:"rfc724_mid"`
	MimeInReplyTo   string         `db:"mime_in_reply_to"`
	MimeReferences  string         `db:"mime_references"`
	SortTs          sql.NullTime   `db:"sort_ts"`
	SentTs          sql.NullTime   `db:"sent_ts"`
	ReceivedTs      sql.NullTime   `db:"received_ts"`
	Viewtype        int            `db:"viewtype"`
	State           int            `db:"state"`
	Text            string         `db:"text"`
	Subject         string         `db:"subject"`
	Download        int            `db:"download"`
	Hidden          bool           `db:"hidden"`
	Params          []byte         `db:"params"`
	Error           sql.NullString `db:"error"`
}

func (r *messageRow) toMessage() *t.Message {
	m := &t.Message{
		ID:            t.MsgID(r.ID),
		ChatID:        t.ChatID(r.ChatID),
		FromID:        t.ContactID(r.FromID),
		ToID:          t.ContactID(r.ToID),
		Rfc724Mid:     r.Rfc724Mid,
		MimeInReplyTo: r.MimeInReplyTo,
		Viewtype:      t.Viewtype(r.Viewtype),
		State:         t.State(r.State),
		Text:          r.Text,
		Subject:       r.Subject,
		Download:      t.DownloadState(r.Download),
		Hidden:        r.Hidden,
		Error:         r.Error.String,
	}
	if r.MimeReferences != "" {
		m.MimeReferences = strings.Split(r.MimeReferences, " ")
	}
	m.SortTimestamp = r.SortTs.Time
	m.SentTimestamp = r.SentTs.Time
	m.ReceivedTimestamp = r.ReceivedTs.Time
	if len(r.Params) > 0 {
		_ = json.Unmarshal(r.Params, &m.Params)
	}
	return m
}
