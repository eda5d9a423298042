package sqladapter

import (
	"context"
	"encoding/json"
	"fmt"

	t "github.com/coreim/dcore/store/types"
)

// WebxdcAppend, WebxdcUpdatesSince et al. are implemented here too so a
// deployment that doesn't want a second storage engine can run entirely on
// the SQL adapter; store/mongoadapter is the document-store alternative
// described in SPEC_FULL.md's domain stack for the same table shape.

func (a *Adapter) WebxdcAppend(ctx context.Context, u *t.WebxdcUpdate) (int64, error) {
	if u.Uid != "" {
		dup, err := a.WebxdcHasUid(ctx, u.InstanceMsgID, u.Uid)
		if err != nil {
			return 0, err
		}
		if dup {
			return 0, nil
		}
	}
	max, err := a.WebxdcMaxSerial(ctx, u.InstanceMsgID)
	if err != nil {
		return 0, err
	}
	serial := max + 1
	notify, _ := json.Marshal(u.Notify)
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO webxdc_updates(instance_msg_id, serial, payload, info, document, summary, href, notify, uid,
			sender_contact_id, ts)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.InstanceMsgID, serial, u.Payload, u.Info, u.Document, u.Summary, u.Href, notify, u.Uid,
		u.SenderContactID, u.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("sqladapter: WebxdcAppend: %w", err)
	}
	u.Serial = serial
	return serial, nil
}

func (a *Adapter) WebxdcUpdatesSince(ctx context.Context, instance t.MsgID, afterSerial int64) ([]t.WebxdcUpdate, error) {
	var rows []webxdcRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT * FROM webxdc_updates WHERE instance_msg_id = ? AND serial > ? ORDER BY serial ASC`,
		instance, afterSerial)
	if err != nil {
		return nil, fmt.Errorf("sqladapter: WebxdcUpdatesSince: %w", err)
	}
	out := make([]t.WebxdcUpdate, len(rows))
	for i, r := range rows {
		out[i] = *r.toUpdate()
	}
	return out, nil
}

func (a *Adapter) WebxdcMaxSerial(ctx context.Context, instance t.MsgID) (int64, error) {
	var max int64
	err := a.db.GetContext(ctx, &max, `SELECT COALESCE(MAX(serial), 0) FROM webxdc_updates WHERE instance_msg_id = ?`, instance)
	if err != nil {
		return 0, fmt.Errorf("sqladapter: WebxdcMaxSerial: %w", err)
	}
	return max, nil
}

func (a *Adapter) WebxdcHasUid(ctx context.Context, instance t.MsgID, uid string) (bool, error) {
	var count int
	err := a.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM webxdc_updates WHERE instance_msg_id = ? AND uid = ?`, instance, uid)
	if err != nil {
		return false, fmt.Errorf("sqladapter: WebxdcHasUid: %w", err)
	}
	return count > 0, nil
}

func (a *Adapter) WebxdcQueuePending(ctx context.Context, r t.SmtpUpdateRange) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO webxdc_smtp_queue(instance_msg_id, min_serial, max_serial) VALUES (?,?,?)`,
		r.InstanceMsgID, r.MinSerial, r.MaxSerial)
	if err != nil {
		return fmt.Errorf("sqladapter: WebxdcQueuePending: %w", err)
	}
	return nil
}

func (a *Adapter) WebxdcQueueDrain(ctx context.Context, instance t.MsgID) ([]t.SmtpUpdateRange, error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var ranges []t.SmtpUpdateRange
	rows, err := tx.QueryxContext(ctx,
		`SELECT min_serial, max_serial FROM webxdc_smtp_queue WHERE instance_msg_id = ? ORDER BY min_serial ASC`, instance)
	if err != nil {
		return nil, fmt.Errorf("sqladapter: WebxdcQueueDrain: %w", err)
	}
	for rows.Next() {
		var r t.SmtpUpdateRange
		r.InstanceMsgID = instance
		if err := rows.Scan(&r.MinSerial, &r.MaxSerial); err != nil {
			rows.Close()
			return nil, err
		}
		ranges = append(ranges, r)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM webxdc_smtp_queue WHERE instance_msg_id = ?`, instance); err != nil {
		return nil, fmt.Errorf("sqladapter: WebxdcQueueDrain: %w", err)
	}
	return ranges, tx.Commit()
}

func (a *Adapter) WebxdcDeleteInstance(ctx context.Context, instance t.MsgID) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM webxdc_updates WHERE instance_msg_id = ?`, instance); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM webxdc_smtp_queue WHERE instance_msg_id = ?`, instance); err != nil {
		return err
	}
	return tx.Commit()
}

type webxdcRow struct {
	InstanceMsgID   int64  `db:"instance_msg_id"`
	Serial          int64  `db:"serial"`
	Payload         []byte `db:"payload"`
	Info            string `db:"info"`
	Document        string `db:"document"`
	Summary         string `db:"summary"`
	Href            string `db:"href"`
	Notify          []byte `db:"notify"`
	Uid             string `db:"uid"`
	SenderContactID int64  `db:"sender_contact_id"`
	Ts              string `db:"ts"`
}

func (r *webxdcRow) toUpdate() *t.WebxdcUpdate {
	u := &t.WebxdcUpdate{
		InstanceMsgID:   t.MsgID(r.InstanceMsgID),
		Serial:          r.Serial,
		Payload:         r.Payload,
		Info:            r.Info,
		Document:        r.Document,
		Summary:         r.Summary,
		Href:            r.Href,
		Uid:             r.Uid,
		SenderContactID: t.ContactID(r.SenderContactID),
	}
	if len(r.Notify) > 0 {
		_ = json.Unmarshal(r.Notify, &u.Notify)
	}
	return u
}
