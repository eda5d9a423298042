package sqladapter

import (
	"time"

	t "github.com/coreim/dcore/store/types"
)

// contactRow mirrors the `contacts` table layout; sqlx.Get scans directly
// into it by column name.
type contactRow struct {
	ID        int64     `db:"id"`
	Addr      string    `db:"addr"`
	Name      string    `db:"name"`
	AuthName  string    `db:"authname"`
	Origin    string    `db:"origin"`
	Status    string    `db:"status"`
	Hidden    bool      `db:"hidden"`
	IsBot     bool      `db:"is_bot"`
	LastSeen  time.Time `db:"last_seen"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *contactRow) toContact() *t.Contact {
	c := &t.Contact{
		ID:       t.ContactID(r.ID),
		Addr:     r.Addr,
		Name:     r.Name,
		AuthName: r.AuthName,
		Status:   r.Status,
		Hidden:   r.Hidden,
		IsBot:    r.IsBot,
		LastSeen: r.LastSeen,
	}
	c.CreatedAt = r.CreatedAt
	c.UpdatedAt = r.UpdatedAt
	_ = c.Origin.UnmarshalText([]byte(r.Origin))
	return c
}

type peerstateRow struct {
	ContactAddr        string    `db:"contact_addr"`
	LastSeen           time.Time `db:"last_seen"`
	LastSeenAutocrypt  time.Time `db:"last_seen_autocrypt"`
	PreferEncrypt      int       `db:"prefer_encrypt"`
	PublicKeyFp        string    `db:"public_key_fp"`
	PublicKey          []byte    `db:"public_key"`
	GossipKeyFp        string    `db:"gossip_key_fp"`
	GossipKey          []byte    `db:"gossip_key"`
	GossipTimestamp    time.Time `db:"gossip_ts"`
	VerifiedKeyFp      string    `db:"verified_key_fp"`
	VerifiedKey        []byte    `db:"verified_key"`
	VerifiedBy         int64     `db:"verified_by"`
	BackwardVerified   bool      `db:"backward_verified"`
	FingerprintChanged bool      `db:"fingerprint_changed"`
}

func (r *peerstateRow) toPeerstate() *t.Peerstate {
	return &t.Peerstate{
		ContactAddr:        r.ContactAddr,
		LastSeen:           r.LastSeen,
		LastSeenAutocrypt:  r.LastSeenAutocrypt,
		PreferEncrypt:      t.PreferEncrypt(r.PreferEncrypt),
		PublicKey:          t.Key{Fingerprint: r.PublicKeyFp, Data: r.PublicKey},
		GossipKey:          t.Key{Fingerprint: r.GossipKeyFp, Data: r.GossipKey},
		GossipTimestamp:    r.GossipTimestamp,
		VerifiedKey:        t.Key{Fingerprint: r.VerifiedKeyFp, Data: r.VerifiedKey},
		VerifiedBy:         t.ContactID(r.VerifiedBy),
		BackwardVerified:   r.BackwardVerified,
		FingerprintChanged: r.FingerprintChanged,
	}
}
