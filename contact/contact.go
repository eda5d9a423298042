// Package contact implements the Contact lifecycle of spec §3:
// address normalization, add_or_lookup idempotency, and origin
// reconciliation when the same address is observed through more than one
// path (a manually-added address book entry later seen in a From: header,
// and so on). Grounded on the teacher's own add-or-create idiom for
// Topic/User lookups in hub.go, generalized to Origin's ordering instead of
// a single boolean "exists" check.
package contact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
)

// Resolver creates-or-looks-up contacts by address. It satisfies
// classify.ContactResolver, group.ContactResolver and
// securejoin.ContactResolver without any of those packages importing this
// one, keeping the dependency arrow pointing from the pipeline down to the
// leaves.
type Resolver struct {
	Store adapter.Adapter
}

func New(store adapter.Adapter) *Resolver {
	return &Resolver{Store: store}
}

// NormalizeAddr lowercases an address and punycode-normalizes its domain
// part, so "Alice@Exämple.org" and "alice@xn--exmple-cua.org" resolve to
// the same contact (spec §3 "address unique (case-insensitive)").
func NormalizeAddr(addr string) (string, error) {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || domain == "" {
		return "", fmt.Errorf("contact: %q is not a valid address", addr)
	}
	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		// A domain idna can't round-trip (already-ASCII with odd
		// labels, etc.) is still usable for equality purposes; fall back
		// to a plain lowercase rather than rejecting the address outright.
		asciiDomain = domain
	}
	return strings.ToLower(local) + "@" + strings.ToLower(asciiDomain), nil
}

// NormalizeDisplayName NFC-normalizes a manually-set display name or
// authname before storage, so two visually identical names typed on
// different platforms compare equal.
func NormalizeDisplayName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// ResolveAddr creates-or-looks-up a contact by address, returning its id.
// This is the narrow surface classify and group actually need.
func (r *Resolver) ResolveAddr(ctx context.Context, addr string) (t.ContactID, error) {
	c, err := r.AddOrLookup(ctx, addr, "", t.OriginIncomingUnknownFrom)
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// AddOrLookup is the teacher-style idempotent create: looking up an
// already-known address returns the existing row (reconciling Origin and
// AuthName per the rules below); an unknown address creates a new one.
// Reserved ids are never allocated here — SELF/INFO/DEVICE are seeded once
// at account setup, not discovered through this path.
func (r *Resolver) AddOrLookup(ctx context.Context, addr, authName string, origin t.Origin) (*t.Contact, error) {
	normAddr, err := NormalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	authName = NormalizeDisplayName(authName)

	existing, err := r.Store.ContactGetByAddr(ctx, normAddr)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		update := map[string]interface{}{}
		if origin.Higher(existing.Origin) {
			update["origin"] = origin
			existing.Origin = origin
		}
		// AuthName only ever tracks the *last* observed From: header, so
		// it is overwritten unconditionally as long as the peer supplied
		// one — never reconciled by Origin, which only governs how we
		// explain "how did we learn of this contact" for unknown ones.
		if authName != "" && authName != existing.AuthName {
			update["authname"] = authName
			existing.AuthName = authName
		}
		if len(update) > 0 {
			if err := r.Store.ContactUpdate(ctx, existing.ID, update); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	c := &t.Contact{
		Addr:     normAddr,
		AuthName: authName,
		Origin:   origin,
	}
	c.InitTimes()
	if err := r.Store.ContactCreate(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkSeen advances a contact's LastSeen timestamp; never moves it
// backwards so a reordered re-delivery can't regress it.
func (r *Resolver) MarkSeen(ctx context.Context, id t.ContactID, when interface{ Unix() int64 }) error {
	c, err := r.Store.ContactGet(ctx, id)
	if err != nil || c == nil {
		return err
	}
	seen := time.Unix(when.Unix(), 0).UTC()
	if !seen.After(c.LastSeen) {
		return nil
	}
	return r.Store.ContactUpdate(ctx, id, map[string]interface{}{"last_seen": seen})
}

// Delete implements the §3 "Hidden" soft-delete rule: a contact still
// referenced by any chat membership is marked Hidden rather than removed;
// callers that already know no membership rows reference it (checked via
// the adapter, outside this package's concern) may instead physically
// delete by calling the adapter directly.
func (r *Resolver) Delete(ctx context.Context, id t.ContactID) error {
	if id.IsSpecial() {
		return fmt.Errorf("contact: refusing to hide reserved contact id %d", id)
	}
	return r.Store.ContactUpdate(ctx, id, map[string]interface{}{"hidden": true})
}
