package dcore

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coreim/dcore/autocrypt"
	"github.com/coreim/dcore/classify"
	"github.com/coreim/dcore/config"
	"github.com/coreim/dcore/contact"
	"github.com/coreim/dcore/events"
	"github.com/coreim/dcore/group"
	"github.com/coreim/dcore/idgen"
	"github.com/coreim/dcore/metrics"
	"github.com/coreim/dcore/securejoin"
	"github.com/coreim/dcore/securejoin/authtoken"
	"github.com/coreim/dcore/store/adapter"
	t "github.com/coreim/dcore/store/types"
	"github.com/coreim/dcore/webxdc"
)

// Context is the per-account handle of spec §2: one value wires together
// storage and every protocol engine for a single account, exactly as the
// teacher's Hub wires Topic/Session/Subs together for one running server
// process. Unlike the teacher, there is no network listener here — the
// MIME transport (IMAP/SMTP) is an external collaborator that drives
// ReceiveIMF and reads the outbound queue this package fills in.
type Context struct {
	Store adapter.Adapter

	SelfAddr string
	// SelfFingerprint is this account's own OpenPGP fingerprint, needed to
	// answer a Secure-Join vc-request/vg-request as inviter. Set by the
	// caller once the crypto collaborator has generated or loaded the
	// account's keypair; empty until then, which simply means this
	// account cannot yet act as a Secure-Join inviter.
	SelfFingerprint string

	Contacts   *contact.Resolver
	Messages   *Messages
	Classify   *classify.Classifier
	Group      *group.Protocol
	Autocrypt  *autocrypt.Ingestor
	Securejoin *securejoin.Manager
	Webxdc     *webxdc.Engine
	IDs        *idgen.Generator
	Config     *config.Config
	Metrics    *metrics.Pipeline

	Ongoing Ongoing
}

// peerVerifier adapts Peerstate lookups into group.Verifier, resolving a
// contact id back to its address (the only key Peerstate is stored under)
// through the adapter directly, bypassing contact.Resolver's
// create-on-miss behavior since a verifier must never invent a contact.
type peerVerifier struct {
	store adapter.Adapter
}

func (v *peerVerifier) IsVerified(ctx context.Context, id t.ContactID) (bool, error) {
	c, err := v.store.ContactGet(ctx, id)
	if err != nil || c == nil {
		return false, err
	}
	ps, err := v.store.PeerstateGet(ctx, c.Addr)
	if err != nil || ps == nil {
		return false, err
	}
	return ps.IsVerified(), nil
}

// NewContext wires one account's full engine. reg is typically
// prometheus.DefaultRegisterer, or a dedicated registry in tests; pass nil
// to skip metrics registration entirely.
func NewContext(store adapter.Adapter, selfAddr string, crypto autocrypt.Engine, tokenSalt []byte, workerID uint, cfg *config.Config, reg prometheus.Registerer) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	ids, err := idgen.New(workerID)
	if err != nil {
		return nil, err
	}
	tokens, err := authtoken.New(tokenSalt)
	if err != nil {
		return nil, err
	}

	contacts := contact.New(store)
	messages := &Messages{Store: store}
	verifier := &peerVerifier{store: store}

	grp := &group.Protocol{
		Store:    store,
		Contacts: contacts,
		Verify:   verifier,
		SelfAddr: selfAddr,
	}

	cl := &classify.Classifier{
		Store:    store,
		Contacts: contacts,
		Config: classify.Config{
			SelfAddr:   selfAddr,
			ShowEmails: classify.ShowEmails(cfg.ShowEmails),
			IsBot:      cfg.Bot,
		},
	}

	ac := &autocrypt.Ingestor{Store: store, Engine: crypto}

	sj := securejoin.NewManager(store, contacts, grp, tokens, eventSecurejoinSink{}, selfAddr)

	wx := webxdc.New(store, eventWebxdcSink{})

	var m *metrics.Pipeline
	if reg != nil {
		m = metrics.NewPipeline(reg)
	}

	return &Context{
		Store:      store,
		SelfAddr:   selfAddr,
		Contacts:   contacts,
		Messages:   messages,
		Classify:   cl,
		Group:      grp,
		Autocrypt:  ac,
		Securejoin: sj,
		Webxdc:     wx,
		IDs:        ids,
		Config:     cfg,
		Metrics:    m,
	}, nil
}

// eventSecurejoinSink and eventWebxdcSink adapt the events package's
// process-wide Emit into the narrow per-subsystem EventSink interfaces
// securejoin and webxdc each define, so those packages stay decoupled from
// the fan-out layer's shape.
type eventSecurejoinSink struct{}

func (eventSecurejoinSink) SecurejoinJoinerProgress(contactID t.ContactID, progress int) {
	events.Emit(&events.Event{What: events.ActSecurejoinJoinerProgress, ContactID: contactID, Progress: progress})
}

func (eventSecurejoinSink) SecurejoinInviterProgress(contactID t.ContactID, progress int) {
	events.Emit(&events.Event{What: events.ActSecurejoinInviterProgress, ContactID: contactID, Progress: progress})
}

type eventWebxdcSink struct{}

func (eventWebxdcSink) WebxdcStatusUpdate(instance t.MsgID, serial int64) {
	events.Emit(&events.Event{What: events.ActWebxdcStatusUpdate, MsgID: instance, Serial: serial})
}

func (eventWebxdcSink) IncomingWebxdcNotify(instance t.MsgID, text, href string) {
	events.Emit(&events.Event{What: events.ActIncomingWebxdcNotify, MsgID: instance, Text: text, Href: href})
}
