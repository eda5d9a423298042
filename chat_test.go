package dcore

import (
	"context"
	"testing"

	t "github.com/coreim/dcore/store/types"
)

func TestAcceptChatUnblocks(t2 *testing.T) {
	store := newMemAdapter()
	ctx := context.Background()
	chat := &t.Chat{ID: 100, Type: t.ChatTypeSingle, Blocked: t.BlockedRequest}
	store.ChatCreate(ctx, chat)

	c := &Context{Store: store}
	if err := c.AcceptChat(ctx, chat.ID); err != nil {
		t2.Fatalf("AcceptChat: %v", err)
	}
	if chat.Blocked != t.BlockedNot {
		t2.Fatalf("expected BlockedNot, got %v", chat.Blocked)
	}
}

func TestArchiveChatToggles(t2 *testing.T) {
	store := newMemAdapter()
	ctx := context.Background()
	chat := &t.Chat{ID: 101, Type: t.ChatTypeSingle}
	store.ChatCreate(ctx, chat)

	c := &Context{Store: store}
	if err := c.ArchiveChat(ctx, chat.ID, true); err != nil {
		t2.Fatalf("ArchiveChat: %v", err)
	}
	if chat.Visibility != t.VisibilityArchived {
		t2.Fatalf("expected archived, got %v", chat.Visibility)
	}
	if err := c.ArchiveChat(ctx, chat.ID, false); err != nil {
		t2.Fatalf("ArchiveChat: %v", err)
	}
	if chat.Visibility != t.VisibilityNormal {
		t2.Fatalf("expected normal, got %v", chat.Visibility)
	}
}

func TestDeleteChatRefusesReserved(t2 *testing.T) {
	store := newMemAdapter()
	c := &Context{Store: store}
	trash := &t.Chat{ID: t.ChatTrash, Type: t.ChatTypeSingle}
	if err := c.DeleteChat(context.Background(), trash); err == nil {
		t2.Fatal("expected DeleteChat to refuse a reserved chat id")
	}
}

func TestDeleteChatRemovesRow(t2 *testing.T) {
	store := newMemAdapter()
	ctx := context.Background()
	chat := &t.Chat{ID: 200, Type: t.ChatTypeSingle}
	store.ChatCreate(ctx, chat)

	c := &Context{Store: store}
	if err := c.DeleteChat(ctx, chat); err != nil {
		t2.Fatalf("DeleteChat: %v", err)
	}
	got, _ := store.ChatGet(ctx, 200)
	if got != nil {
		t2.Fatal("expected chat to be gone")
	}
}

func TestNewDraftAndSend(t2 *testing.T) {
	store := newMemAdapter()
	ctx := context.Background()
	c := &Context{Store: store, Messages: &Messages{Store: store}}

	m, err := c.NewDraft(ctx, 300, "hello", t.ViewtypeText)
	if err != nil {
		t2.Fatalf("NewDraft: %v", err)
	}
	if m.State != t.StateOutDraft {
		t2.Fatalf("expected OutDraft, got %v", m.State)
	}
	if err := c.Send(ctx, m.ID); err != nil {
		t2.Fatalf("Send: %v", err)
	}
	got, _ := store.MessageGet(ctx, m.ID)
	if got.State != t.StateOutPending {
		t2.Fatalf("expected OutPending after Send, got %v", got.State)
	}
}
