package store

import (
	"context"
	"testing"

	"github.com/duskmarket/exchange/internal/model"
)

func TestCreateWalletIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateWallet(ctx, "alice"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := s.DepositWallet(ctx, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// A second CreateWallet call (e.g. a retried signup) must not wipe
	// the existing balance, matching Postgres's ON CONFLICT DO NOTHING.
	if err := s.CreateWallet(ctx, "alice"); err != nil {
		t.Fatalf("create wallet again: %v", err)
	}
	w, err := s.GetWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 1000 {
		t.Fatalf("expected balance 1000 preserved, got %d", w.BalanceCents)
	}
}

func TestRollbackDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateWallet(ctx, "bob"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := s.WalletAddBalance(ctx, tx, "bob", 500); err != nil {
		t.Fatalf("add balance: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	w, err := s.GetWallet(ctx, "bob")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 0 {
		t.Fatalf("expected rollback to discard the balance change, got %d", w.BalanceCents)
	}
}

func TestCommitPersistsAcrossTransactions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateWallet(ctx, "carol"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := s.WalletAddBalance(ctx, tx, "carol", 250); err != nil {
		t.Fatalf("add balance: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w, err := s.GetWallet(ctx, "carol")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.BalanceCents != 250 {
		t.Fatalf("expected committed balance 250, got %d", w.BalanceCents)
	}
}

func TestRecalcLockedSumsOpenOrdersAndShortPositions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateWallet(ctx, "dave"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := s.DepositWallet(ctx, "dave", 10_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	o := &model.Order{
		ID: "o1", MarketID: "m1", UserID: "dave", Side: model.SideBuy,
		OrderType: model.TypeLimit, Qty: 10, RemainingQty: 10,
		LockedCents: 500, Status: model.StatusOpen, Seq: 1,
	}
	if err := s.InsertOrder(ctx, tx, o); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	// Dave sold 10 shares short at 70: position lock should be (100-70)*10=300.
	if err := s.PutPosition(ctx, tx, model.Position{
		MarketID: "m1", UserID: "dave", YesShares: -10, AvgCostCents: 70,
	}); err != nil {
		t.Fatalf("put position: %v", err)
	}
	if err := s.RecalcLocked(ctx, tx, "dave"); err != nil {
		t.Fatalf("recalc locked: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w, err := s.GetWallet(ctx, "dave")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.LockedCents != 800 {
		t.Fatalf("expected locked 500+300=800, got %d", w.LockedCents)
	}
}

func TestGetOrderByClientIDFindsExistingOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	clientID := "abc-123"
	o := &model.Order{
		ID: "o1", MarketID: "m1", UserID: "erin", Side: model.SideBuy,
		OrderType: model.TypeLimit, Qty: 5, RemainingQty: 5,
		Status: model.StatusOpen, Seq: 1, ClientOrderID: &clientID,
	}
	if err := s.InsertOrder(ctx, tx, o); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	found, err := s.GetOrderByClientID(ctx, "m1", clientID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found == nil || found.ID != "o1" {
		t.Fatalf("expected to find order o1, got %+v", found)
	}

	miss, err := s.GetOrderByClientID(ctx, "m1", "does-not-exist")
	if err != nil {
		t.Fatalf("lookup miss: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected no match, got %+v", miss)
	}
}
