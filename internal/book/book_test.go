package book

import "testing"

func TestAddAndBestBidAsk(t *testing.T) {
	b := New()

	b.Add(&Entry{OrderID: "b1", UserID: "u1", Side: "BUY", PriceCents: 40, RemainingQty: 10, Seq: 1})
	b.Add(&Entry{OrderID: "b2", UserID: "u1", Side: "BUY", PriceCents: 45, RemainingQty: 5, Seq: 2})
	b.Add(&Entry{OrderID: "a1", UserID: "u2", Side: "SELL", PriceCents: 55, RemainingQty: 10, Seq: 3})
	b.Add(&Entry{OrderID: "a2", UserID: "u2", Side: "SELL", PriceCents: 60, RemainingQty: 5, Seq: 4})

	if b.Size() != 4 {
		t.Fatalf("expected size 4, got %d", b.Size())
	}
	if bb := b.BestBid(); bb == nil || *bb != 45 {
		t.Fatalf("expected best bid 45, got %v", bb)
	}
	if ba := b.BestAsk(); ba == nil || *ba != 55 {
		t.Fatalf("expected best ask 55, got %v", ba)
	}
}

func TestPriceTimePriority(t *testing.T) {
	b := New()

	b.Add(&Entry{OrderID: "a1", UserID: "u2", Side: "SELL", PriceCents: 50, RemainingQty: 3, Seq: 1})
	b.Add(&Entry{OrderID: "a2", UserID: "u2", Side: "SELL", PriceCents: 50, RemainingQty: 3, Seq: 2})

	price := 50
	matches := b.FindMatches("BUY", &price, 4, "u1")
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Entry.OrderID != "a1" || matches[0].FillQty != 3 {
		t.Fatalf("expected first match a1 qty 3, got %s qty %d", matches[0].Entry.OrderID, matches[0].FillQty)
	}
	if matches[1].Entry.OrderID != "a2" || matches[1].FillQty != 1 {
		t.Fatalf("expected second match a2 qty 1, got %s qty %d", matches[1].Entry.OrderID, matches[1].FillQty)
	}
}

func TestPartialFillAcrossLevels(t *testing.T) {
	b := New()

	b.Add(&Entry{OrderID: "a1", UserID: "u2", Side: "SELL", PriceCents: 50, RemainingQty: 2, Seq: 1})
	b.Add(&Entry{OrderID: "a2", UserID: "u2", Side: "SELL", PriceCents: 55, RemainingQty: 3, Seq: 2})
	b.Add(&Entry{OrderID: "a3", UserID: "u2", Side: "SELL", PriceCents: 60, RemainingQty: 5, Seq: 3})

	price := 60
	matches := b.FindMatches("BUY", &price, 6, "u1")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	total := 0
	for _, m := range matches {
		total += m.FillQty
	}
	if total != 6 {
		t.Fatalf("expected total fill 6, got %d", total)
	}
	if matches[2].FillQty != 1 {
		t.Fatalf("expected partial fill 1 at 60, got %d", matches[2].FillQty)
	}
}

func TestMarketOrderNoPrice(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "a1", UserID: "u2", Side: "SELL", PriceCents: 50, RemainingQty: 10, Seq: 1})

	matches := b.FindMatches("BUY", nil, 5, "u1")
	if len(matches) != 1 || matches[0].FillQty != 5 {
		t.Fatalf("expected 1 match for 5 qty, got %d matches", len(matches))
	}
}

func TestSelfTradePreventionSkips(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "a1", UserID: "u1", Side: "SELL", PriceCents: 50, RemainingQty: 5, Seq: 1})
	b.Add(&Entry{OrderID: "a2", UserID: "u2", Side: "SELL", PriceCents: 55, RemainingQty: 5, Seq: 2})

	price := 99
	matches := b.FindMatches("BUY", &price, 3, "u1")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match (skipping self), got %d", len(matches))
	}
	if matches[0].Entry.UserID != "u2" {
		t.Fatalf("expected match with u2, got %s", matches[0].Entry.UserID)
	}
}

func TestRemoveOrder(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "b1", UserID: "u1", Side: "BUY", PriceCents: 50, RemainingQty: 5, Seq: 1})
	b.Add(&Entry{OrderID: "b2", UserID: "u1", Side: "BUY", PriceCents: 50, RemainingQty: 3, Seq: 2})

	removed := b.Remove("b1")
	if removed == nil || removed.OrderID != "b1" {
		t.Fatal("expected to remove b1")
	}
	if b.Size() != 1 {
		t.Fatalf("expected size 1 after remove, got %d", b.Size())
	}
	if bb := b.BestBid(); bb == nil || *bb != 50 {
		t.Fatal("best bid should still be 50")
	}
}

func TestRemoveLastAtLevel(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "a1", UserID: "u1", Side: "SELL", PriceCents: 50, RemainingQty: 5, Seq: 1})
	b.Remove("a1")

	if b.BestAsk() != nil {
		t.Fatal("expected no best ask after removing only order")
	}
	if b.Size() != 0 {
		t.Fatal("expected empty book")
	}
}

func TestApplyFillPartial(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "a1", UserID: "u1", Side: "SELL", PriceCents: 50, RemainingQty: 10, Seq: 1})

	rem := b.ApplyFill("a1", 3)
	if rem != 7 {
		t.Fatalf("expected remaining 7, got %d", rem)
	}
	if b.Size() != 1 {
		t.Fatal("order should still be in book")
	}
}

func TestApplyFillFull(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "a1", UserID: "u1", Side: "SELL", PriceCents: 50, RemainingQty: 5, Seq: 1})

	rem := b.ApplyFill("a1", 5)
	if rem != 0 {
		t.Fatalf("expected remaining 0, got %d", rem)
	}
	if b.Size() != 0 {
		t.Fatal("order should be removed from book")
	}
}

func TestSnapshotDepth(t *testing.T) {
	b := New()
	for i := 1; i <= 5; i++ {
		b.Add(&Entry{OrderID: "b" + string(rune('0'+i)), UserID: "u1", Side: "BUY", PriceCents: 40 + i, RemainingQty: 1, Seq: int64(i)})
	}
	for i := 1; i <= 5; i++ {
		b.Add(&Entry{OrderID: "a" + string(rune('0'+i)), UserID: "u2", Side: "SELL", PriceCents: 50 + i, RemainingQty: 1, Seq: int64(5 + i)})
	}

	bids, asks := b.Snapshot(3)
	if len(bids) != 3 {
		t.Fatalf("expected 3 bid levels, got %d", len(bids))
	}
	if len(asks) != 3 {
		t.Fatalf("expected 3 ask levels, got %d", len(asks))
	}
	if bids[0].Price != 45 {
		t.Fatalf("expected top bid 45, got %d", bids[0].Price)
	}
	if asks[0].Price != 51 {
		t.Fatalf("expected top ask 51, got %d", asks[0].Price)
	}
}

func TestDuplicateAddIgnored(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "b1", UserID: "u1", Side: "BUY", PriceCents: 50, RemainingQty: 5, Seq: 1})
	b.Add(&Entry{OrderID: "b1", UserID: "u1", Side: "BUY", PriceCents: 50, RemainingQty: 5, Seq: 2})

	if b.Size() != 1 {
		t.Fatalf("expected size 1 (dup ignored), got %d", b.Size())
	}
}

func TestFindMatchesSellSide(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "b1", UserID: "u1", Side: "BUY", PriceCents: 60, RemainingQty: 5, Seq: 1})
	b.Add(&Entry{OrderID: "b2", UserID: "u1", Side: "BUY", PriceCents: 55, RemainingQty: 5, Seq: 2})

	price := 55
	matches := b.FindMatches("SELL", &price, 8, "u2")
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].FillPrice != 60 {
		t.Fatalf("expected first fill at 60, got %d", matches[0].FillPrice)
	}
	total := 0
	for _, m := range matches {
		total += m.FillQty
	}
	if total != 8 {
		t.Fatalf("expected total 8, got %d", total)
	}
}

func TestScenario1AsksAcrossThreeLevels(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "s1", UserID: "maker", Side: "SELL", PriceCents: 55, RemainingQty: 10, Seq: 1})
	b.Add(&Entry{OrderID: "s2", UserID: "maker", Side: "SELL", PriceCents: 58, RemainingQty: 5, Seq: 2})
	b.Add(&Entry{OrderID: "s3", UserID: "maker", Side: "SELL", PriceCents: 60, RemainingQty: 20, Seq: 3})

	price := 60
	matches := b.FindMatches("BUY", &price, 18, "taker")
	if len(matches) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(matches))
	}
	want := []struct {
		price, qty int
	}{{55, 10}, {58, 5}, {60, 3}}
	for i, w := range want {
		if matches[i].FillPrice != w.price || matches[i].FillQty != w.qty {
			t.Fatalf("fill %d: got (%d,%d) want (%d,%d)", i, matches[i].FillPrice, matches[i].FillQty, w.price, w.qty)
		}
	}
}
