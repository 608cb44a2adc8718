// Package book implements a per-market in-memory limit order book:
// FIFO price levels, a non-mutating matching walk, and the mutation
// applied once a match has been durably committed (spec §4.1).
package book

import "sort"

// Entry is a resting order in the book.
type Entry struct {
	OrderID      string
	UserID       string
	Side         string // "BUY" or "SELL"
	PriceCents   int
	RemainingQty int
	LockedCents  int64
	Seq          int64
}

// Level is a single price level with a FIFO queue of resting orders.
type Level struct {
	Price  int
	Orders []*Entry
}

// TotalQty sums the remaining quantity of every order resting at this level.
func (l *Level) TotalQty() int {
	t := 0
	for _, o := range l.Orders {
		t += o.RemainingQty
	}
	return t
}

// Match is a potential fill against a resting order, produced by
// FindMatches without mutating the book.
type Match struct {
	Entry     *Entry
	FillQty   int
	FillPrice int
}

// Book is an in-memory limit order book for a single market.
type Book struct {
	bids      map[int]*Level // price -> level
	asks      map[int]*Level
	bidPrices []int // sorted descending (best bid first)
	askPrices []int // sorted ascending (best ask first)
	index     map[string]*Entry
}

// New returns an empty book.
func New() *Book {
	return &Book{
		bids:  make(map[int]*Level),
		asks:  make(map[int]*Level),
		index: make(map[string]*Entry),
	}
}

// ── Queries ──────────────────────────────────────────

// BestBid returns the highest resting bid price, or nil if the bid side is empty.
func (b *Book) BestBid() *int {
	if len(b.bidPrices) == 0 {
		return nil
	}
	p := b.bidPrices[0]
	return &p
}

// BestAsk returns the lowest resting ask price, or nil if the ask side is empty.
func (b *Book) BestAsk() *int {
	if len(b.askPrices) == 0 {
		return nil
	}
	p := b.askPrices[0]
	return &p
}

// Size returns the total number of resting orders across both sides.
func (b *Book) Size() int { return len(b.index) }

// Get returns the resting entry for orderID, or nil if it isn't resting.
func (b *Book) Get(orderID string) *Entry { return b.index[orderID] }

// Snapshot returns up to depth price levels per side, best price first.
func (b *Book) Snapshot(depth int) (bids, asks []Level) {
	for i := 0; i < len(b.bidPrices) && i < depth; i++ {
		p := b.bidPrices[i]
		lv := b.bids[p]
		bids = append(bids, Level{Price: p, Orders: append([]*Entry(nil), lv.Orders...)})
	}
	for i := 0; i < len(b.askPrices) && i < depth; i++ {
		p := b.askPrices[i]
		lv := b.asks[p]
		asks = append(asks, Level{Price: p, Orders: append([]*Entry(nil), lv.Orders...)})
	}
	return
}

// ── Add / Remove ─────────────────────────────────────

// Add inserts a resting order. A duplicate OrderID is silently ignored —
// recovery replay must be idempotent (spec §4.4).
func (b *Book) Add(e *Entry) {
	if _, exists := b.index[e.OrderID]; exists {
		return
	}
	b.index[e.OrderID] = e
	if e.Side == "BUY" {
		b.addToSide(b.bids, &b.bidPrices, e, false)
	} else {
		b.addToSide(b.asks, &b.askPrices, e, true)
	}
}

// Remove takes an order out of the book entirely (cancel, or fully filled).
func (b *Book) Remove(orderID string) *Entry {
	e, ok := b.index[orderID]
	if !ok {
		return nil
	}
	delete(b.index, orderID)
	if e.Side == "BUY" {
		b.removeFromSide(b.bids, &b.bidPrices, e)
	} else {
		b.removeFromSide(b.asks, &b.askPrices, e)
	}
	return e
}

// ── Matching ─────────────────────────────────────────

// FindMatches walks the opposite side of the book and returns the fills
// an incoming order of the given side/price/qty would produce, without
// mutating any state. priceCents == nil means a MARKET order (matches
// at any resting price). Orders belonging to excludeUserID are skipped
// for self-trade prevention (spec §4.2).
func (b *Book) FindMatches(side string, priceCents *int, maxQty int, excludeUserID string) []Match {
	var matches []Match
	rem := maxQty

	if side == "BUY" {
		for _, askPrice := range b.askPrices {
			if rem <= 0 {
				break
			}
			if priceCents != nil && askPrice > *priceCents {
				break
			}
			level := b.asks[askPrice]
			for _, entry := range level.Orders {
				if rem <= 0 {
					break
				}
				if entry.UserID == excludeUserID {
					continue
				}
				fq := min(rem, entry.RemainingQty)
				matches = append(matches, Match{Entry: entry, FillQty: fq, FillPrice: askPrice})
				rem -= fq
			}
		}
	} else {
		for _, bidPrice := range b.bidPrices {
			if rem <= 0 {
				break
			}
			if priceCents != nil && bidPrice < *priceCents {
				break
			}
			level := b.bids[bidPrice]
			for _, entry := range level.Orders {
				if rem <= 0 {
					break
				}
				if entry.UserID == excludeUserID {
					continue
				}
				fq := min(rem, entry.RemainingQty)
				matches = append(matches, Match{Entry: entry, FillQty: fq, FillPrice: bidPrice})
				rem -= fq
			}
		}
	}
	return matches
}

// ApplyFill reduces a resting order's remaining quantity. It must only
// be called after the fill has been durably committed (spec §4.2 step
// 6) — FindMatches' plan is staged and replayed into ApplyFill/Remove
// calls post-commit, never interleaved with the transaction itself.
// Returns the remaining qty after the fill; the entry is removed from
// the book once it reaches zero.
func (b *Book) ApplyFill(orderID string, fillQty int) int {
	e := b.index[orderID]
	if e == nil {
		return 0
	}
	e.RemainingQty -= fillQty
	if e.RemainingQty <= 0 {
		b.Remove(orderID)
		return 0
	}
	return e.RemainingQty
}

// ── Internals ────────────────────────────────────────

func (b *Book) addToSide(m map[int]*Level, prices *[]int, e *Entry, asc bool) {
	level, ok := m[e.PriceCents]
	if !ok {
		level = &Level{Price: e.PriceCents}
		m[e.PriceCents] = level
		*prices = append(*prices, e.PriceCents)
		if asc {
			sort.Ints(*prices)
		} else {
			sort.Sort(sort.Reverse(sort.IntSlice(*prices)))
		}
	}
	level.Orders = append(level.Orders, e)
}

func (b *Book) removeFromSide(m map[int]*Level, prices *[]int, e *Entry) {
	level, ok := m[e.PriceCents]
	if !ok {
		return
	}
	for i, o := range level.Orders {
		if o.OrderID == e.OrderID {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			break
		}
	}
	if len(level.Orders) == 0 {
		delete(m, e.PriceCents)
		for i, p := range *prices {
			if p == e.PriceCents {
				*prices = append((*prices)[:i], (*prices)[i+1:]...)
				break
			}
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
