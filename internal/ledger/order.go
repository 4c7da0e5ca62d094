package ledger

import (
	"fmt"
	"sort"
	"time"
)

// OrderLine is one SKU of a multi-line order.
type OrderLine struct {
	SKU      string
	Quantity int
}

// LineReservationID names the reservation that holds one line of an order.
func LineReservationID(orderID, sku string) string {
	return orderID + "/" + sku
}

// ReserveOrder holds every line of an order or none of them. Each line
// becomes its own reservation, named by LineReservationID, and all lines
// share one expiry. The SKU locks are taken in SKU order.
//
// Replaying an order whose lines all exist with the same quantities returns
// them in their current state.
func (l *Ledger) ReserveOrder(orderID string, lines []OrderLine, ttl time.Duration) ([]Reservation, error) {
	switch {
	case orderID == "":
		return nil, invalidArgument("order id is required")
	case len(lines) == 0:
		return nil, invalidArgument("order %s has no lines", orderID)
	case ttl <= 0:
		return nil, invalidArgument("ttl must be positive, got %s", ttl)
	}

	sorted := make([]OrderLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SKU < sorted[j].SKU })
	for i, line := range sorted {
		if line.SKU == "" {
			return nil, invalidArgument("order %s: sku is required", orderID)
		}
		if line.Quantity <= 0 {
			return nil, invalidArgument("order %s: quantity must be positive, got %d for %s", orderID, line.Quantity, line.SKU)
		}
		if i > 0 && sorted[i-1].SKU == line.SKU {
			return nil, invalidArgument("order %s lists sku %s twice", orderID, line.SKU)
		}
	}

	shards := make([]*shard, len(sorted))
	for i, line := range sorted {
		sh, err := l.shard(line.SKU)
		if err != nil {
			return nil, err
		}
		shards[i] = sh
	}
	for _, sh := range shards {
		sh.mu.Lock()
	}
	unlock := func() {
		for _, sh := range shards {
			sh.mu.Unlock()
		}
	}

	ids := make([]string, len(sorted))
	existing := 0
	for i, line := range sorted {
		ids[i] = LineReservationID(orderID, line.SKU)
		owner, ok := l.index.Load(ids[i])
		if !ok {
			continue
		}
		r := shards[i].reservations[ids[i]]
		if owner != shards[i] || r == nil || r.Quantity != line.Quantity {
			unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateReservation, ids[i])
		}
		existing++
	}
	if existing == len(sorted) {
		out := make([]Reservation, len(sorted))
		for i := range sorted {
			out[i] = *shards[i].reservations[ids[i]]
		}
		unlock()
		return out, nil
	}
	if existing > 0 {
		unlock()
		return nil, fmt.Errorf("%w: order %s is partly reserved", ErrDuplicateReservation, orderID)
	}

	for i, line := range sorted {
		if available := shards[i].record.Available; available < line.Quantity {
			unlock()
			return nil, fmt.Errorf("%w: sku %s has %d available, %d requested by order %s",
				ErrInsufficientStock, line.SKU, available, line.Quantity, orderID)
		}
	}

	for i := range sorted {
		if _, loaded := l.index.LoadOrStore(ids[i], shards[i]); loaded {
			// Claimed concurrently by a single-line Reserve on another SKU.
			for _, id := range ids[:i] {
				l.index.Delete(id)
			}
			unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateReservation, ids[i])
		}
	}

	now := l.now()
	out := make([]Reservation, len(sorted))
	crossings := make([][3]int, len(sorted))
	for i, line := range sorted {
		sh := shards[i]
		r := &Reservation{
			ID:        ids[i],
			SKU:       line.SKU,
			Quantity:  line.Quantity,
			State:     StateHeld,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		before := sh.record.Available
		sh.record.Available -= line.Quantity
		sh.reservations[r.ID] = r
		sh.held[r.ID] = r
		out[i] = *r
		crossings[i] = [3]int{before, sh.record.Available, sh.record.LowStockThreshold}
	}
	unlock()

	for i, line := range sorted {
		l.emit(line.SKU, crossings[i][0], crossings[i][1], crossings[i][2], now)
	}
	return out, nil
}

// CommitAll commits every reservation in ids or none of them.
func (l *Ledger) CommitAll(ids []string) ([]Reservation, error) {
	return l.transitionAll(ids, StateCommitted)
}

// ReleaseAll releases every reservation in ids or none of them.
func (l *Ledger) ReleaseAll(ids []string) ([]Reservation, error) {
	return l.transitionAll(ids, StateReleased)
}

// transitionAll applies the Commit or Release rules to a group of
// reservations under all of their SKU locks at once. The group fails as a
// whole if any member would fail on its own.
func (l *Ledger) transitionAll(ids []string, to State) ([]Reservation, error) {
	if len(ids) == 0 {
		return nil, invalidArgument("no reservations given")
	}

	owners := make(map[*shard]bool, len(ids))
	shards := make([]*shard, 0, len(ids))
	for _, id := range ids {
		owner, ok := l.index.Load(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReservation, id)
		}
		if sh := owner.(*shard); !owners[sh] {
			owners[sh] = true
			shards = append(shards, sh)
		}
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].sku < shards[j].sku })
	for _, sh := range shards {
		sh.mu.Lock()
	}
	defer func() {
		for _, sh := range shards {
			sh.mu.Unlock()
		}
	}()

	members := make([]*Reservation, len(ids))
	homes := make([]*shard, len(ids))
	for i, id := range ids {
		owner, ok := l.index.Load(id)
		if !ok || !owners[owner.(*shard)] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReservation, id)
		}
		sh := owner.(*shard)
		r, ok := sh.reservations[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReservation, id)
		}
		switch {
		case r.State == StateHeld, r.State == to:
		case to == StateReleased && r.State == StateExpired:
		default:
			return nil, &TransitionError{ReservationID: id, From: r.State, To: to}
		}
		members[i], homes[i] = r, sh
	}

	out := make([]Reservation, len(ids))
	for i, r := range members {
		if r.State == StateHeld {
			if to == StateReleased {
				homes[i].record.Available += r.Quantity
			}
			l.close(homes[i], r, to)
		}
		out[i] = *r
	}
	return out, nil
}
