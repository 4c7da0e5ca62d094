// Package ledger holds per-SKU available-to-sell counts and the reservations
// drawn against them.
//
// Every SKU has its own lock. Reserve, Commit, Release, Adjust and the expiry
// sweep take only the lock of the SKU they touch, so checkouts for different
// SKUs never contend. For a single reservation the first of Commit, Release
// or expiry to acquire the SKU lock decides the terminal state.
//
// Multi-line orders lock every SKU they touch, always in SKU order, so an
// order is reserved, committed or released as a whole.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type shard struct {
	sku          string
	mu           sync.Mutex
	record       StockRecord
	reservations map[string]*Reservation
	// held indexes the subset of reservations still in StateHeld.
	held map[string]*Reservation
}

func newShard(record StockRecord) *shard {
	return &shard{
		sku:          record.SKU,
		record:       record,
		reservations: make(map[string]*Reservation),
		held:         make(map[string]*Reservation),
	}
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	shards map[string]*shard

	// index maps reservation id to the *shard that owns it. Entries are
	// written while holding that shard's lock.
	index sync.Map

	notifier Notifier
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNotifier sets the sink for low-stock events.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		shards: make(map[string]*shard),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register adds a SKU with its initial available stock and threshold.
func (l *Ledger) Register(sku string, available, threshold int) error {
	if sku == "" {
		return invalidArgument("sku is required")
	}
	if available < 0 || threshold < 0 {
		return invalidArgument("available and threshold must be non-negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.shards[sku]; ok {
		return fmt.Errorf("%w: %s", ErrSKUExists, sku)
	}
	l.shards[sku] = newShard(StockRecord{SKU: sku, Available: available, LowStockThreshold: threshold})
	return nil
}

// Load installs stock records and reservations restored from storage.
// Available counts are taken as-is; they already exclude Held reservations.
// Records for SKUs that exist replace the current record. Nothing is applied
// if any input is invalid. Load is meant for start-up, before traffic.
func (l *Ledger) Load(records []StockRecord, reservations []Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.SKU == "" || rec.Available < 0 || rec.LowStockThreshold < 0 {
			return invalidArgument("bad stock record for %q", rec.SKU)
		}
		known[rec.SKU] = true
	}
	seen := make(map[string]bool, len(reservations))
	for _, res := range reservations {
		if res.ID == "" || res.Quantity <= 0 || !res.State.Valid() {
			return invalidArgument("bad reservation %q", res.ID)
		}
		if _, ok := l.shards[res.SKU]; !ok && !known[res.SKU] {
			return fmt.Errorf("reservation %s: %w: %s", res.ID, ErrUnknownSKU, res.SKU)
		}
		if _, ok := l.index.Load(res.ID); ok || seen[res.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateReservation, res.ID)
		}
		seen[res.ID] = true
	}

	for _, rec := range records {
		sh, ok := l.shards[rec.SKU]
		if !ok {
			l.shards[rec.SKU] = newShard(rec)
			continue
		}
		sh.mu.Lock()
		sh.record = rec
		sh.mu.Unlock()
	}
	for _, res := range reservations {
		sh := l.shards[res.SKU]
		r := res
		sh.mu.Lock()
		sh.reservations[r.ID] = &r
		if r.State == StateHeld {
			sh.held[r.ID] = &r
		}
		l.index.Store(r.ID, sh)
		sh.mu.Unlock()
	}
	return nil
}

// Reserve holds quantity units of sku under id until ttl elapses.
//
// Replaying a Reserve with an id that already names a reservation for the
// same SKU and quantity returns that reservation in its current state
// without changing any count.
func (l *Ledger) Reserve(sku string, quantity int, id string, ttl time.Duration) (Reservation, error) {
	switch {
	case sku == "":
		return Reservation{}, invalidArgument("sku is required")
	case id == "":
		return Reservation{}, invalidArgument("reservation id is required")
	case quantity <= 0:
		return Reservation{}, invalidArgument("quantity must be positive, got %d", quantity)
	case ttl <= 0:
		return Reservation{}, invalidArgument("ttl must be positive, got %s", ttl)
	}

	sh, err := l.shard(sku)
	if err != nil {
		return Reservation{}, err
	}

	sh.mu.Lock()
	if owner, ok := l.index.Load(id); ok {
		defer sh.mu.Unlock()
		if owner != sh {
			return Reservation{}, fmt.Errorf("%w: %s", ErrDuplicateReservation, id)
		}
		existing := sh.reservations[id]
		if existing == nil || existing.Quantity != quantity {
			return Reservation{}, fmt.Errorf("%w: %s", ErrDuplicateReservation, id)
		}
		return *existing, nil
	}

	before := sh.record.Available
	if before < quantity {
		sh.mu.Unlock()
		return Reservation{}, fmt.Errorf("%w: sku %s has %d available, %d requested", ErrInsufficientStock, sku, before, quantity)
	}
	if _, loaded := l.index.LoadOrStore(id, sh); loaded {
		// Claimed concurrently by a Reserve on another SKU.
		sh.mu.Unlock()
		return Reservation{}, fmt.Errorf("%w: %s", ErrDuplicateReservation, id)
	}

	now := l.now()
	r := &Reservation{
		ID:        id,
		SKU:       sku,
		Quantity:  quantity,
		State:     StateHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	sh.record.Available -= quantity
	sh.reservations[id] = r
	sh.held[id] = r
	out, after, threshold := *r, sh.record.Available, sh.record.LowStockThreshold
	sh.mu.Unlock()

	l.emit(sku, before, after, threshold, now)
	return out, nil
}

// Commit finalises a Held reservation. The held quantity stays consumed.
// Committing a Committed reservation is a no-op.
func (l *Ledger) Commit(id string) (Reservation, error) {
	sh, r, err := l.lockReservation(id)
	if err != nil {
		return Reservation{}, err
	}
	defer sh.mu.Unlock()

	switch r.State {
	case StateHeld:
		l.close(sh, r, StateCommitted)
	case StateCommitted:
	default:
		return Reservation{}, &TransitionError{ReservationID: id, From: r.State, To: StateCommitted}
	}
	return *r, nil
}

// Release cancels a Held reservation and returns its quantity to the pool.
// Releasing a Released or Expired reservation is a no-op.
func (l *Ledger) Release(id string) (Reservation, error) {
	sh, r, err := l.lockReservation(id)
	if err != nil {
		return Reservation{}, err
	}
	defer sh.mu.Unlock()

	switch r.State {
	case StateHeld:
		sh.record.Available += r.Quantity
		l.close(sh, r, StateReleased)
	case StateReleased, StateExpired:
	default:
		return Reservation{}, &TransitionError{ReservationID: id, From: r.State, To: StateReleased}
	}
	return *r, nil
}

// Sweep expires every Held reservation whose ExpiresAt is at or before now
// and returns the expired reservations ordered by SKU then id.
func (l *Ledger) Sweep(now time.Time) []Reservation {
	var expired []Reservation
	for _, sh := range l.sortedShards() {
		sh.mu.Lock()
		start := len(expired)
		for _, r := range sh.held {
			if r.ExpiresAt.After(now) {
				continue
			}
			sh.record.Available += r.Quantity
			r.State = StateExpired
			r.ClosedAt = now
			delete(sh.held, r.ID)
			expired = append(expired, *r)
		}
		sh.mu.Unlock()
		batch := expired[start:]
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
	}
	return expired
}

// Adjust applies a restock (positive delta) or shrinkage (negative delta)
// to the available stock of sku.
func (l *Ledger) Adjust(sku string, delta int) (StockRecord, error) {
	sh, err := l.shard(sku)
	if err != nil {
		return StockRecord{}, err
	}

	sh.mu.Lock()
	before := sh.record.Available
	if before+delta < 0 {
		sh.mu.Unlock()
		return StockRecord{}, fmt.Errorf("%w: sku %s has %d available, adjustment %d", ErrInsufficientStock, sku, before, delta)
	}
	sh.record.Available += delta
	out := sh.record
	sh.mu.Unlock()

	l.emit(sku, before, out.Available, out.LowStockThreshold, l.now())
	return out, nil
}

// SetThreshold changes the low-stock threshold of sku. Changing the
// threshold alone never emits an event.
func (l *Ledger) SetThreshold(sku string, threshold int) (StockRecord, error) {
	if threshold < 0 {
		return StockRecord{}, invalidArgument("threshold must be non-negative, got %d", threshold)
	}
	sh, err := l.shard(sku)
	if err != nil {
		return StockRecord{}, err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.record.LowStockThreshold = threshold
	return sh.record, nil
}

// AvailableStock returns the available-to-sell quantity of sku.
func (l *Ledger) AvailableStock(sku string) (int, error) {
	rec, err := l.Stock(sku)
	if err != nil {
		return 0, err
	}
	return rec.Available, nil
}

// Stock returns a copy of the stock record of sku.
func (l *Ledger) Stock(sku string) (StockRecord, error) {
	sh, err := l.shard(sku)
	if err != nil {
		return StockRecord{}, err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.record, nil
}

// Reserved returns the sum of Held quantities for sku.
func (l *Ledger) Reserved(sku string) (int, error) {
	sh, err := l.shard(sku)
	if err != nil {
		return 0, err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	total := 0
	for _, r := range sh.held {
		total += r.Quantity
	}
	return total, nil
}

// Reservation returns a copy of the reservation with the given id.
func (l *Ledger) Reservation(id string) (Reservation, error) {
	sh, r, err := l.lockReservation(id)
	if err != nil {
		return Reservation{}, err
	}
	defer sh.mu.Unlock()
	return *r, nil
}

// Snapshot copies every stock record and every reservation, ordered by SKU
// and id. Each SKU is copied atomically; different SKUs may be copied at
// slightly different moments.
func (l *Ledger) Snapshot() ([]StockRecord, []Reservation) {
	shards := l.sortedShards()
	records := make([]StockRecord, 0, len(shards))
	var reservations []Reservation
	for _, sh := range shards {
		sh.mu.Lock()
		records = append(records, sh.record)
		start := len(reservations)
		for _, r := range sh.reservations {
			reservations = append(reservations, *r)
		}
		sh.mu.Unlock()
		batch := reservations[start:]
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
	}
	return records, reservations
}

func (l *Ledger) shard(sku string) (*shard, error) {
	l.mu.RLock()
	sh, ok := l.shards[sku]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSKU, sku)
	}
	return sh, nil
}

func (l *Ledger) sortedShards() []*shard {
	l.mu.RLock()
	skus := make([]string, 0, len(l.shards))
	for sku := range l.shards {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	shards := make([]*shard, len(skus))
	for i, sku := range skus {
		shards[i] = l.shards[sku]
	}
	l.mu.RUnlock()
	return shards
}

// lockReservation returns the reservation with its shard locked.
func (l *Ledger) lockReservation(id string) (*shard, *Reservation, error) {
	owner, ok := l.index.Load(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	sh := owner.(*shard)
	sh.mu.Lock()
	r, ok := sh.reservations[id]
	if !ok {
		sh.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	return sh, r, nil
}

// close moves r to a terminal state. sh.mu must be held.
func (l *Ledger) close(sh *shard, r *Reservation, to State) {
	r.State = to
	r.ClosedAt = l.now()
	delete(sh.held, r.ID)
}

func (l *Ledger) emit(sku string, before, after, threshold int, at time.Time) {
	if l.notifier == nil || !Crossed(before, after, threshold) {
		return
	}
	l.notifier.NotifyLowStock(LowStockEvent{
		SKU:               sku,
		AvailableQuantity: after,
		Threshold:         threshold,
		OccurredAt:        at,
	})
}
