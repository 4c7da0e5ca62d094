package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveOrderHoldsEveryLine(t *testing.T) {
	l, _, notifier := newTestLedger(t)
	require.NoError(t, l.Register("A", 10, 0))
	require.NoError(t, l.Register("B", 5, 3))

	held, err := l.ReserveOrder("o1", []OrderLine{{SKU: "B", Quantity: 2}, {SKU: "A", Quantity: 4}}, time.Minute)
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, LineReservationID("o1", "A"), held[0].ID)
	assert.Equal(t, LineReservationID("o1", "B"), held[1].ID)
	assert.Equal(t, held[0].ExpiresAt, held[1].ExpiresAt)
	assertAvailable(t, l, "A", 6)
	assertAvailable(t, l, "B", 3)

	events := notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "B", events[0].SKU)

	res, err := l.Reservation("o1/A")
	require.NoError(t, err)
	assert.Equal(t, StateHeld, res.State)
}

func TestReserveOrderIsAllOrNothing(t *testing.T) {
	l, _, notifier := newTestLedger(t)
	require.NoError(t, l.Register("A", 10, 0))
	require.NoError(t, l.Register("B", 1, 0))

	_, err := l.ReserveOrder("o1", []OrderLine{{SKU: "A", Quantity: 4}, {SKU: "B", Quantity: 2}}, time.Minute)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assertAvailable(t, l, "A", 10)
	assertAvailable(t, l, "B", 1)
	assert.Empty(t, notifier.Events())

	_, err = l.Reservation("o1/A")
	require.ErrorIs(t, err, ErrUnknownReservation)

	_, err = l.ReserveOrder("o2", []OrderLine{{SKU: "A", Quantity: 1}, {SKU: "missing", Quantity: 1}}, time.Minute)
	require.ErrorIs(t, err, ErrUnknownSKU)
	assertAvailable(t, l, "A", 10)

	// The order id was not consumed by the failed attempt.
	_, err = l.ReserveOrder("o1", []OrderLine{{SKU: "A", Quantity: 4}, {SKU: "B", Quantity: 1}}, time.Minute)
	require.NoError(t, err)
	assertAvailable(t, l, "A", 6)
	assertAvailable(t, l, "B", 0)
}

func TestReserveOrderValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	require.NoError(t, l.Register("A", 10, 0))

	cases := map[string]struct {
		order string
		lines []OrderLine
		ttl   time.Duration
	}{
		"missing order id": {"", []OrderLine{{SKU: "A", Quantity: 1}}, time.Minute},
		"no lines":         {"o1", nil, time.Minute},
		"zero quantity":    {"o1", []OrderLine{{SKU: "A", Quantity: 0}}, time.Minute},
		"empty sku":        {"o1", []OrderLine{{SKU: "", Quantity: 1}}, time.Minute},
		"repeated sku":     {"o1", []OrderLine{{SKU: "A", Quantity: 1}, {SKU: "A", Quantity: 2}}, time.Minute},
		"zero ttl":         {"o1", []OrderLine{{SKU: "A", Quantity: 1}}, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.ReserveOrder(tc.order, tc.lines, tc.ttl)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assertAvailable(t, l, "A", 10)
		})
	}
}

func TestReserveOrderReplay(t *testing.T) {
	l, _, _ := newTestLedger(t)
	require.NoError(t, l.Register("A", 10, 0))
	require.NoError(t, l.Register("B", 10, 0))
	lines := []OrderLine{{SKU: "A", Quantity: 1}, {SKU: "B", Quantity: 2}}

	first, err := l.ReserveOrder("o1", lines, time.Minute)
	require.NoError(t, err)
	_, err = l.CommitAll([]string{first[0].ID, first[1].ID})
	require.NoError(t, err)

	again, err := l.ReserveOrder("o1", lines, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, again[0].State)
	assert.Equal(t, StateCommitted, again[1].State)
	assertAvailable(t, l, "A", 9)
	assertAvailable(t, l, "B", 8)

	_, err = l.ReserveOrder("o1", []OrderLine{{SKU: "A", Quantity: 5}, {SKU: "B", Quantity: 2}}, time.Minute)
	require.ErrorIs(t, err, ErrDuplicateReservation)

	_, err = l.Reserve("B", 1, "o2/B", time.Minute)
	require.NoError(t, err)
	_, err = l.ReserveOrder("o2", []OrderLine{{SKU: "A", Quantity: 1}, {SKU: "B", Quantity: 1}}, time.Minute)
	require.ErrorIs(t, err, ErrDuplicateReservation)
	assertAvailable(t, l, "A", 9)
}

func TestCommitAllAndReleaseAllAreAtomic(t *testing.T) {
	l, clock, _ := newTestLedger(t)
	require.NoError(t, l.Register("A", 10, 0))
	require.NoError(t, l.Register("B", 10, 0))

	_, err := l.ReserveOrder("o1", []OrderLine{{SKU: "A", Quantity: 3}, {SKU: "B", Quantity: 3}}, time.Minute)
	require.NoError(t, err)
	_, err = l.Reserve("B", 2, "late", time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	l.Sweep(clock.Now())

	// One expired member fails the whole commit and nothing changes.
	_, err = l.CommitAll([]string{"o1/A", "late"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	res, err := l.Reservation("o1/A")
	require.NoError(t, err)
	assert.Equal(t, StateHeld, res.State)

	_, err = l.CommitAll([]string{"o1/A", "nope"})
	require.ErrorIs(t, err, ErrUnknownReservation)

	released, err := l.ReleaseAll([]string{"o1/A", "o1/B", "late"})
	require.NoError(t, err)
	assert.Equal(t, StateReleased, released[0].State)
	assert.Equal(t, StateReleased, released[1].State)
	assert.Equal(t, StateExpired, released[2].State)
	assertAvailable(t, l, "A", 10)
	assertAvailable(t, l, "B", 10)

	again, err := l.ReleaseAll([]string{"o1/A", "o1/B"})
	require.NoError(t, err)
	assert.Equal(t, released[:2], again)
	assertAvailable(t, l, "A", 10)

	_, err = l.CommitAll([]string{"o1/A"})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentOrdersNeverOversellOrDeadlock(t *testing.T) {
	l, _, _ := newTestLedger(t)
	require.NoError(t, l.Register("A", 50, 0))
	require.NoError(t, l.Register("B", 50, 0))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lines := []OrderLine{{SKU: "A", Quantity: 1}, {SKU: "B", Quantity: 1}}
			if i%2 == 1 {
				lines[0], lines[1] = lines[1], lines[0]
			}
			held, err := l.ReserveOrder(fmt.Sprintf("o%d", i), lines, time.Minute)
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientStock)
				return
			}
			if i%3 == 0 {
				_, err = l.ReleaseAll([]string{held[1].ID, held[0].ID})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	a, err := l.AvailableStock("A")
	require.NoError(t, err)
	b, err := l.AvailableStock("B")
	require.NoError(t, err)
	assert.Equal(t, a, b, "order lines move together")
	assert.GreaterOrEqual(t, a, 0)
}
