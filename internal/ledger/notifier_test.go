package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrossed(t *testing.T) {
	cases := []struct {
		before, after, threshold int
		want                     bool
	}{
		{10, 6, 5, false},
		{6, 4, 5, true},
		{6, 5, 5, true},
		{5, 4, 5, false},
		{4, 3, 5, false},
		{2, 1, 5, false},
		{3, 6, 5, false},
		{1, 0, 0, true},
		{0, 0, 0, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Crossed(tc.before, tc.after, tc.threshold),
			"before=%d after=%d threshold=%d", tc.before, tc.after, tc.threshold)
	}
}

func TestNotifierFunc(t *testing.T) {
	var got LowStockEvent
	var n Notifier = NotifierFunc(func(e LowStockEvent) { got = e })
	n.NotifyLowStock(LowStockEvent{SKU: "X", AvailableQuantity: 2})
	assert.Equal(t, "X", got.SKU)
}
