package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCheckInvariants(t *testing.T) {
	tracking := "JNE123"
	empty := ""

	cases := []struct {
		name     string
		state    State
		tracking *string
		wantErr  bool
	}{
		{"pending pending", State{OrderStatusPending, PaymentStatusPending}, nil, false},
		{"processing paid", State{OrderStatusProcessing, PaymentStatusPaid}, nil, false},
		{"paid paid", State{OrderStatusPaid, PaymentStatusPaid}, nil, false},
		{"pending paid", State{OrderStatusPending, PaymentStatusPaid}, nil, true},
		{"cancelled paid", State{OrderStatusCancelled, PaymentStatusPaid}, nil, true},
		{"shipped without tracking", State{OrderStatusShipped, PaymentStatusPaid}, nil, true},
		{"shipped with empty tracking", State{OrderStatusShipped, PaymentStatusPaid}, &empty, true},
		{"shipped with tracking", State{OrderStatusShipped, PaymentStatusPaid}, &tracking, false},
		{"unknown status", State{"lost", PaymentStatusPending}, nil, true},
		{"unknown payment status", State{OrderStatusPending, "maybe"}, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckInvariants(tc.state, tc.tracking)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInvoiceRefExternalID(t *testing.T) {
	ref := InvoiceRef{OrderID: "ord-1", Attempt: 1}
	assert.Equal(t, "ord-1", ref.ExternalID())
	assert.Equal(t, "ord-1-retry-1", ref.Next().ExternalID())
	assert.Equal(t, "ord-1-retry-2", ref.Next().Next().ExternalID())
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusExpired.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusShipped.IsTerminal())
}

func TestMinorUnitConversion(t *testing.T) {
	assert.Equal(t, "123.45", MinorToDecimal(12345, 2).String())
	assert.Equal(t, "100000", MinorToDecimal(100000, 0).String())
	assert.Equal(t, int64(12345), DecimalToMinor(MinorToDecimal(12345, 2), 2))
	assert.Equal(t, int64(100000), DecimalToMinor(MinorToDecimal(100000, 0), 0))
}

func TestTruncateDetail(t *testing.T) {
	assert.Equal(t, "short", TruncateDetail("short"))

	long := strings.Repeat("é", MaxDetailLength)
	got := TruncateDetail(long)
	assert.LessOrEqual(t, len(got), MaxDetailLength)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.True(t, utf8.ValidString(got))
}
