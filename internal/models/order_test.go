package models

import "testing"

func TestOrderStatusTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    OrderStatus
		to      OrderStatus
		wantErr bool
	}{
		{"funded to dispatched", StatusFunded, StatusDispatched, false},
		{"funded to failed", StatusFunded, StatusFailed, false},
		{"dispatched is terminal", StatusDispatched, StatusFailed, true},
		{"failed is terminal", StatusFailed, StatusDispatched, true},
		{"no self transition", StatusFunded, StatusFunded, true},
		{"dispatched cannot refund", StatusDispatched, StatusFunded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Transition(tt.to)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Transition(%s -> %s) succeeded, want error", tt.from, tt.to)
				}
				if got != tt.from {
					t.Fatalf("failed transition changed state to %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition(%s -> %s): %v", tt.from, tt.to, err)
			}
			if got != tt.to {
				t.Fatalf("Transition(%s -> %s) = %s", tt.from, tt.to, got)
			}
		})
	}
}
