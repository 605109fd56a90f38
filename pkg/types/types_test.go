package types

import "testing"

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		side Side
		want Side
	}{
		{Bid, Ask},
		{Ask, Bid},
	}

	for _, tt := range tests {
		if got := tt.side.Opposite(); got != tt.want {
			t.Errorf("Side(%q).Opposite() = %q, want %q", tt.side, got, tt.want)
		}
	}
}

func TestActionTaggedVariant(t *testing.T) {
	t.Parallel()

	var actions []Action
	actions = append(actions, PlaceAction{MarketID: "m1", Side: Bid})
	actions = append(actions, CancelAction{OrderID: "o1"})

	for _, a := range actions {
		switch v := a.(type) {
		case PlaceAction:
			if v.MarketID != "m1" {
				t.Errorf("PlaceAction.MarketID = %q, want m1", v.MarketID)
			}
		case CancelAction:
			if v.OrderID != "o1" {
				t.Errorf("CancelAction.OrderID = %q, want o1", v.OrderID)
			}
		default:
			t.Fatalf("unexpected action type %T", a)
		}
	}
}
