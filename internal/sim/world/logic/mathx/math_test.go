package mathx

import "testing"

func TestFloorDiv(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{7, 2, 3},
		{-7, 2, -4},
		{-8, 2, -4},
		{0, 5, 0},
		{9, 10, 0},
	}
	for _, tc := range cases {
		if got := FloorDiv(tc.a, tc.b); got != tc.want {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestMinAndAbs(t *testing.T) {
	if got := MinInt(4); got != 4 {
		t.Fatalf("MinInt(4)=%d", got)
	}
	if got := MinInt(4, 9, -2, 3); got != -2 {
		t.Fatalf("MinInt=%d want -2", got)
	}
	if AbsInt(-3) != 3 || AbsInt(3) != 3 || AbsInt(0) != 0 {
		t.Fatalf("AbsInt wrong")
	}
}
