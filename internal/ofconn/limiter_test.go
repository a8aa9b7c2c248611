package ofconn

import "testing"

func TestPPSLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	l := NewPPSLimiter(3)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected message %d to be allowed within the burst", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected the fourth message in the same window to be dropped")
	}
}
