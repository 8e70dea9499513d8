package indicators

import "testing"

func TestATRRollingAverageZeroBeforeReady(t *testing.T) {
	a := NewATR(14)
	if a.RollingAverage() != 0 {
		t.Errorf("RollingAverage() = %v before ready, want 0", a.RollingAverage())
	}
}

func TestATRBecomesReadyAfterPeriod(t *testing.T) {
	a := NewATR(14)
	for i := 0; i < 14; i++ {
		a.Update(101, 99, 100)
	}
	if !a.Ready() {
		t.Fatal("ATR not ready after 14 updates with period 14")
	}
	if a.Value() <= 0 {
		t.Errorf("Value() = %v, want > 0", a.Value())
	}
}

func TestATRVolatilitySpikeDetection(t *testing.T) {
	a := NewATR(5)
	for i := 0; i < 5; i++ {
		a.Update(101, 99, 100)
	}
	avgBefore := a.RollingAverage()
	a.Update(150, 50, 100)
	if a.Value() <= 2*avgBefore {
		t.Errorf("expected a volatility spike after a wide bar: value=%v avgBefore=%v", a.Value(), avgBefore)
	}
}
