package randvar

import (
	"math"
	"testing"
)

func TestUniformStaysInRange(t *testing.T) {
	u := NewUniform("uniform-range", -2, 3)
	for i := 0; i < 1000; i++ {
		v := u.Sample()
		if v < -2 || v >= 3 {
			t.Fatalf("sample %d = %v outside [-2, 3)", i, v)
		}
	}
}

func TestNormalMoments(t *testing.T) {
	n := NewNormal("normal-moments", 1.5, 0.5)
	const count = 20000
	var sum, sumSq float64
	for i := 0; i < count; i++ {
		v := n.Sample()
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("sample %d = %v", i, v)
		}
		sum += v
		sumSq += v * v
	}
	mean := sum / count
	std := math.Sqrt(sumSq/count - mean*mean)
	if math.Abs(mean-1.5) > 0.05 {
		t.Fatalf("mean = %v, want about 1.5", mean)
	}
	if math.Abs(std-0.5) > 0.05 {
		t.Fatalf("stddev = %v, want about 0.5", std)
	}
}

func TestConstant(t *testing.T) {
	if got := (Constant{Value: 4}).Sample(); got != 4 {
		t.Fatalf("Constant sample = %v, want 4", got)
	}
}
