package epi

import (
	"errors"
	"math"
	"testing"

	"github.com/lshin-apl/bucky/domain/core"
)

func TestLayoutIndexing(t *testing.T) {
	l, err := NewLayout(3, 2, 4)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if l.Bins() != 5*3+5 {
		t.Fatalf("Bins = %d", l.Bins())
	}
	if l.Size() != l.Bins()*2*4 {
		t.Fatalf("Size = %d", l.Size())
	}

	// Every named bin must be distinct and cover exactly 0..Bins-1.
	seen := make(map[int]bool)
	mark := func(bin int) {
		if bin < 0 || bin >= l.Bins() {
			t.Fatalf("bin %d out of range", bin)
		}
		if seen[bin] {
			t.Fatalf("bin %d assigned twice", bin)
		}
		seen[bin] = true
	}
	mark(l.BinS())
	for i := 0; i < l.K; i++ {
		mark(l.BinE(i))
		mark(l.BinIa(i))
		mark(l.BinI(i))
		mark(l.BinIc(i))
		mark(l.BinRh(i))
	}
	mark(l.BinR())
	mark(l.BinD())
	mark(l.BinIncH())
	mark(l.BinIncC())
	if len(seen) != l.Bins() {
		t.Fatalf("named bins cover %d of %d", len(seen), l.Bins())
	}

	// Idx and Plane agree on where a value lives.
	x := l.NewState()
	x[l.Idx(l.BinIc(1), 1, 3)] = 0.25
	plane := l.Plane(x, l.BinIc(1))
	if plane[1*l.Nodes+3] != 0.25 {
		t.Fatal("Plane view disagrees with Idx")
	}
}

func TestLayoutLivingSumSkipsDeadAndAccumulators(t *testing.T) {
	l, err := NewLayout(2, 1, 1)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	x := l.NewState()
	x[l.Idx(l.BinS(), 0, 0)] = 0.4
	x[l.Idx(l.BinE(0), 0, 0)] = 0.1
	x[l.Idx(l.BinIa(1), 0, 0)] = 0.1
	x[l.Idx(l.BinI(0), 0, 0)] = 0.1
	x[l.Idx(l.BinIc(1), 0, 0)] = 0.05
	x[l.Idx(l.BinRh(0), 0, 0)] = 0.05
	x[l.Idx(l.BinR(), 0, 0)] = 0.2
	x[l.Idx(l.BinD(), 0, 0)] = 0.7
	x[l.Idx(l.BinIncH(), 0, 0)] = 5
	x[l.Idx(l.BinIncC(), 0, 0)] = 9

	if got := l.LivingSum(x, 0, 0); math.Abs(got-1.0) > 1e-15 {
		t.Fatalf("LivingSum = %g, want 1.0", got)
	}
	if got := l.ChainSum(x, l.BinIa(0), 0, 0); got != 0.1 {
		t.Fatalf("ChainSum over Ia = %g", got)
	}
}

func TestLayoutRejectsDegenerateShapes(t *testing.T) {
	if _, err := NewLayout(0, 1, 1); !errors.Is(err, core.ErrShapeMismatch) {
		t.Fatalf("k=0 accepted: %v", err)
	}
	if _, err := NewLayout(1, 1, 0); !errors.Is(err, core.ErrShapeMismatch) {
		t.Fatalf("nodes=0 accepted: %v", err)
	}
}
