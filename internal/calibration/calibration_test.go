package calibration

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lshin-apl/bucky/adapters/sampling"
	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/internal/testkit"
	"github.com/lshin-apl/bucky/ports"
)

func contactFixture(ages int) map[string][][]float64 {
	home := make([][]float64, ages)
	work := make([][]float64, ages)
	for a := 0; a < ages; a++ {
		home[a] = make([]float64, ages)
		work[a] = make([]float64, ages)
		for b := 0; b < ages; b++ {
			home[a][b] = 1
			// Deliberately asymmetric so symmetrization is observable.
			work[a][b] = float64(a + 2*b)
		}
		home[a][a] = 3
	}
	return map[string][][]float64{
		"home":            home,
		"work":            work,
		"all":             work, // unrecognized aggregate, must be ignored
		"other_locations": work,
		"school":          work,
	}
}

func censusFixture(groups int, start time.Time) []ports.CensusRecord {
	var recs []ports.CensusRecord
	for g := 0; g < groups; g++ {
		for d := 0; d < anchorWindow; d++ {
			recs = append(recs, ports.CensusRecord{
				GroupID:    g,
				Date:       start.AddDate(0, 0, -d),
				Occupancy:  200 + 10*float64(g),
				Admissions: 30,
			})
		}
	}
	return recs
}

func newPipeline(t *testing.T, census bool) (*Pipeline, *testkit.Graph) {
	t.Helper()
	g := testkit.NewGrowthGraph(t, 6, 2, 3, 45, 0.05)
	p := testkit.Params(3)

	start := time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC)
	var recs []ports.CensusRecord
	if census {
		recs = censusFixture(2, start)
	}
	st, err := LoadStatic(g.Agg, p, contactFixture(3), recs, start)
	if err != nil {
		t.Fatalf("LoadStatic: %v", err)
	}
	return &Pipeline{
		Agg:     g.Agg,
		Mob:     g.Mob,
		Sampler: sampling.New(),
		Static:  st,
		Horizon: 30,
	}, g
}

func TestPrepareContactsSymmetrizesAndFilters(t *testing.T) {
	st := func() *Static {
		p, _ := newPipeline(t, false)
		return p.Static
	}()

	ages, _ := st.Other.Dims()
	for a := 0; a < ages; a++ {
		for b := 0; b < ages; b++ {
			if st.Other.At(a, b) != st.Other.At(b, a) {
				t.Fatalf("other[%d,%d]=%g != other[%d,%d]=%g",
					a, b, st.Other.At(a, b), b, a, st.Other.At(b, a))
			}
		}
	}
	// work + school + other_locations, each symmetrized to (a+2b+b+2a)/2.
	want := 3 * 1.5 * float64(0+1)
	if got := st.Other.At(0, 1); math.Abs(got-want) > 1e-12 {
		t.Fatalf("other[0,1] = %g, want %g", got, want)
	}
	if got := st.Home.At(1, 1); got != 3 {
		t.Fatalf("home[1,1] = %g, want 3", got)
	}
}

func TestLoadStaticRejectsShortHistory(t *testing.T) {
	start := time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC)
	// Both pass the aggregator's window check (>= 7 days) but cannot cover
	// the trailing estimator windows: 12 days is too short for the renewal
	// ratios, 30 days for the lagged ascertainment baselines.
	for _, days := range []int{12, 30} {
		g := testkit.NewGrowthGraph(t, 4, 2, 3, days, 0.05)
		_, err := LoadStatic(g.Agg, testkit.Params(3), contactFixture(3), nil, start)
		if !errors.Is(err, core.ErrShortHistory) {
			t.Fatalf("days=%d: err = %v, want ErrShortHistory", days, err)
		}
		if !core.IsFatalInputError(err) {
			t.Fatalf("days=%d: short history must be a fatal input error", days)
		}
	}

	// With a 15-day death-reporting delay the baselines need 37 rolled
	// days, i.e. about 43 days of raw history with a 7-day window.
	g := testkit.NewGrowthGraph(t, 4, 2, 3, 44, 0.05)
	if _, err := LoadStatic(g.Agg, testkit.Params(3), contactFixture(3), nil, start); err != nil {
		t.Fatalf("44-day history should calibrate: %v", err)
	}
}

func TestLoadStaticRejectsUnrecognizedOnly(t *testing.T) {
	g := testkit.NewGrowthGraph(t, 4, 2, 3, 40, 0.05)
	bad := map[string][][]float64{"all": {{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
	_, err := LoadStatic(g.Agg, testkit.Params(3), bad, nil, time.Now())
	if !errors.Is(err, core.ErrMissingMetadata) {
		t.Fatalf("err = %v, want ErrMissingMetadata", err)
	}
}

func TestBuildContactsRowStochastic(t *testing.T) {
	pipe, _ := newPipeline(t, false)
	p := testkit.Params(3)

	npi := &ports.NPISchedule{
		Transmission: []float64{1, 0.8, 0.8},
		Mobility:     []float64{1, 1, 1},
		Contact:      []float64{1, 0.5, 0.5},
	}
	sched := pipe.Static.BuildContacts(p, npi, 10)
	for _, day := range []float64{0, 1.5, 10, 25} {
		c := sched.At(day)
		ages, _ := c.Dims()
		for a := 0; a < ages; a++ {
			var sum float64
			for b := 0; b < ages; b++ {
				sum += c.At(a, b)
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Fatalf("day %g row %d sums to %g", day, a, sum)
			}
		}
	}
	// A stronger contact NPI shifts weight toward household mixing.
	full, damped := sched.At(0), sched.At(1)
	if damped.At(0, 0) <= full.At(0, 0) {
		t.Fatalf("damped diagonal %g not above full %g", damped.At(0, 0), full.At(0, 0))
	}

	static := pipe.Static.BuildContacts(p, nil, 10)
	if static.At(0) != static.At(50) {
		t.Fatal("inactive schedule should reuse one matrix")
	}
}

func TestResetForTrialDeterministic(t *testing.T) {
	pipe, _ := newPipeline(t, true)
	p := testkit.Params(3)

	a, err := pipe.ResetForTrial(42, p)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	b, err := pipe.ResetForTrial(42, p)
	if err != nil {
		t.Fatalf("reset again: %v", err)
	}
	for i := range a.Y0 {
		if a.Y0[i] != b.Y0[i] {
			t.Fatalf("y0[%d] differs: %g vs %g", i, a.Y0[i], b.Y0[i])
		}
	}
	for j := range a.P.Beta {
		if a.P.Beta[j] != b.P.Beta[j] {
			t.Fatalf("beta[%d] differs", j)
		}
	}

	c, err := pipe.ResetForTrial(43, p)
	if err != nil {
		t.Fatalf("reset seed 43: %v", err)
	}
	same := true
	for i := range a.Y0 {
		if a.Y0[i] != c.Y0[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("distinct seeds produced identical states")
	}
}

func TestResetForTrialStateShape(t *testing.T) {
	pipe, g := newPipeline(t, true)
	tr, err := pipe.ResetForTrial(7, testkit.Params(3))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}

	l := tr.Layout
	if l.Ages != 3 || l.Nodes != 6 {
		t.Fatalf("layout = %+v", l)
	}
	for a := 0; a < l.Ages; a++ {
		for j := 0; j < l.Nodes; j++ {
			s := tr.Y0[l.Idx(l.BinS(), a, j)]
			if s <= 0 || s > 1 {
				t.Fatalf("S[%d,%d] = %g outside (0,1]", a, j, s)
			}
			total := l.LivingSum(tr.Y0, a, j) + tr.Y0[l.Idx(l.BinD(), a, j)]
			if math.Abs(total-1) > 1e-9 {
				t.Fatalf("population fraction at (%d,%d) = %g", a, j, total)
			}
			if got := tr.Y0[l.Idx(l.BinIncH(), a, j)]; got != 0 {
				t.Fatalf("IncH[%d,%d] = %g, want 0", a, j, got)
			}
			// Infection seeded everywhere in a growing epidemic.
			if l.ChainSum(tr.Y0, l.BinI(0), a, j) <= 0 {
				t.Fatalf("no infectious mass at (%d,%d)", a, j)
			}
		}
	}

	for j := 0; j < l.Nodes; j++ {
		if tr.P.Reporting[j] < 0.2 || tr.P.Reporting[j] > 1.0 {
			t.Fatalf("reporting[%d] = %g outside [0.2, 1]", j, tr.P.Reporting[j])
		}
		if tr.P.RtNode[j] <= 0 || tr.P.Beta[j] <= 0 {
			t.Fatalf("node %d: rt=%g beta=%g", j, tr.P.RtNode[j], tr.P.Beta[j])
		}
	}
	if len(tr.DoublingTime) != g.Agg.Pop.Nodes {
		t.Fatalf("doubling len = %d", len(tr.DoublingTime))
	}
}

func TestResetForTrialHospitalAnchor(t *testing.T) {
	pipe, g := newPipeline(t, true)
	tr, err := pipe.ResetForTrial(11, testkit.Params(3))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}

	l := tr.Layout
	nodeHosp := make([]float64, l.Nodes)
	for a := 0; a < l.Ages; a++ {
		for j := 0; j < l.Nodes; j++ {
			nodeHosp[j] += l.ChainSum(tr.Y0, l.BinRh(0), a, j) * g.Pop.At(a, j)
		}
	}
	grp := g.H.GroupSum(nodeHosp)
	for gi, anchor := range pipe.Static.HospAnchor {
		// The anchor match is exact up to the [0.9, 1.1] occupancy jitter.
		ratio := grp[gi] / anchor
		if ratio < 0.9-1e-9 || ratio > 1.1+1e-9 {
			t.Fatalf("group %d hospital pop %g vs anchor %g (ratio %g)", gi, grp[gi], anchor, ratio)
		}
	}

	// Hospitalization probability never undercuts fatality after rescaling.
	for a := 0; a < l.Ages; a++ {
		for j := 0; j < l.Nodes; j++ {
			if tr.P.HospFracNode[a][j] < tr.P.FatalFracNode[a][j] {
				t.Fatalf("H[%d,%d]=%g < F=%g", a, j, tr.P.HospFracNode[a][j], tr.P.FatalFracNode[a][j])
			}
			fe := tr.P.FatalEffNode[a][j]
			if fe < 0 || fe > 1 {
				t.Fatalf("FatalEff[%d,%d] = %g", a, j, fe)
			}
		}
	}
}

func TestResetForTrialRejectsInvalidOverride(t *testing.T) {
	pipe, _ := newPipeline(t, false)
	p := testkit.Params(3)
	p.Te = -1
	_, err := pipe.ResetForTrial(3, p)
	if !errors.Is(err, core.ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
	var te *core.TrialError
	if !errors.As(err, &te) || te.Stage != "draw" {
		t.Fatalf("err = %v, want draw-stage trial error", err)
	}
}
