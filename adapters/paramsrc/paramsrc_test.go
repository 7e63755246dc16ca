package paramsrc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lshin-apl/bucky/adapters/sampling"
	"github.com/lshin-apl/bucky/domain/core"
)

const priorsDoc = `{
	"tg": {"dist": "truncnorm", "mean": 7.0, "sd": 0.5, "lo": 5.0, "hi": 9.0},
	"te": {"dist": "uniform", "lo": 3.0, "hi": 5.0},
	"ti": 5.0,
	"th": {"dist": "pert", "lo": 4.0, "mode": 6.0, "hi": 8.0},
	"tlos": 8.0,
	"kernel_shape": 2,
	"rel_infect": 0.7,
	"beta_scale": {"dist": "uniform", "lo": 0.9, "hi": 1.1},
	"rt_estimate": 1.5,
	"case_report_rate": 0.4,
	"icu_frac": 0.3,
	"vent_frac": 0.4,
	"contact_damp": 0.8,
	"mobility_sd": 0.05,
	"rr_var": 0.2,
	"f_scaling": 0.85,
	"reject_band_deaths": 2.0,
	"reject_band_cases": 1.5,
	"sym_frac": [0.5, 0.6, 0.7],
	"hosp_frac": [
		{"dist": "pert", "lo": 0.01, "mode": 0.03, "hi": 0.06},
		{"dist": "pert", "lo": 0.04, "mode": 0.08, "hi": 0.15},
		{"dist": "pert", "lo": 0.10, "mode": 0.20, "hi": 0.35}
	],
	"fatal_frac": [0.005, 0.02, 0.1],
	"death_report_time": [14, 15, 16]
}`

func writePriors(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "priors.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write priors: %v", err)
	}
	return path
}

func TestDrawDeterministicAndValid(t *testing.T) {
	src, err := NewSource(writePriors(t, priorsDoc), sampling.New())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	a, err := src.Draw(core.Stream(5))
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	b, err := src.Draw(core.Stream(5))
	if err != nil {
		t.Fatalf("draw again: %v", err)
	}
	if a.Tg != b.Tg || a.Te != b.Te || a.HospFrac[1] != b.HospFrac[1] {
		t.Fatalf("same stream drew different sets: %+v vs %+v", a, b)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("drawn set invalid: %v", err)
	}
	if a.Tg < 5 || a.Tg > 9 {
		t.Fatalf("tg = %g outside prior bounds", a.Tg)
	}
	if len(a.SymFrac) != 3 {
		t.Fatalf("ages = %d, want 3", len(a.SymFrac))
	}

	c, err := src.Draw(core.Stream(6))
	if err != nil {
		t.Fatalf("draw seed 6: %v", err)
	}
	if a.Te == c.Te && a.BetaScale == c.BetaScale && a.HospFrac[0] == c.HospFrac[0] {
		t.Fatal("different streams drew identical sets")
	}
}

func TestMeanUsesDistributionMeans(t *testing.T) {
	src, err := NewSource(writePriors(t, priorsDoc), sampling.New())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	m, err := src.Mean()
	if err != nil {
		t.Fatalf("mean: %v", err)
	}
	if m.Te != 4.0 {
		t.Fatalf("uniform mean te = %g, want 4", m.Te)
	}
	if m.Tg != 7.0 {
		t.Fatalf("truncnorm mean tg = %g, want 7", m.Tg)
	}
	// PERT mean with shape 4: (lo + 4*mode + hi) / 6.
	if want := (4.0 + 4*6.0 + 8.0) / 6; m.Th != want {
		t.Fatalf("pert mean th = %g, want %g", m.Th, want)
	}
	if m.Ti != 5.0 {
		t.Fatalf("fixed ti = %g", m.Ti)
	}
}

func TestNewSourceRejectsBadPriors(t *testing.T) {
	cases := map[string]string{
		"unknown name": `{"no_such_param": 1.0}`,
		"unknown dist": `{"tg": {"dist": "cauchy", "lo": 1, "hi": 2}}`,
		"syntax":       `{"tg": `,
	}
	for name, doc := range cases {
		if _, err := NewSource(writePriors(t, doc), sampling.New()); err == nil {
			t.Errorf("%s: no error", name)
		}
	}

	// Structurally fine but semantically invalid values fail validation.
	bad := `{"tg": -1}`
	if _, err := NewSource(writePriors(t, bad), sampling.New()); !errors.Is(err, core.ErrMalformedInput) {
		t.Fatalf("negative tg err = %v", err)
	}
}
