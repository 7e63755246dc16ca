// Package epi holds the disease-model vocabulary shared by calibration, the
// ODE right-hand side and postprocessing: the fixed parameter schema and the
// compartment layout of the state tensor.
package epi

import (
	"fmt"
	"math"

	"github.com/lshin-apl/bucky/domain/core"
)

// Params is the complete parameter set consumed by calibration and the RHS.
// Every name is a struct field so a missing or renamed parameter is a compile
// error, not a runtime surprise. Scalar and per-age fields are drawn fresh
// from priors each trial; the per-node fields are derived by calibration and
// empty until ResetForTrial has run.
type Params struct {
	Tg          float64 // mean generation time, days
	Te          float64 // mean latent period, days
	Ti          float64 // mean infectious period, days
	Th          float64 // symptom onset to hospital outcome entry, days
	Tlos        float64 // hospital length of stay, days
	KernelShape float64 // Erlang/Gamma shape k
	RelInfect   float64 // relative infectiousness of asymptomatics
	BetaScale   float64 // sampled multiplier on the calibrated transmission rate
	RtEstimate  float64 // prior reproduction number, fallback when history is too short

	CaseReportRate   float64 // prior mean case ascertainment
	ICUFrac          float64 // ICU fraction of hospital occupancy
	VentFrac         float64 // ventilated fraction of ICU occupancy
	ContactDamp      float64 // weight on non-household contact settings
	MobilitySD       float64 // lognormal jitter applied to mobility edges per trial
	RRVar            float64 // sd of the truncated-normal relative-risk jitter on CFR/CHR rescaling
	FScaling         float64 // scaling on F/H when deriving the effective death fraction
	RejectBandDeaths float64 // multiplicative plausibility band for early deaths
	RejectBandCases  float64 // multiplicative plausibility band for early cases

	// Per age group, one value per bin.
	SymFrac         []float64 // symptomatic fraction
	HospFrac        []float64 // hospitalized fraction of symptomatics
	FatalFrac       []float64 // fatal fraction of the hospital track
	DeathReportTime []float64 // symptom onset to reported death, days

	// Derived per node by calibration, nil before ResetForTrial.
	Beta      []float64 // transmission rate per node
	Reporting []float64 // calibrated ascertainment per node
	RtNode    []float64 // reproduction number backing Beta

	// Rescaled probabilities per age group and node, row per age.
	HospFracNode  [][]float64
	FatalFracNode [][]float64
	FatalEffNode  [][]float64 // clip(FScaling*F/H, 0, 1), death fraction of hospital exits
}

// Rate accessors. Times are stored, rates derived, so priors stay in the
// natural units epidemiologists quote.

// Sigma is the latent progression rate 1/Te.
func (p *Params) Sigma() float64 { return 1 / p.Te }

// Gamma is the infectious recovery rate 1/Ti.
func (p *Params) Gamma() float64 { return 1 / p.Ti }

// GammaHosp is the hospital-track admission rate 1/Th.
func (p *Params) GammaHosp() float64 { return 1 / p.Th }

// ThetaLOS is the hospital discharge rate 1/Tlos.
func (p *Params) ThetaLOS() float64 { return 1 / p.Tlos }

// K is the Erlang chain length, at least 1.
func (p *Params) K() int {
	k := int(math.Round(p.KernelShape))
	if k < 1 {
		k = 1
	}
	return k
}

// Ages returns the age stratification width of the per-age fields.
func (p *Params) Ages() int { return len(p.SymFrac) }

// Validate checks the schema after a draw or override. Derived per-node
// fields are not checked here; calibration owns those.
func (p *Params) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"tg", p.Tg}, {"te", p.Te}, {"ti", p.Ti}, {"th", p.Th}, {"tlos", p.Tlos},
		{"beta_scale", p.BetaScale}, {"rt_estimate", p.RtEstimate},
	} {
		if !(c.v > 0) || math.IsInf(c.v, 0) {
			return fmt.Errorf("%w: %s = %g, want positive finite", core.ErrMalformedInput, c.name, c.v)
		}
	}
	if p.KernelShape < 1 {
		return fmt.Errorf("%w: kernel_shape = %g, want >= 1", core.ErrMalformedInput, p.KernelShape)
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"rel_infect", p.RelInfect}, {"case_report_rate", p.CaseReportRate},
		{"icu_frac", p.ICUFrac}, {"vent_frac", p.VentFrac},
		{"contact_damp", p.ContactDamp}, {"f_scaling", p.FScaling},
	} {
		if c.v < 0 || c.v > 1 || math.IsNaN(c.v) {
			return fmt.Errorf("%w: %s = %g, want in [0,1]", core.ErrMalformedInput, c.name, c.v)
		}
	}
	if p.MobilitySD < 0 {
		return fmt.Errorf("%w: mobility_sd = %g, want >= 0", core.ErrMalformedInput, p.MobilitySD)
	}
	if p.RRVar < 0 {
		return fmt.Errorf("%w: rr_var = %g, want >= 0", core.ErrMalformedInput, p.RRVar)
	}
	if p.RejectBandDeaths <= 1 || p.RejectBandCases <= 1 {
		return fmt.Errorf("%w: rejection bands must exceed 1, got deaths %g cases %g",
			core.ErrMalformedInput, p.RejectBandDeaths, p.RejectBandCases)
	}
	if len(p.SymFrac) == 0 {
		return fmt.Errorf("%w: sym_frac", core.ErrMissingAttr)
	}
	if len(p.HospFrac) != len(p.SymFrac) || len(p.FatalFrac) != len(p.SymFrac) ||
		len(p.DeathReportTime) != len(p.SymFrac) {
		return fmt.Errorf("%w: per-age fields have lengths %d/%d/%d/%d",
			core.ErrShapeMismatch, len(p.SymFrac), len(p.HospFrac), len(p.FatalFrac), len(p.DeathReportTime))
	}
	for a := range p.SymFrac {
		for _, c := range []struct {
			name string
			v    float64
		}{
			{"sym_frac", p.SymFrac[a]}, {"hosp_frac", p.HospFrac[a]}, {"fatal_frac", p.FatalFrac[a]},
		} {
			if c.v < 0 || c.v > 1 || math.IsNaN(c.v) {
				return fmt.Errorf("%w: %s[%d] = %g, want in [0,1]", core.ErrMalformedInput, c.name, a, c.v)
			}
		}
		if v := p.DeathReportTime[a]; !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: death_report_time[%d] = %g, want positive finite", core.ErrMalformedInput, a, v)
		}
	}
	return nil
}

// Set assigns one named parameter from an override bundle. Scalars take a
// single value, per-age parameters take one value per age bin. Derived
// per-node fields cannot be overridden.
func (p *Params) Set(name string, vals []float64) error {
	scalar := func(dst *float64) error {
		if len(vals) != 1 {
			return fmt.Errorf("%w: %s wants 1 value, got %d", core.ErrShapeMismatch, name, len(vals))
		}
		*dst = vals[0]
		return nil
	}
	perAge := func(dst *[]float64) error {
		if p.Ages() > 0 && len(vals) != p.Ages() {
			return fmt.Errorf("%w: %s wants %d values, got %d", core.ErrShapeMismatch, name, p.Ages(), len(vals))
		}
		*dst = append([]float64(nil), vals...)
		return nil
	}
	switch name {
	case "tg":
		return scalar(&p.Tg)
	case "te":
		return scalar(&p.Te)
	case "ti":
		return scalar(&p.Ti)
	case "th":
		return scalar(&p.Th)
	case "tlos":
		return scalar(&p.Tlos)
	case "kernel_shape":
		return scalar(&p.KernelShape)
	case "rel_infect":
		return scalar(&p.RelInfect)
	case "beta_scale":
		return scalar(&p.BetaScale)
	case "rt_estimate":
		return scalar(&p.RtEstimate)
	case "case_report_rate":
		return scalar(&p.CaseReportRate)
	case "icu_frac":
		return scalar(&p.ICUFrac)
	case "vent_frac":
		return scalar(&p.VentFrac)
	case "contact_damp":
		return scalar(&p.ContactDamp)
	case "mobility_sd":
		return scalar(&p.MobilitySD)
	case "rr_var":
		return scalar(&p.RRVar)
	case "f_scaling":
		return scalar(&p.FScaling)
	case "reject_band_deaths":
		return scalar(&p.RejectBandDeaths)
	case "reject_band_cases":
		return scalar(&p.RejectBandCases)
	case "sym_frac":
		return perAge(&p.SymFrac)
	case "hosp_frac":
		return perAge(&p.HospFrac)
	case "fatal_frac":
		return perAge(&p.FatalFrac)
	case "death_report_time":
		return perAge(&p.DeathReportTime)
	}
	return fmt.Errorf("%w: %s", core.ErrUnknownParam, name)
}

// Clone deep-copies the set so one trial's calibration never leaks into
// another.
func (p *Params) Clone() *Params {
	out := *p
	out.SymFrac = append([]float64(nil), p.SymFrac...)
	out.HospFrac = append([]float64(nil), p.HospFrac...)
	out.FatalFrac = append([]float64(nil), p.FatalFrac...)
	out.DeathReportTime = append([]float64(nil), p.DeathReportTime...)
	out.Beta = append([]float64(nil), p.Beta...)
	out.Reporting = append([]float64(nil), p.Reporting...)
	out.RtNode = append([]float64(nil), p.RtNode...)
	out.HospFracNode = cloneRows(p.HospFracNode)
	out.FatalFracNode = cloneRows(p.FatalFracNode)
	out.FatalEffNode = cloneRows(p.FatalEffNode)
	return &out
}

func cloneRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
