package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/domain/epi"
	"github.com/lshin-apl/bucky/internal"
	"github.com/lshin-apl/bucky/internal/calibration"
	"github.com/lshin-apl/bucky/internal/postprocess"
	"github.com/lshin-apl/bucky/internal/seir"
	"github.com/lshin-apl/bucky/internal/tensor"
	"github.com/lshin-apl/bucky/ports"
)

// Rejection tuning. A mean over the first onsetDays of simulated incidence
// is compared against the trailing historical mean; roundTol matches the
// two-decimal rounding applied before the negativity check.
const (
	onsetDays = 3
	roundTol  = 0.005
)

// maxAttemptFactor caps total trial attempts at this multiple of the
// requested ensemble size so a misconfigured run fails instead of spinning.
const maxAttemptFactor = 50

// ForecastService owns the Monte Carlo loop: calibrate, integrate,
// postprocess, accept or reject, persist.
type ForecastService struct {
	log      *internal.Logger
	model    *Model
	pipe     *calibration.Pipeline
	integ    ports.Integrator
	sink     ports.FrameSink
	ledger   ports.RunLedger
	npi      *ports.NPISchedule
	horizon  int
	workers  int
	noReject bool
}

// ForecastConfig carries the run-shape knobs. NoReject disables the
// plausibility acceptance rules so every integrable trial is kept.
type ForecastConfig struct {
	HorizonDays int
	Workers     int
	NoReject    bool
}

// NewForecastService runs the one-time calibration phase against the model
// and returns a service ready to produce ensembles.
func NewForecastService(
	log *internal.Logger,
	model *Model,
	source ports.ParameterSource,
	sampler ports.Sampler,
	npi *ports.NPISchedule,
	census []ports.CensusRecord,
	integ ports.Integrator,
	sink ports.FrameSink,
	ledger ports.RunLedger,
	cfg ForecastConfig,
) (*ForecastService, error) {
	meanParams, err := source.Mean()
	if err != nil {
		return nil, fmt.Errorf("prior means: %w", err)
	}
	static, err := calibration.LoadStatic(model.Agg, meanParams, model.Contact, census, model.Start)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &ForecastService{
		log:   log,
		model: model,
		pipe: &calibration.Pipeline{
			Agg:     model.Agg,
			Mob:     model.Mob,
			Source:  source,
			Sampler: sampler,
			NPI:     npi,
			Static:  static,
			Horizon: cfg.HorizonDays,
		},
		integ:    integ,
		sink:     sink,
		ledger:   ledger,
		npi:      npi,
		horizon:  cfg.HorizonDays,
		workers:  workers,
		noReject: cfg.NoReject,
	}, nil
}

// Nodes reports the spatial width of the loaded model.
func (s *ForecastService) Nodes() int { return s.model.Pop.Nodes }

// Ages reports the age stratification of the loaded model.
func (s *ForecastService) Ages() int { return s.model.Pop.Ages }

// HistoryDays reports the length of the observed history.
func (s *ForecastService) HistoryDays() int { return s.model.Hist.Days }

// RunTrial executes one complete trial for a spawn seed: calibration reset,
// integration over the horizon, and postprocessing into a frame. The frame
// has not yet passed acceptance.
func (s *ForecastService) RunTrial(ctx context.Context, runID core.RunID, spawn int, seed uint64, override *epi.Params) (*ports.Frame, error) {
	tr, err := s.pipe.ResetForTrial(seed, override)
	if err != nil {
		return nil, err
	}

	rhs := seir.RHS(&seir.Args{
		Layout:   tr.Layout,
		Pop:      s.model.Pop,
		Mob:      tr.Mob,
		P:        tr.P,
		NPI:      s.npi,
		Contacts: tr.Contacts,
	})

	checkpoints := make([]float64, s.horizon+1)
	for d := range checkpoints {
		checkpoints[d] = float64(d)
	}
	traj, err := s.integ.Integrate(ctx, rhs, tr.Y0, 0, float64(s.horizon), checkpoints)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, core.NewTrialError(seed, "integrate", err)
	}

	frame := postprocess.Build(&postprocess.Inputs{
		RunID:        runID,
		Spawn:        spawn,
		Seed:         seed,
		Start:        s.model.Start,
		Layout:       tr.Layout,
		P:            tr.P,
		H:            s.model.H,
		Pop:          s.model.Pop,
		Hist:         s.model.Hist,
		NPI:          s.npi,
		MobilityDiag: tr.Mob.Diag(),
		DoublingTime: tr.DoublingTime,
	}, traj)

	if !s.noReject {
		if err := s.validate(tr.P, frame); err != nil {
			return nil, core.NewTrialError(seed, "validate", err)
		}
	}
	return frame, nil
}

type trialResult struct {
	frame    *ports.Frame
	err      error
	duration time.Duration
}

// RunEnsemble produces exactly trials accepted frames. Spawn seeds are
// consumed in order and candidates are accepted in spawn order, so the
// accepted set is independent of worker count. A trial-scoped failure
// rejects that spawn and moves on; anything else aborts the run.
func (s *ForecastService) RunEnsemble(ctx context.Context, baseSeed uint64, trials int, override *epi.Params) (core.RunID, error) {
	runID := core.NewRunID()
	if err := s.ledger.Begin(ctx, runID, baseSeed, trials); err != nil {
		return runID, fmt.Errorf("ledger begin: %w", err)
	}
	seq := core.NewSeedSequence(baseSeed)
	s.log.Info("run %s: %d trials over %d nodes, horizon %d days, %d workers",
		runID, trials, s.model.Pop.Nodes, s.horizon, s.workers)

	accepted := 0
	spawn := 0
	maxAttempts := trials * maxAttemptFactor
	for accepted < trials {
		if spawn >= maxAttempts {
			return runID, fmt.Errorf("%w: %d of %d trials accepted after %d attempts",
				core.ErrTrialInvalid, accepted, trials, spawn)
		}

		batch := s.workers
		if want := trials - accepted; batch > want {
			batch = want
		}
		results := make([]trialResult, batch)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for i := 0; i < batch; i++ {
			i := i
			sp := spawn + i
			seed := seq.Spawn(uint64(sp))
			g.Go(func() error {
				t0 := time.Now()
				frame, err := s.RunTrial(gctx, runID, sp, seed, override)
				results[i] = trialResult{frame: frame, err: err, duration: time.Since(t0)}
				if err != nil && !core.IsTrialError(err) {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return runID, err
		}

		for i := 0; i < batch; i++ {
			sp := spawn + i
			res := results[i]
			rec := ports.TrialRecord{
				RunID:    runID,
				Spawn:    sp,
				Seed:     seq.Spawn(uint64(sp)),
				Accepted: res.err == nil,
				Duration: res.duration,
			}
			if res.err != nil {
				rec.Reason = res.err.Error()
				s.log.Debug("trial %d rejected: %v", sp, res.err)
			}
			if err := s.ledger.Record(ctx, rec); err != nil {
				return runID, fmt.Errorf("ledger record: %w", err)
			}
			if res.err == nil {
				if err := s.sink.Write(ctx, res.frame); err != nil {
					return runID, fmt.Errorf("sink write: %w", err)
				}
				accepted++
			}
		}
		spawn += batch
	}

	s.log.Info("run %s: accepted %d/%d attempted trials", runID, accepted, spawn)
	return runID, nil
}

// validate applies the acceptance rules to one candidate frame: no
// meaningfully negative output values, and first-days incidence of deaths
// and reported cases within a multiplicative band of the trailing observed
// mean.
func (s *ForecastService) validate(p *epi.Params, frame *ports.Frame) error {
	for _, col := range frame.Columns() {
		if col.Name == "doubling_t" {
			continue // legitimately +Inf on flat histories
		}
		data := col.Series
		for d := 0; d < data.Days; d++ {
			for _, v := range data.Row(d) {
				if math.IsNaN(v) {
					return fmt.Errorf("%w: NaN in %s", core.ErrTrialInvalid, col.Name)
				}
				if v < -roundTol {
					return fmt.Errorf("%w: %s day %d", core.ErrNegativeOutput, col.Name, d)
				}
			}
		}
	}

	if err := s.onsetCheck(frame.DailyDeaths, s.model.Agg.RollingIncDeathsRoot(), p.RejectBandDeaths, "deaths"); err != nil {
		return err
	}
	return s.onsetCheck(frame.DailyReportedCases, s.model.Agg.RollingIncCasesRoot(), p.RejectBandCases, "cases")
}

// onsetCheck compares the root-level mean of the first onsetDays simulated
// days of a daily series against the most recent trailing observed mean.
// Row 0 is the seam diff against the raw history, not a simulated day, so
// the window starts at row 1.
func (s *ForecastService) onsetCheck(sim *tensor.Series, hist []float64, band float64, what string) error {
	histMean := hist[len(hist)-1]
	if !(histMean > 0) {
		return nil
	}
	days := onsetDays
	if sim.Days-1 < days {
		days = sim.Days - 1
	}
	if days < 1 {
		return nil
	}
	var simMean float64
	for d := 1; d <= days; d++ {
		for _, v := range sim.Row(d) {
			simMean += v
		}
	}
	simMean /= float64(days)

	if simMean > band*histMean || simMean < histMean/band {
		return fmt.Errorf("%w: mean onset %s %.2f vs observed %.2f (band %.1fx)",
			core.ErrHistoryMismatch, what, simMean, histMean, band)
	}
	return nil
}
