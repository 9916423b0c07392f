// Package pipeline runs the reading practice generation: a quota gate,
// the provider phases (analysis, story, questions, format), persistence of
// the validated exercise and, only after that succeeded, the usage count.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/zhongwen/internal/config"
	"github.com/TobiSchelling/zhongwen/internal/database"
	"github.com/TobiSchelling/zhongwen/internal/exercise"
	"github.com/TobiSchelling/zhongwen/internal/llm"
	"github.com/TobiSchelling/zhongwen/internal/logging"
	"github.com/TobiSchelling/zhongwen/internal/prompts"
	"github.com/TobiSchelling/zhongwen/internal/usage"
)

// States of a run, in order. StateFailed is reachable from every state.
const (
	StateInit       = "init"
	StateQuotaCheck = "quota_check"
	StateAnalysis   = prompts.PhaseAnalysis
	StateStory      = prompts.PhaseStory
	StateQuestions  = prompts.PhaseQuestions
	StateFormat     = prompts.PhaseFormat
	StatePersist    = "persist"
	StateDone       = "done"
	StateFailed     = "failed"
)

// Quota modes.
const (
	QuotaModeCheck   = "check"
	QuotaModeReserve = "reserve"
)

// Store is the persistence a run reads from and writes to.
type Store interface {
	GetCompleteUnit(ctx context.Context, unitID int64) (*database.UnitContent, error)
	GetUserPreferences(ctx context.Context, userID string) (*database.LearnerProfile, error)
	SaveRwpContent(ctx context.Context, userID string, unitID int64, exerciseType string, content json.RawMessage) error
}

// Ledger is the quota gate.
type Ledger interface {
	CheckAvailability(ctx context.Context, userID string, f usage.Feature) (usage.Availability, error)
	Increment(ctx context.Context, userID string, f usage.Feature) error
	Reserve(ctx context.Context, userID string, f usage.Feature) (usage.Availability, error)
	Release(ctx context.Context, userID string, f usage.Feature) error
}

// Request parameterizes one run.
type Request struct {
	UserID        string
	UnitID        int64
	SpecificFocus string
	Debug         bool
}

// ProgressFunc is told about every state a run enters.
type ProgressFunc func(state string)

// StepResult holds the result of a single phase.
type StepResult struct {
	Name     string
	Summary  string
	Duration time.Duration
}

// Result is a finished run. Raw holds each phase's provider text when the
// request asked for debug output.
type Result struct {
	RunID    string
	Exercise *exercise.Exercise
	Raw      map[string]string
	Steps    []StepResult
}

// Generator sequences one run per Generate call. It holds no per-request
// state and is safe for concurrent use.
type Generator struct {
	store    Store
	ledger   Ledger
	provider llm.Client
	cfg      config.Pipeline
	timeout  time.Duration
	log      *logging.Logger
}

// New creates a generator.
func New(store Store, ledger Ledger, provider llm.Client, cfg config.Pipeline, log *logging.Logger) *Generator {
	if cfg.QuotaMode == "" {
		cfg.QuotaMode = QuotaModeCheck
	}
	return &Generator{
		store:    store,
		ledger:   ledger,
		provider: provider,
		cfg:      cfg,
		timeout:  cfg.PhaseTimeout(),
		log:      logging.OrNop(log).With("component", "pipeline"),
	}
}

// run is the state of one Generate call.
type run struct {
	*Generator
	req      Request
	progress ProgressFunc
	log      *logging.Logger
	result   *Result
	unit     *database.UnitContent
	profile  *database.LearnerProfile
	reserved bool
}

// Generate runs the pipeline. The returned Result is non-nil even on
// failure and carries the run id and the steps that completed; the error,
// if any, is a *Error.
func (g *Generator) Generate(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	r := &run{
		Generator: g,
		req:       req,
		progress:  progress,
		result:    &Result{RunID: uuid.NewString()},
	}
	r.log = g.log.With("run_id", r.result.RunID, "user_id", req.UserID, "unit_id", req.UnitID)
	if req.Debug {
		r.result.Raw = make(map[string]string)
	}

	err := r.execute(ctx)
	if err != nil {
		var perr *Error
		if !errors.As(err, &perr) {
			perr = &Error{Reason: ReasonInternal, Phase: StateInit, Err: err}
		}
		r.release(ctx)
		r.log.Warn("rwp generation failed", "phase", perr.Phase, "reason", perr.Reason, "error", perr.Error())
		r.emit(StateFailed)
		return r.result, perr
	}
	return r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	if r.req.UserID == "" {
		return &Error{Reason: ReasonNotAuthenticated, Phase: StateInit}
	}
	if err := r.load(ctx); err != nil {
		return err
	}

	if r.cfg.QuotaCheck {
		r.emit(StateQuotaCheck)
		if err := r.gate(ctx); err != nil {
			return err
		}
	}

	var analysis string
	if r.cfg.HasPhase(StateAnalysis) {
		text, err := r.phase(ctx, StateAnalysis, prompts.AnalysisPrompt(r.unit, r.profile, r.req.SpecificFocus))
		if err != nil {
			return err
		}
		analysis = text
	}

	story, err := r.phase(ctx, StateStory, prompts.StoryPrompt(analysis, r.unit, r.profile, r.req.SpecificFocus))
	if err != nil {
		return err
	}

	questions, err := r.phase(ctx, StateQuestions, prompts.QuestionsPrompt(story, analysis, r.unit, r.profile, r.req.SpecificFocus))
	if err != nil {
		return err
	}

	formatted, err := r.phase(ctx, StateFormat, prompts.FormatPrompt(story, questions, r.unit))
	if err != nil {
		return err
	}

	doc, xerr := llm.ExtractJSON(formatted)
	if xerr != nil {
		return &Error{Reason: ReasonJSONParse, Phase: StateFormat, Message: xerr.Message, Err: xerr}
	}
	ex, raw, err := exercise.Decode(doc)
	if err != nil {
		return &Error{Reason: ReasonInvalidExercise, Phase: StateFormat, Err: err}
	}

	r.emit(StatePersist)
	if err := r.store.SaveRwpContent(ctx, r.req.UserID, r.req.UnitID, ex.ExerciseType, raw); err != nil {
		return &Error{Reason: ReasonPersistFailed, Phase: StatePersist, Err: err}
	}
	r.result.Exercise = ex

	// Past this point the run has succeeded; a failed count is logged and
	// the user is undercounted.
	if !r.reserved {
		if err := r.ledger.Increment(context.WithoutCancel(ctx), r.req.UserID, usage.FeatureRWP); err != nil {
			r.log.Error("usage increment failed after successful generation", "error", err)
		}
	}
	r.emit(StateDone)
	r.log.Info("rwp generation complete",
		"title", ex.Meta.Title,
		"multiple_choice", len(ex.Questions.MultipleChoice),
		"short_answer", len(ex.Questions.ShortAnswer))
	return nil
}

// load fetches the unit and the learner profile. A missing profile is
// fine; the prompt builders fall back to defaults.
func (r *run) load(ctx context.Context) error {
	unit, err := r.store.GetCompleteUnit(ctx, r.req.UnitID)
	if err != nil {
		return &Error{Reason: ReasonInternal, Phase: StateInit, Message: "loading unit", Err: err}
	}
	if unit == nil {
		return &Error{Reason: ReasonUnitNotFound, Phase: StateInit, Message: fmt.Sprintf("unit %d", r.req.UnitID)}
	}
	r.unit = unit

	profile, err := r.store.GetUserPreferences(ctx, r.req.UserID)
	if err != nil {
		return &Error{Reason: ReasonInternal, Phase: StateInit, Message: "loading learner profile", Err: err}
	}
	r.profile = profile
	return nil
}

// gate consults the ledger. In reserve mode the slot is taken here and
// handed back by release if the run fails later.
func (r *run) gate(ctx context.Context) error {
	var (
		a   usage.Availability
		err error
	)
	if r.cfg.QuotaMode == QuotaModeReserve {
		a, err = r.ledger.Reserve(ctx, r.req.UserID, usage.FeatureRWP)
	} else {
		a, err = r.ledger.CheckAvailability(ctx, r.req.UserID, usage.FeatureRWP)
	}
	if err != nil {
		return &Error{Reason: ReasonInternal, Phase: StateQuotaCheck, Message: "checking usage", Err: err}
	}
	if !a.Allowed {
		reason := a.Reason
		if reason == "" {
			reason = ReasonWeeklyLimit
		}
		return &Error{Reason: reason, Phase: StateQuotaCheck, ResetAt: a.ResetAt}
	}
	r.reserved = r.cfg.QuotaMode == QuotaModeReserve
	return nil
}

func (r *run) release(ctx context.Context) {
	if !r.reserved {
		return
	}
	r.reserved = false
	if err := r.ledger.Release(context.WithoutCancel(ctx), r.req.UserID, usage.FeatureRWP); err != nil {
		r.log.Error("releasing reserved usage failed", "error", err)
	}
}

type outcome struct {
	resp *llm.Response
	err  error
}

// phase runs one provider call. The call itself runs on a context that
// outlives ctx; on timeout or cancellation the run stops waiting but the
// request is left to finish.
func (r *run) phase(ctx context.Context, name, prompt string) (string, error) {
	r.emit(name)
	started := time.Now()

	opts := llm.Options{}
	if m, ok := r.cfg.Models[name]; ok {
		opts.Model = m.Model
		opts.Temperature = llm.Temp(m.Temperature)
	}
	messages := []llm.Message{
		llm.System(prompts.SystemPrompt(name)),
		llm.User(prompt),
	}

	done := make(chan outcome, 1)
	callCtx := context.WithoutCancel(ctx)
	go func() {
		resp, err := r.provider.FetchCompletion(callCtx, messages, opts)
		done <- outcome{resp, err}
	}()

	var expired <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var o outcome
	select {
	case o = <-done:
	case <-expired:
		return "", &Error{Reason: ReasonTimeout, Phase: name, Message: fmt.Sprintf("no reply after %s", r.timeout)}
	case <-ctx.Done():
		return "", &Error{Reason: ReasonTimeout, Phase: name, Err: ctx.Err()}
	}

	if o.err != nil {
		return "", &Error{Reason: ReasonProviderError, Phase: name, Err: o.err}
	}
	if !o.resp.OK {
		return "", &Error{
			Reason:  ReasonProviderError,
			Phase:   name,
			Message: fmt.Sprintf("status %d: %s", o.resp.Status, o.resp.ErrorMessage()),
		}
	}
	text, err := o.resp.Content()
	if err != nil {
		return "", &Error{Reason: ReasonProviderError, Phase: name, Err: err}
	}

	elapsed := time.Since(started)
	if r.result.Raw != nil {
		r.result.Raw[name] = text
	}
	r.result.Steps = append(r.result.Steps, StepResult{
		Name:     name,
		Summary:  fmt.Sprintf("%d characters from %s", len([]rune(text)), o.resp.Model),
		Duration: elapsed,
	})
	r.log.Debug("phase complete", "phase", name, "provider", o.resp.Provider, "model", o.resp.Model, "elapsed", elapsed)
	return text, nil
}

// emit reports a state to the progress callback. The callback cannot fail
// the run.
func (r *run) emit(state string) {
	if r.progress == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("progress callback panicked", "state", state, "panic", p)
		}
	}()
	r.progress(state)
}
