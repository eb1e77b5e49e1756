package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/veds-platform/constraints/constraint"
)

// Engine evaluates candidate routes against the active constraint set,
// reading either the authoritative store or the last published cache
// generation. Evaluation is stateless and safe for concurrent use; the
// only mutable state is the compiled-program cache for CEL custom
// constraints, guarded by a RWMutex.
type Engine struct {
	store   constraint.Store
	cache   constraint.CacheClient
	metrics *Metrics
	log     *slog.Logger

	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]compiledProgram
}

// compiledProgram is one cached CEL program, pinned to the constraint
// version it was compiled from.
type compiledProgram struct {
	version int
	prog    cel.Program
}

// celCostLimit caps CEL evaluation cost so a pathological custom
// expression cannot exhaust the evaluation path.
const celCostLimit = 1_000_000

// defaultMinWageCents applies when a segment's country has no cached wage
// floor of its own.
const defaultMinWageCents = 800

func New(store constraint.Store, cache constraint.CacheClient, metrics *Metrics, log *slog.Logger) (*Engine, error) {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.Variable("Route", cel.DynType),
		cel.Variable("Shipment", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Engine{
		store:    store,
		cache:    cache,
		metrics:  metrics,
		log:      log,
		env:      env,
		programs: make(map[string]compiledProgram),
	}, nil
}

// Metrics exposes the engine's collectors for mounting at /metrics.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// EvaluateRoute evaluates a route against the active constraint set read
// from the authoritative store. If the set cannot be read at all, the
// error is returned as a single top-level failure — never an empty report.
func (e *Engine) EvaluateRoute(ctx context.Context, route *constraint.Route, shipment *constraint.Shipment) (*constraint.EvaluationReport, error) {
	start := time.Now()
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active constraints: %w", err)
	}
	results := make([]constraint.ConstraintResult, 0, len(active))
	for _, c := range byPriority(active) {
		if !c.Scope.AppliesTo(route, shipment) {
			continue
		}
		results = append(results, e.evaluateConstraint(c, route, shipment))
	}
	return e.report(route, results, start), nil
}

// EvaluateRouteCached evaluates against the last published cache
// generation instead of the store. The cache is an eventually-consistent
// projection bounded by the sync interval; a cache that has never
// published a generation reads as ErrCacheUnavailable rather than as an
// empty (trivially passing) constraint set.
func (e *Engine) EvaluateRouteCached(ctx context.Context, route *constraint.Route, shipment *constraint.Shipment) (*constraint.EvaluationReport, error) {
	start := time.Now()
	snap, err := LoadSnapshot(ctx, e.cache)
	if err != nil {
		return nil, err
	}

	var results []constraint.ConstraintResult
	results = append(results, checkSanctioned(snap, route))
	results = append(results, checkMinWage(snap, route))
	if len(snap.MaxHours) > 0 {
		results = append(results, checkMaxHours(snap, route))
	}
	if snap.CarbonBudget != nil {
		results = append(results, checkCarbonBudget(snap, route))
	}
	for _, c := range byPriority(snap.Custom) {
		if !c.Scope.AppliesTo(route, shipment) {
			continue
		}
		results = append(results, e.evaluateConstraint(c, route, shipment))
	}
	return e.report(route, results, start), nil
}

// evaluateConstraint runs one constraint in isolation. Failures of any
// kind — unresolved fields, CEL errors, a constraint with no executable
// expression — degrade to passed=false for that constraint only.
func (e *Engine) evaluateConstraint(c *constraint.Constraint, route *constraint.Route, shipment *constraint.Shipment) constraint.ConstraintResult {
	result := constraint.ConstraintResult{
		ConstraintID: c.ID,
		Type:         c.Type,
		Hard:         c.Hard,
	}

	switch {
	case c.Expression != nil:
		result.Passed = constraint.Evaluate(c.Expression, route, shipment)
		if !result.Passed {
			result.Violations = constraint.SegmentViolations(c.Expression, route, shipment)
		}
	case c.CELExpression != "":
		passed, err := e.evalCEL(c, route, shipment)
		if err != nil {
			e.log.Warn("custom constraint evaluation failed",
				slog.String("constraint_id", c.ID),
				slog.String("error", err.Error()))
			result.Message = fmt.Sprintf("%s: evaluation failed", c.Name)
			return result
		}
		result.Passed = passed
	default:
		result.Message = fmt.Sprintf("%s: no executable expression", c.Name)
		return result
	}

	if result.Passed {
		result.Score = 1.0
		result.Message = fmt.Sprintf("%s: satisfied", c.Name)
	} else {
		result.Message = fmt.Sprintf("%s: violated", c.Name)
		if len(result.Violations) > 0 {
			result.Message = fmt.Sprintf("%s: violated by segments %s", c.Name, strings.Join(result.Violations, ", "))
		}
	}
	return result
}

func (e *Engine) evalCEL(c *constraint.Constraint, route *constraint.Route, shipment *constraint.Shipment) (bool, error) {
	prog, err := e.program(c)
	if err != nil {
		return false, err
	}
	out, _, err := prog.Eval(celFacts(route, shipment))
	if err != nil {
		return false, err
	}
	passed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not produce a boolean")
	}
	return passed, nil
}

// program returns the compiled CEL program for a constraint, compiling on
// first use. The cache holds one program per constraint ID; compiling a
// newer version replaces the stale one, so updates never accumulate
// programs for versions that no longer evaluate.
func (e *Engine) program(c *constraint.Constraint) (cel.Program, error) {
	e.mu.RLock()
	entry, ok := e.programs[c.ID]
	e.mu.RUnlock()
	if ok && entry.version == c.Version {
		return entry.prog, nil
	}

	ast, issues := e.env.Compile(c.CELExpression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prog, err := e.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	e.mu.Lock()
	e.programs[c.ID] = compiledProgram{version: c.Version, prog: prog}
	e.mu.Unlock()
	return prog, nil
}

func (e *Engine) report(route *constraint.Route, results []constraint.ConstraintResult, start time.Time) *constraint.EvaluationReport {
	allHard := true
	total := 0.0
	for _, r := range results {
		if r.Hard && !r.Passed {
			allHard = false
		}
		total += r.Score
	}
	// A route with no applicable constraints is trivially satisfactory.
	score := 1.0
	if len(results) > 0 {
		score = total / float64(len(results))
	}

	e.metrics.evaluations.Inc()
	e.metrics.evalDuration.Observe(time.Since(start).Seconds())
	if !allHard {
		e.metrics.hardFailures.Inc()
	}

	return &constraint.EvaluationReport{
		RouteID:       route.ID,
		Results:       results,
		AllHardPassed: allHard,
		OverallScore:  score,
		EvaluatedAt:   time.Now().UTC(),
	}
}

// byPriority orders constraints highest priority first, id as tiebreak so
// reports are stable.
func byPriority(cs []*constraint.Constraint) []*constraint.Constraint {
	out := make([]*constraint.Constraint, len(cs))
	copy(out, cs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Flat cached-category checks, evaluated straight off the snapshot lookup
// tables without synthesizing expression trees.

func checkSanctioned(snap *Snapshot, route *constraint.Route) constraint.ConstraintResult {
	var violations []string
	for i := range route.Segments {
		if _, bad := snap.Sanctioned[route.Segments[i].CarrierCode]; bad {
			violations = append(violations, route.Segments[i].ID)
		}
	}
	return categoryResult("sanction-check", constraint.TypeSanction, true,
		len(violations) == 0, violations, "no sanctioned carriers", "sanctioned carrier on route")
}

func checkMinWage(snap *Snapshot, route *constraint.Route) constraint.ConstraintResult {
	var violations []string
	for i := range route.Segments {
		seg := &route.Segments[i]
		min, ok := snap.MinWageCents[seg.Country]
		if !ok {
			min = defaultMinWageCents
		}
		if seg.WageCents < min {
			violations = append(violations, seg.ID)
		}
	}
	return categoryResult("wage-minimum", constraint.TypeWage, true,
		len(violations) == 0, violations, "all segments meet wage floors", "segment wage below floor")
}

func checkMaxHours(snap *Snapshot, route *constraint.Route) constraint.ConstraintResult {
	var violations []string
	for i := range route.Segments {
		seg := &route.Segments[i]
		max, ok := snap.MaxHours[seg.Country]
		if !ok {
			continue
		}
		if seg.TransitHours > float64(max) {
			violations = append(violations, seg.ID)
		}
	}
	return categoryResult("hours-limit", constraint.TypeHours, true,
		len(violations) == 0, violations, "all segments within hours limits", "segment exceeds hours limit")
}

func checkCarbonBudget(snap *Snapshot, route *constraint.Route) constraint.ConstraintResult {
	passed := route.TotalCarbonKG <= *snap.CarbonBudget
	return categoryResult("carbon-budget", constraint.TypeCarbon, false,
		passed, nil,
		fmt.Sprintf("carbon %.1fkg within budget %.1fkg", route.TotalCarbonKG, *snap.CarbonBudget),
		fmt.Sprintf("carbon %.1fkg exceeds budget %.1fkg", route.TotalCarbonKG, *snap.CarbonBudget))
}

func categoryResult(id string, typ constraint.ConstraintType, hard, passed bool, violations []string, okMsg, failMsg string) constraint.ConstraintResult {
	r := constraint.ConstraintResult{
		ConstraintID: id,
		Type:         typ,
		Hard:         hard,
		Passed:       passed,
		Violations:   violations,
		Message:      failMsg,
	}
	if passed {
		r.Score = 1.0
		r.Message = okMsg
	}
	return r
}

// celFacts flattens the route and shipment into the map form the CEL
// environment declares.
func celFacts(route *constraint.Route, shipment *constraint.Shipment) map[string]any {
	segments := make([]map[string]any, 0, len(route.Segments))
	for i := range route.Segments {
		s := &route.Segments[i]
		segments = append(segments, map[string]any{
			"ID":           s.ID,
			"Sequence":     s.Sequence,
			"Country":      s.Country,
			"Mode":         s.Mode,
			"CarrierCode":  s.CarrierCode,
			"DistanceKM":   s.DistanceKM,
			"CostUSD":      s.CostUSD,
			"TransitHours": s.TransitHours,
			"CarbonKG":     s.CarbonKG,
			"WageCents":    s.WageCents,
			"SafetyRating": s.SafetyRating,
			"Unionized":    s.Unionized,
		})
	}
	facts := map[string]any{
		"Route": map[string]any{
			"ID":              route.ID,
			"TotalCostUSD":    route.TotalCostUSD,
			"TotalTimeHours":  route.TotalTimeHours,
			"TotalCarbonKG":   route.TotalCarbonKG,
			"TotalDistanceKM": route.TotalDistanceKM,
			"LaborScore":      route.LaborScore,
			"SegmentCount":    len(route.Segments),
			"Segments":        segments,
		},
	}
	if shipment != nil {
		facts["Shipment"] = map[string]any{
			"ID":         shipment.ID,
			"CustomerID": shipment.CustomerID,
			"WeightKG":   shipment.WeightKG,
			"Priority":   shipment.Priority,
		}
	}
	return facts
}
