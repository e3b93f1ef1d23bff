package engine

import (
	"github.com/expr-lang/expr"
	"github.com/rs/zerolog"

	"surge-scanner/internal/errors"
	"surge-scanner/internal/graph"
	"surge-scanner/internal/logging"
)

// evaluator runs compiled condition expressions fail-closed: any evaluation
// error counts as "condition not satisfied", is logged and tallied, and the
// scan continues.
type evaluator struct {
	logger   zerolog.Logger
	failures map[string]int
}

func newEvaluator(logger zerolog.Logger) *evaluator {
	return &evaluator{
		logger:   logger,
		failures: make(map[string]int),
	}
}

func (e *evaluator) eval(c *graph.Condition, env map[string]interface{}) bool {
	out, err := expr.Run(c.Program(), env)
	if err != nil {
		e.fail(c, err)
		return false
	}
	b, ok := out.(bool)
	if !ok {
		e.fail(c, errors.ErrNotBoolean)
		return false
	}
	return b
}

func (e *evaluator) fail(c *graph.Condition, err error) {
	evalErr := errors.NewEvaluationError(c.Label, c.Expr, err)
	logging.LogEvalFailure(e.logger, c.Label, evalErr)
	e.failures[c.Label]++
}

// allTrue applies AND semantics over an ordered condition list.
func (e *evaluator) allTrue(conds []*graph.Condition, env map[string]interface{}) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !e.eval(c, env) {
			return false
		}
	}
	return true
}

// firstTrue applies OR semantics: conditions are evaluated in declared order
// and the first one that holds wins; the rest are not evaluated.
func (e *evaluator) firstTrue(conds []*graph.Condition, env map[string]interface{}) (*graph.Condition, bool) {
	for _, c := range conds {
		if e.eval(c, env) {
			return c, true
		}
	}
	return nil, false
}
