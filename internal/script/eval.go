// Package script evaluates the survey expression language: pre-scripts that
// decide whether a question is shown and validation scripts that gate
// progression. Scripts run against a flat map of answer values keyed by
// question short name. Evaluation is fail-open: a script that cannot be
// compiled or run never blocks the participant.
package script

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/opencohort/fieldlink/internal/models"
)

// Outcome of a pre-script evaluation.
type Outcome struct {
	Skip bool
	// Branch carries a named target when the script returned something other
	// than a boolean or nil. It is recorded but not dispatched as a jump.
	Branch string
}

// Continue reports whether the question should be shown.
func (o Outcome) Continue() bool { return !o.Skip }

// Evaluate compiles and runs a script against the given environment.
func Evaluate(script string, env map[string]any) (any, error) {
	if env == nil {
		env = map[string]any{}
	}
	program, err := expr.Compile(script, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// EvalPre evaluates a question's pre-script. A blank script and any
// evaluation failure both mean "continue". A false or nil result means
// "skip"; any other non-boolean result becomes a branch label.
func EvalPre(script string, env map[string]any) Outcome {
	if strings.TrimSpace(script) == "" {
		return Outcome{}
	}
	out, err := Evaluate(script, env)
	if err != nil {
		return Outcome{}
	}
	switch v := out.(type) {
	case nil:
		return Outcome{Skip: true}
	case bool:
		return Outcome{Skip: !v}
	default:
		return Outcome{Branch: fmt.Sprint(v)}
	}
}

// EvalValidation evaluates a question's validation script against the
// current answers. A blank script and any evaluation failure both mean the
// answer is acceptable. Only an explicit false or nil result blocks.
func EvalValidation(script string, env map[string]any) bool {
	if strings.TrimSpace(script) == "" {
		return true
	}
	out, err := Evaluate(script, env)
	if err != nil {
		return true
	}
	switch v := out.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// Context builds the expression environment from a survey's answers: every
// answer with a recorded value is bound under its question's short name, in
// survey order. A later duplicate short name overwrites an earlier binding.
func Context(questions []models.Question, answers []models.Answer) map[string]any {
	env := make(map[string]any, len(answers))
	for i := range answers {
		if i >= len(questions) {
			break
		}
		v := answers[i].Value()
		if v == nil {
			continue
		}
		name := questions[i].ShortName
		if name == "" {
			continue
		}
		env[name] = v
	}
	return env
}
