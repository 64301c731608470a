package script

import (
	"testing"

	"github.com/opencohort/fieldlink/internal/models"
)

func TestEvalPreBlankContinues(t *testing.T) {
	for _, s := range []string{"", "   ", "\t"} {
		if out := EvalPre(s, nil); out.Skip {
			t.Fatalf("blank pre-script %q should continue", s)
		}
	}
}

func TestEvalPreBoolean(t *testing.T) {
	env := map[string]any{"gender": "F"}
	out := EvalPre(`gender == 'M'`, env)
	if !out.Skip {
		t.Fatalf("expected skip for gender mismatch")
	}
	out = EvalPre(`gender == 'F'`, env)
	if out.Skip {
		t.Fatalf("expected continue for gender match")
	}
}

func TestEvalPreBranchLabel(t *testing.T) {
	out := EvalPre(`'section_b'`, nil)
	if out.Skip {
		t.Fatalf("branch result must not skip")
	}
	if out.Branch != "section_b" {
		t.Fatalf("expected branch label, got %q", out.Branch)
	}
}

func TestEvalPreFailsOpen(t *testing.T) {
	out := EvalPre(`this is (not valid`, map[string]any{"x": 1})
	if out.Skip || out.Branch != "" {
		t.Fatalf("broken script must continue, got %+v", out)
	}
}

func TestEvalValidationBlankValid(t *testing.T) {
	if !EvalValidation("", nil) {
		t.Fatalf("blank validation script must be valid")
	}
}

func TestEvalValidationAgeGate(t *testing.T) {
	env := map[string]any{"age": float64(16)}
	if EvalValidation(`age >= 18`, env) {
		t.Fatalf("age 16 must be invalid")
	}
	env["age"] = float64(21)
	if !EvalValidation(`age >= 18`, env) {
		t.Fatalf("age 21 must be valid")
	}
}

func TestEvalValidationFailsOpen(t *testing.T) {
	if !EvalValidation(`broken ==`, map[string]any{}) {
		t.Fatalf("broken validation script must be valid")
	}
}

func TestEvalValidationNonBooleanValid(t *testing.T) {
	if !EvalValidation(`42`, nil) {
		t.Fatalf("non-boolean result must be valid")
	}
}

func float(v float64) *float64 { return &v }
func text(v string) *string    { return &v }
func idx(v int64) *int64       { return &v }

func TestContextBindsNonNullAnswers(t *testing.T) {
	questions := []models.Question{
		{ShortName: "age", Position: 0},
		{ShortName: "gender", Position: 1},
		{ShortName: "district", Position: 2},
	}
	answers := []models.Answer{
		{NumericValue: float(34)},
		{TextValue: text("F")},
		{},
	}
	env := Context(questions, answers)
	if len(env) != 2 {
		t.Fatalf("expected 2 bindings, got %d: %v", len(env), env)
	}
	if env["age"] != float64(34) || env["gender"] != "F" {
		t.Fatalf("unexpected bindings: %v", env)
	}
	if _, ok := env["district"]; ok {
		t.Fatalf("unanswered question must not be bound")
	}
}

func TestContextOptionPrecedence(t *testing.T) {
	questions := []models.Question{{ShortName: "route"}}
	answers := []models.Answer{{OptionIndex: idx(2), NumericValue: float(9), TextValue: text("x")}}
	env := Context(questions, answers)
	if env["route"] != int64(2) {
		t.Fatalf("option index must win, got %v", env["route"])
	}
}

func TestContextDuplicateShortNameLastWins(t *testing.T) {
	questions := []models.Question{
		{ShortName: "age"},
		{ShortName: "age"},
	}
	answers := []models.Answer{
		{NumericValue: float(20)},
		{NumericValue: float(30)},
	}
	env := Context(questions, answers)
	if env["age"] != float64(30) {
		t.Fatalf("later binding must overwrite earlier, got %v", env["age"])
	}
}
