// Package advice maps a BMI and smoking status to health suggestions.
// Suggestions are CEL rules evaluated in declaration order.
package advice

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Rule pairs a boolean CEL expression over `bmi` (double) and
// `smoker` (bool) with the message shown when it matches.
type Rule struct {
	ID         string
	Expression string
	Message    string
}

// DefaultRules covers the four BMI bands and the smoking warning.
var DefaultRules = []Rule{
	{ID: "underweight", Expression: "bmi < 18.5", Message: "You are underweight. Consider a balanced diet with healthy fats."},
	{ID: "normal", Expression: "bmi >= 18.5 && bmi < 25.0", Message: "Your BMI is normal. Maintain a balanced diet and regular exercise."},
	{ID: "overweight", Expression: "bmi >= 25.0 && bmi < 30.0", Message: "You are overweight. Consider reducing sugar intake and increasing exercise."},
	{ID: "obese", Expression: "bmi >= 30.0", Message: "You are obese. Consult a doctor and adopt a healthier lifestyle."},
	{ID: "smoker", Expression: "smoker", Message: "Smoking increases health risks. Consider quitting for a healthier life."},
}

type compiled struct {
	rule Rule
	prog cel.Program
}

// Advisor is safe for concurrent use once built.
type Advisor struct {
	rules []compiled
}

// New compiles rules. A rule that fails to compile or does not produce a
// bool is rejected.
func New(rules []Rule) (*Advisor, error) {
	env, err := cel.NewEnv(
		cel.Variable("bmi", cel.DoubleType),
		cel.Variable("smoker", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	a := &Advisor{rules: make([]compiled, 0, len(rules))}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: compile error: %w", r.ID, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s: expression must be bool, got %s", r.ID, ast.OutputType())
		}
		prog, err := env.Program(ast, cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("rule %s: program creation error: %w", r.ID, err)
		}
		a.rules = append(a.rules, compiled{rule: r, prog: prog})
	}
	return a, nil
}

// NewDefault builds an Advisor from DefaultRules.
func NewDefault() (*Advisor, error) {
	return New(DefaultRules)
}

// Advise returns the messages of every matching rule.
func (a *Advisor) Advise(bmi float64, smoker bool) ([]string, error) {
	vars := map[string]any{"bmi": bmi, "smoker": smoker}

	var out []string
	for _, c := range a.rules {
		val, _, err := c.prog.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("rule %s: evaluation error: %w", c.rule.ID, err)
		}
		if matched, ok := val.Value().(bool); ok && matched {
			out = append(out, c.rule.Message)
		}
	}
	return out, nil
}
