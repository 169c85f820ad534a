// Package celengine evaluates CEL eligibility rules against member
// attributes. Rules must yield a bool.
package celengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// Attribute names a rule may reference.
const (
	AttrLevel          = "level"
	AttrBalance        = "balance"
	AttrTotalEarned    = "total_earned"
	AttrTotalWithdrawn = "total_withdrawn"
	AttrAccountAgeDays = "account_age_days"
	AttrRole           = "role"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error

	programs = sync.Map{}
)

func memberEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable(AttrLevel, cel.IntType),
			cel.Variable(AttrBalance, cel.IntType),
			cel.Variable(AttrTotalEarned, cel.IntType),
			cel.Variable(AttrTotalWithdrawn, cel.IntType),
			cel.Variable(AttrAccountAgeDays, cel.IntType),
			cel.Variable(AttrRole, cel.StringType),
		)
	})
	return env, envErr
}

// Member is the attribute set a rule sees. Money values are in cents.
type Member struct {
	Level          int
	Balance        int64
	TotalEarned    int64
	TotalWithdrawn int64
	CreatedAt      time.Time
	Role           string
}

func (m Member) Attributes(now time.Time) map[string]any {
	age := int64(0)
	if !m.CreatedAt.IsZero() && now.After(m.CreatedAt) {
		age = int64(now.Sub(m.CreatedAt) / (24 * time.Hour))
	}
	return map[string]any{
		AttrLevel:          int64(m.Level),
		AttrBalance:        m.Balance,
		AttrTotalEarned:    m.TotalEarned,
		AttrTotalWithdrawn: m.TotalWithdrawn,
		AttrAccountAgeDays: age,
		AttrRole:           m.Role,
	}
}

func compile(expr string) (cel.Program, error) {
	if v, ok := programs.Load(expr); ok {
		return v.(cel.Program), nil
	}

	e, err := memberEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, err
	}

	programs.Store(expr, prg)
	return prg, nil
}

// Validate compiles expr without evaluating it.
func Validate(expr string) error {
	_, err := compile(expr)
	return err
}

func Evaluate(expr string, attrs map[string]any) (bool, error) {
	prg, err := compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}
