// Package condition evaluates webhook conditions with CEL.
//
// The only variable in scope is doc, a read-only map of the document's
// fields. A condition matches when its result is truthy: true, a non-empty
// string, list, map or bytes value, or a non-zero number.
package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/watzon/docwebhooks/internal/doctype"
)

var (
	ErrInvalidCondition = errors.New("invalid condition expression")
	ErrEvaluation       = errors.New("condition evaluation failed")
)

const (
	defaultCostLimit   = 100_000
	interruptFrequency = 100
)

// Evaluator compiles and caches condition programs by expression text.
type Evaluator struct {
	env       *cel.Env
	costLimit uint64

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &Evaluator{
		env:       env,
		costLimit: defaultCostLimit,
		programs:  make(map[string]cel.Program),
	}, nil
}

// Compile checks that expr is a valid condition without evaluating it.
func (e *Evaluator) Compile(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := e.program(expr)
	return err
}

// Matches reports whether doc satisfies expr. An empty expression always
// matches. Any compile or runtime error is returned with a false result.
func (e *Evaluator) Matches(doc *doctype.Document, expr string) (bool, error) {
	return e.MatchesContext(context.Background(), doc, expr)
}

func (e *Evaluator) MatchesContext(ctx context.Context, doc *doctype.Document, expr string) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	program, err := e.program(expr)
	if err != nil {
		return false, err
	}

	fields := map[string]any{}
	if doc != nil {
		fields = doc.AsMap()
	}

	result, _, err := program.ContextEval(ctx, map[string]any{"doc": fields})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	return truthy(result)
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCondition, issues.Err())
	}

	program, err := e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(interruptFrequency),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating program: %w", ErrInvalidCondition, err)
	}

	e.mu.Lock()
	e.programs[expr] = program
	e.mu.Unlock()

	return program, nil
}

func truthy(v ref.Val) (bool, error) {
	switch val := v.(type) {
	case types.Bool:
		return bool(val), nil
	case types.String:
		return val != "", nil
	case types.Int:
		return val != 0, nil
	case types.Uint:
		return val != 0, nil
	case types.Double:
		return val != 0, nil
	case types.Bytes:
		return len(val) > 0, nil
	case types.Null:
		return false, nil
	case traits.Sizer:
		if n, ok := val.Size().(types.Int); ok {
			return n > 0, nil
		}
	}
	return false, fmt.Errorf("%w: unsupported result type %s", ErrEvaluation, v.Type().TypeName())
}
