// Package cel compiles CEL expressions that derive rate-limit caller keys from
// request attributes, e.g. `header(headers, "X-Tenant") != "" ? header(headers, "X-Tenant") : ip`.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/gatekeep"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/ratelimit"
)

// maxExpressionLength is the maximum allowed length for key expressions.
const maxExpressionLength = 1024

// maxCostBudget caps runtime cost per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation; keys are computed on every request.
const evalTimeout = 50 * time.Millisecond

// interruptCheckFreq is how often (in comprehension iterations) cancellation is checked.
const interruptCheckFreq = 100

// ErrEmptyKey is returned when an expression evaluates to the empty string.
var ErrEmptyKey = errors.New("key expression produced an empty key")

// KeyExpression is a compiled caller-key expression.
type KeyExpression struct {
	source string
	prg    cel.Program
}

// Compile validates and compiles expr. The expression must return a string.
func Compile(expr string) (*KeyExpression, error) {
	if expr == "" {
		return nil, errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return nil, err
	}

	env, err := NewKeyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create key environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.StringType) {
		return nil, fmt.Errorf("key expression must return string, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return &KeyExpression{source: expr, prg: prg}, nil
}

// validateNesting rejects expressions nested deeper than maxNestingDepth.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// String returns the expression source.
func (k *KeyExpression) String() string {
	return k.source
}

// Evaluate computes the key value for req.
func (k *KeyExpression) Evaluate(ctx context.Context, req gatekeep.Request) (string, error) {
	headers := req.Header
	if headers == nil {
		headers = map[string]string{}
	}
	activation := map[string]any{
		"ip":      req.Source,
		"method":  req.Method,
		"path":    req.Path,
		"headers": headers,
	}

	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := k.prg.ContextEval(ctx, activation)
	if err != nil {
		return "", fmt.Errorf("evaluation failed: %w", err)
	}

	s, ok := result.Value().(string)
	if !ok {
		return "", fmt.Errorf("expression did not return a string, got %T", result.Value())
	}
	if s == "" {
		return "", ErrEmptyKey
	}
	return s, nil
}

// KeyFunc adapts the expression to the pipeline. Keys are namespaced as custom keys
// so they cannot collide with address-derived ones.
func (k *KeyExpression) KeyFunc() gatekeep.KeyFunc {
	return func(ctx context.Context, req gatekeep.Request) (ratelimit.CallerKey, error) {
		v, err := k.Evaluate(ctx, req)
		if err != nil {
			return "", err
		}
		return ratelimit.FormatKey(ratelimit.KeyTypeCustom, v), nil
	}
}
