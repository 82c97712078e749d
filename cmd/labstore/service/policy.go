package service

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// UploadPolicy decides which uploads are accepted. The rule is a CEL
// expression over name (string), size (int, bytes) and category (string)
// that must evaluate to a bool.
type UploadPolicy struct {
	rule     string
	prg      cel.Program
	maxBytes int64
}

// NewUploadPolicy compiles rule. maxBytes <= 0 disables the size bound.
func NewUploadPolicy(rule string, maxBytes int64) (*UploadPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("category", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("upload rule must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &UploadPolicy{
		rule:     rule,
		prg:      prg,
		maxBytes: maxBytes,
	}, nil
}

// Rule returns the source expression
func (p *UploadPolicy) Rule() string {
	return p.rule
}

// Check returns ErrRejected when the upload is not allowed
func (p *UploadPolicy) Check(category, name string, size int64) error {
	if p.maxBytes > 0 && size > p.maxBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrRejected, name, size, p.maxBytes)
	}

	out, _, err := p.prg.Eval(map[string]any{
		"name":     name,
		"size":     size,
		"category": category,
	})
	if err != nil {
		return fmt.Errorf("CEL evaluation error: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	if !allowed {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrRejected, name, p.rule)
	}
	return nil
}
