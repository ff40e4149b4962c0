package document

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Policy is an optional CEL filter evaluated against the mapped document,
// exposed to the expression as the map variable `post`.
//
//	post.post_type == "post" && !("private" in post.terms)
type Policy struct {
	expression string
	program    cel.Program
}

// NewPolicy compiles expression. An empty expression yields a nil policy,
// which allows everything.
func NewPolicy(expression string) (*Policy, error) {
	if expression == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("post", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid index filter: %w", issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL program: %w", err)
	}

	return &Policy{expression: expression, program: program}, nil
}

func (p *Policy) String() string {
	if p == nil {
		return ""
	}
	return p.expression
}

// Allows reports whether post passes the filter.
func (p *Policy) Allows(post *Post) (bool, error) {
	if p == nil {
		return true, nil
	}

	encoded, err := json.Marshal(post)
	if err != nil {
		return false, fmt.Errorf("failed to encode post for index filter: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(encoded, &input); err != nil {
		return false, fmt.Errorf("failed to decode post for index filter: %w", err)
	}

	out, _, err := p.program.Eval(map[string]any{"post": input})
	if err != nil {
		return false, fmt.Errorf("index filter evaluation error: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("index filter must return boolean, got %T", out.Value())
	}
	return allowed, nil
}
