// Package filter evaluates CEL expressions against references, e.g.
// `category == "characters" && tag.startsWith("hero")`.
package filter

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/store"
)

var ErrInvalidFilter = errors.New("invalid filter")

var env *cel.Env

func init() {
	var err error
	env, err = cel.NewEnv(
		cel.Variable("tag", cel.StringType),
		cel.Variable("display_name", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("source_type", cel.StringType),
		cel.Variable("created_ts", cel.IntType),
		cel.Variable("updated_ts", cel.IntType),
	)
	if err != nil {
		panic(err)
	}
}

// Program is a compiled filter.
type Program struct {
	expr string
	prg  cel.Program
}

// Compile parses and type-checks expr.
func Compile(expr string) (*Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(ErrInvalidFilter, "%s: %v", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFilter, "%s: %v", expr, err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

// Match reports whether ref satisfies the filter.
func (p *Program) Match(ref *store.Reference) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any{
		"tag":          ref.Tag,
		"display_name": ref.DisplayName,
		"description":  ref.Description,
		"category":     string(ref.Category),
		"source_type":  string(ref.SourceType),
		"created_ts":   ref.CreatedTs,
		"updated_ts":   ref.UpdatedTs,
	})
	if err != nil {
		return false, errors.Wrapf(ErrInvalidFilter, "%s: %v", p.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.Wrapf(ErrInvalidFilter, "%s does not evaluate to a bool", p.expr)
	}
	return matched, nil
}

// Apply keeps the references matching the filter, in order.
func (p *Program) Apply(refs []*store.Reference) ([]*store.Reference, error) {
	out := make([]*store.Reference, 0, len(refs))
	for _, ref := range refs {
		ok, err := p.Match(ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref)
		}
	}
	return out, nil
}
