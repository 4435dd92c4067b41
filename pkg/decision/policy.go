package decision

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
)

const policyModule = `
package medicagent.decision

default deny = false
default require_approval = false

deny {
	input.target_module == always_deny_modules[_]
}

require_approval {
	input.target_module == always_require_approval_modules[_]
}
`

// policyGate evaluates the always-deny / always-require-approval module
// lists as a Rego policy rather than a hard-coded set lookup, so operators
// can extend the policy later without a code change.
type policyGate struct {
	denyQuery     rego.PreparedEvalQuery
	approveQuery  rego.PreparedEvalQuery
}

func newPolicyGate(ctx context.Context, alwaysDeny, alwaysRequireApproval []string) (*policyGate, error) {
	data := map[string]interface{}{
		"always_deny_modules":             toInterfaceSlice(alwaysDeny),
		"always_require_approval_modules": toInterfaceSlice(alwaysRequireApproval),
	}

	denyQuery, err := rego.New(
		rego.Query("data.medicagent.decision.deny"),
		rego.Module("policy.rego", policyModule),
		rego.Store(inmem.NewFromObject(data)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare deny policy: %w", err)
	}

	approveQuery, err := rego.New(
		rego.Query("data.medicagent.decision.require_approval"),
		rego.Module("policy.rego", policyModule),
		rego.Store(inmem.NewFromObject(data)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare approval policy: %w", err)
	}

	return &policyGate{denyQuery: denyQuery, approveQuery: approveQuery}, nil
}

func (g *policyGate) isAlwaysDenied(ctx context.Context, module string) (bool, error) {
	return g.evalBool(ctx, g.denyQuery, module)
}

func (g *policyGate) requiresApproval(ctx context.Context, module string) (bool, error) {
	return g.evalBool(ctx, g.approveQuery, module)
}

func (g *policyGate) evalBool(ctx context.Context, query rego.PreparedEvalQuery, module string) (bool, error) {
	results, err := query.Eval(ctx, rego.EvalInput(map[string]interface{}{"target_module": module}))
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	verdict, _ := results[0].Expressions[0].Value.(bool)
	return verdict, nil
}

func toInterfaceSlice(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}
