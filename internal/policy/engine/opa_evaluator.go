package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"session-control-plane/internal/policy/repository"
)

const policyQuery = "data.scp.token_scopes"

// Default Rego policy: a scope is allowed when the membership carries it, a
// topic is allowed when a grant matches it exactly or by "<prefix>/*"
// wildcard. Orgs can layer their own modules on top via the policy repository.
const defaultRegoPolicy = `package scp.token_scopes

default allowed_scopes := []
default allowed_topics := []

allowed_scopes := [s |
	some s in input.requested.scopes
	s in input.membership.scopes
]

allowed_topics := [t |
	some t in input.requested.topics
	topic_granted(t)
]

topic_granted(t) if {
	some g in input.membership.topic_grants
	g == t
}

topic_granted(t) if {
	some g in input.membership.topic_grants
	endswith(g, "/*")
	startswith(t, trim_suffix(g, "*"))
}
`

// OPAEvaluator evaluates scoped token requests against in-process OPA Rego.
type OPAEvaluator struct {
	policyRepo repository.Repository
}

// NewOPAEvaluator returns an OPA-based evaluator. policyRepo may be nil; the
// default policy is then the only module.
func NewOPAEvaluator(policyRepo repository.Repository) *OPAEvaluator {
	return &OPAEvaluator{policyRepo: policyRepo}
}

// HealthCheck verifies the in-process Rego engine can compile and evaluate
// the default policy. Does not touch the policy repo or database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": defaultRegoPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	q := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
		rego.Input(buildInput(Input{})),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// Authorize evaluates the org's enabled policies (default policy when none
// exist) and returns the allowed subset of the request. A broken org policy
// is logged and the request falls back to the default policy rather than
// failing open or closed silently.
func (e *OPAEvaluator) Authorize(ctx context.Context, in Input) (Decision, error) {
	var modules []string
	if e.policyRepo != nil && in.OrgID != "" {
		policies, err := e.policyRepo.GetEnabledPoliciesByOrg(ctx, in.OrgID)
		if err != nil {
			log.Printf("policy: load policies for org %s: %v", in.OrgID, err)
		} else {
			for _, p := range policies {
				if p.Rules != "" {
					modules = append(modules, p.Rules)
				}
			}
		}
	}
	if len(modules) == 0 {
		modules = []string{defaultRegoPolicy}
	}

	decision, err := e.evaluate(ctx, modules, buildInput(in))
	if err != nil {
		log.Printf("policy: evaluation failed: %v, retrying with default policy", err)
		return e.evaluate(ctx, []string{defaultRegoPolicy}, buildInput(in))
	}
	return decision, nil
}

func (e *OPAEvaluator) evaluate(ctx context.Context, modules []string, input map[string]interface{}) (Decision, error) {
	compiled := make(map[string]string, len(modules))
	for i, m := range modules {
		compiled[fmt.Sprintf("policy_%d.rego", i)] = m
	}
	compiler, err := ast.CompileModules(compiled)
	if err != nil {
		return Decision{}, fmt.Errorf("compile policies: %w", err)
	}

	q := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("eval policies: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy document has unexpected shape")
	}
	return Decision{
		AllowedScopes: stringList(doc["allowed_scopes"]),
		AllowedTopics: stringList(doc["allowed_topics"]),
	}, nil
}

func buildInput(in Input) map[string]interface{} {
	return map[string]interface{}{
		"principal": map[string]interface{}{
			"id":        in.Principal,
			"org_id":    in.OrgID,
			"device_id": in.DeviceID,
		},
		"membership": map[string]interface{}{
			"role":         in.MemberRole,
			"scopes":       toIfaceList(in.MemberScopes),
			"topic_grants": toIfaceList(in.TopicGrants),
		},
		"requested": map[string]interface{}{
			"scopes": toIfaceList(in.RequestedScopes),
			"topics": toIfaceList(in.RequestedTopics),
		},
	}
}

func toIfaceList(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func stringList(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
