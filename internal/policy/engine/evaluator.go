package engine

import "context"

// Input carries everything the policy needs to decide a scoped token request.
// Principal is the user id, or "pat:<id>" for personal access tokens.
type Input struct {
	Principal       string
	OrgID           string
	DeviceID        string
	MemberRole      string
	MemberScopes    []string
	TopicGrants     []string
	RequestedScopes []string
	RequestedTopics []string
}

// Decision is the policy outcome: the subset of the request the token may
// carry. Anything requested but not allowed was denied.
type Decision struct {
	AllowedScopes []string
	AllowedTopics []string
}

// Evaluator decides scope and topic grants for scoped token minting.
type Evaluator interface {
	Authorize(ctx context.Context, in Input) (Decision, error)
}
