package authorization

import "context"

// Service answers capability questions for the operator and scheduler
// surfaces. Per user ownership of areas, bowls and ledger rows is
// enforced in the domain services, not here.
type Service interface {
	// Authorize checks whether the actor may perform action on object.
	// Actors are "system" for scheduler jobs and "user:<id>" for
	// session authenticated calls.
	Authorize(ctx context.Context, actor string, object string, action string) error
}
