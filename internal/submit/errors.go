package submit

import "fmt"

// PolicyViolationError reports a bundle that asked for a transport the
// policy table does not permit at its value. It is a refusal, not a
// security incident.
type PolicyViolationError struct {
	Route  string
	Detail string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation on route %s: %s", e.Route, e.Detail)
}

// SecurityBreachError reports a submission that would have required a
// silent downgrade to a less protected transport. It always pairs with
// a security audit entry.
type SecurityBreachError struct {
	Route  string
	Detail string
}

func (e *SecurityBreachError) Error() string {
	return fmt.Sprintf("security breach on route %s: %s", e.Route, e.Detail)
}

// ApprovalRequiredError reports a decision still waiting on an operator
type ApprovalRequiredError struct {
	DecisionID string
	Status     ApprovalStatus
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("decision %s requires approval (status %s)", e.DecisionID, e.Status)
}
