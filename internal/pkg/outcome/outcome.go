// Package outcome holds the result kinds shared by the membership and billing
// operations. Lookup and state failures are reported as a Kind, not an error,
// so callers can render them inline.
package outcome

type Kind string

const (
	Success                Kind = "success"
	NotFound               Kind = "not_found"
	AlreadyInState         Kind = "already_in_state"
	ExternalServiceFailure Kind = "external_service_failure"
	Unauthorized           Kind = "unauthorized"
)

func (k Kind) OK() bool {
	return k == Success
}

func (k Kind) String() string {
	return string(k)
}
