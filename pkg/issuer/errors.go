package issuer

import "fmt"

// Stage names the step of issuance that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageKey      Stage = "key"
	StageRequest  Stage = "request"
	StageSign     Stage = "sign"
	StageEncode   Stage = "encode"
)

// IssueError reports a failed issuance.
type IssueError struct {
	Domain string
	Stage  Stage
	Err    error
}

func (e *IssueError) Error() string {
	return fmt.Sprintf("issue certificate for %q: %s: %v", e.Domain, e.Stage, e.Err)
}

func (e *IssueError) Unwrap() error {
	return e.Err
}
