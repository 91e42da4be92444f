package refresh

// Code classifies how a refresh attempt ended.
type Code int

const (
	CodeOK             Code = iota // Fresh data arrived.
	CodeBusy                       // Another attempt in flight. A rejection, not an error.
	CodeSpawnFailed                // No browsing surface could be provided.
	CodePrematureClose             // The surface was closed externally mid-attempt.
	CodeTimeout                    // Deadline exceeded with nothing conclusive.
	CodeLoginRequired              // No stored credentials; the user must log in.
	CodeLoginFailed                // Credentials present but the flow never reached the authenticated page.
	CodeMaintenance                // The portal reported or showed maintenance.
	CodePostLoginData              // Authenticated fine, but no data arrived.
	CodeUnknown                    // Unexpected internal fault, converted at the boundary.
)

// String returns the code's audit-log name.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeBusy:
		return "busy"
	case CodeSpawnFailed:
		return "spawn_failed"
	case CodePrematureClose:
		return "premature_close"
	case CodeTimeout:
		return "timeout"
	case CodeLoginRequired:
		return "login_required"
	case CodeLoginFailed:
		return "login_failed"
	case CodeMaintenance:
		return "maintenance"
	case CodePostLoginData:
		return "post_login_data_missing"
	default:
		return "unknown"
	}
}

// Result is the structured outcome of one refresh attempt. Run never raises
// past its boundary; every internal fault resolves to one of these.
type Result struct {
	Success     bool   `json:"success"`
	Code        Code   `json:"-"`
	CodeName    string `json:"code"`
	Err         string `json:"error,omitempty"`
	NeedsLogin  bool   `json:"needs_login,omitempty"`
	Maintenance bool   `json:"maintenance,omitempty"`
}

func newResult(code Code, errText string) Result {
	return Result{
		Success:     code == CodeOK,
		Code:        code,
		CodeName:    code.String(),
		Err:         errText,
		NeedsLogin:  code == CodeLoginRequired,
		Maintenance: code == CodeMaintenance,
	}
}

// CountsAsFailure reports whether the failure policy should count this
// outcome toward suspension. Success obviously not; Busy is a rejection;
// maintenance and missing credentials are external causes the user or the
// portal must resolve, not flakiness.
func (r Result) CountsAsFailure() bool {
	switch r.Code {
	case CodeOK, CodeBusy, CodeMaintenance, CodeLoginRequired:
		return false
	default:
		return true
	}
}
