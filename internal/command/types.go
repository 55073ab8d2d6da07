// Package command implements the command pipeline: a bounded in-process
// queue that accepts requests received over the session, dispatches them
// to per-type handlers with timeout and cancellation, and produces
// structured results handed back to the session manager.
package command

import "encoding/json"

// Type enumerates the command variants. Dispatch is by this tag, resolved
// through the table built in NewHandlerTable.
type Type string

const (
	TypeConsole           Type = "Console"
	TypeSystemAction      Type = "SystemAction"
	TypeSoftwareInstall   Type = "SoftwareInstall"
	TypeSoftwareUninstall Type = "SoftwareUninstall"
	TypeGetLogs           Type = "GetLogs"
)

// Reserved exit codes the pipeline itself assigns. Handlers must never
// return these values from a normal completion.
const (
	ExitTimeout   = -1
	ExitCancelled = -2
	ExitUncaught  = -99
)

// Request is the immutable, as-received command. Params is kept as raw
// JSON values so handlers can decode only the fields they need.
type Request struct {
	CommandID   string                     `json:"command_id"`
	CommandType Type                       `json:"command_type"`
	CommandText string                     `json:"command_text"`
	Params      map[string]json.RawMessage `json:"params"`

	// seq is assigned by the pipeline at enqueue time; monotonic within a
	// pipeline's lifetime. Not part of the wire format.
	seq uint64
}

// paramInt decodes an integer-valued param, returning ok=false if the key
// is absent or not a valid number.
func (r *Request) paramInt(key string) (int, bool) {
	raw, ok := r.Params[key]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return int(v), true
}

// paramString decodes a string-valued param.
func (r *Request) paramString(key string) (string, bool) {
	raw, ok := r.Params[key]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// paramBool decodes a bool-valued param.
func (r *Request) paramBool(key string) (bool, bool) {
	raw, ok := r.Params[key]
	if !ok {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

// expectedExitCodes decodes params.expected_exit_codes as a list of ints.
// A parse failure returns ok=false; the caller falls back to the
// exit-code-zero rule and logs a warning rather than failing the command.
func (r *Request) expectedExitCodes() ([]int, bool) {
	raw, ok := r.Params["expected_exit_codes"]
	if !ok {
		return nil, false
	}
	var v []int
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// TimeoutSec returns params.timeout_sec if present and positive.
func (r *Request) TimeoutSec() (int, bool) {
	v, ok := r.paramInt("timeout_sec")
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// Output is the per-command outcome produced by a handler.
type Output struct {
	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	ExitCode     int    `json:"exit_code"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// Result is the final, wire-ready outcome of a Request.
type Result struct {
	CommandID   string `json:"command_id"`
	CommandType Type   `json:"command_type"`
	Success     bool   `json:"success"`
	Output      Output `json:"output"`
}

// isSuccess applies the success rule: exit_code == 0, or exit_code is a
// member of expected (if the list parsed), and error_message is empty.
func isSuccess(output Output, expected []int, expectedOK bool) bool {
	if output.ErrorMessage != "" {
		return false
	}
	if output.ExitCode == 0 {
		return true
	}
	if !expectedOK {
		return false
	}
	for _, c := range expected {
		if c == output.ExitCode {
			return true
		}
	}
	return false
}
