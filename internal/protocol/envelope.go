// Package protocol defines the wire envelope and event names carried over
// the session manager's bidirectional event transport: a single JSON
// envelope with a discriminator field the receiver switches on.
package protocol

import "encoding/json"

// Event names, inbound and outbound.
const (
	EventAuthSuccess      = "auth_success"
	EventAuthFailed       = "auth_failed"
	EventCommandExecute   = "command.execute"
	EventVersionAvailable = "version.available"

	EventStatusUpdate  = "status.update"
	EventCommandResult = "command.result"
	EventUpdateStatus  = "update.status"
)

// Envelope is the single JSON frame shape exchanged in both directions.
// Payload is re-decoded by the receiver according to Event.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Identification carries the three transport-level identification fields
// sent once per connection: client-type tag, agent ID, bearer token. It
// rides on the WebSocket handshake as a JSON message sent immediately
// after the connection opens, before any Envelope frames.
type Identification struct {
	ClientType string `json:"client_type"`
	AgentID    string `json:"agent_id"`
	Token      string `json:"token"`
}

// AuthFailedPayload is the payload of an auth_failed event. Retryable
// marks rejections the control plane considers recoverable with a fresh
// token (an expired bearer token, not a revoked agent).
type AuthFailedPayload struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StatusUpdatePayload is the outbound status.update payload.
type StatusUpdatePayload struct {
	CPUUsage  float64 `json:"cpu_usage"`
	RAMUsage  float64 `json:"ram_usage"`
	DiskUsage float64 `json:"disk_usage"`
}

// UpdateStatusPayload is the outbound update.status payload.
type UpdateStatusPayload struct {
	Status        string `json:"status"` // starting|downloading|verifying|extracting|handing_off|failed|skipped
	TargetVersion string `json:"target_version"`
	ErrorType     string `json:"error_type,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// UpdateNotification is the inbound version.available payload.
type UpdateNotification struct {
	Version        string `json:"version"`
	DownloadURL    string `json:"download_url"`
	ChecksumSHA256 string `json:"checksum_sha256"`
	Notes          string `json:"notes,omitempty"`
}

// Encode marshals v into an Envelope with the given event name.
func Encode(event string, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: raw}, nil
}
