package models

import "time"

// ProbeState enumerates the upstream reachability states.
type ProbeState string

const (
	ProbeUnknown ProbeState = "unknown"
	ProbeOK      ProbeState = "ok"
	ProbeDown    ProbeState = "down"
)

// UpstreamStatus is the result of the latest n8n reachability probe.
type UpstreamStatus struct {
	Status     ProbeState `json:"status"`
	HTTPStatus int        `json:"httpStatus,omitempty"`
	CheckedAt  *time.Time `json:"checkedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}
