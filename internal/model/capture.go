package model

import "encoding/json"

// ClientInfo is the browser metadata embedded in a capture's constants.
type ClientInfo struct {
	Name        string `json:"name,omitempty"`
	Version     string `json:"version,omitempty"`
	OS          string `json:"os_type,omitempty"`
	CL          string `json:"cl,omitempty"`
	CommandLine string `json:"command_line,omitempty"`
}

// DecodeError records one event that could not be decoded. The rest of the
// capture is still usable.
type DecodeError struct {
	Index int    `json:"index"`
	Err   string `json:"error"`
}

// Capture is a fully materialized netlog. It is read once and treated as
// immutable for the rest of the run.
type Capture struct {
	Path         string
	Constants    json.RawMessage
	Client       ClientInfo
	Events       []Event
	DecodeErrors []DecodeError
	Repaired     bool
}
