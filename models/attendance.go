package models

import "encoding/json"

// Envelope is the response wrapper used by every HR API endpoint.
// StatusCode mirrors the HTTP status and is the value callers are
// expected to branch on; Data carries the endpoint-specific payload.
type Envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Ok reports whether the envelope carries a success status (200 or 201).
func (e Envelope) Ok() bool {
	return e.StatusCode == 200 || e.StatusCode == 201
}

// Location is a one-shot geolocation fix captured once per attendance session.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FaceCheckResult is the payload of POST /face/check: a cheap face count
// over a single image, used to reject bad captures before a full upload.
type FaceCheckResult struct {
	HasFace bool `json:"has_face"`
	Count   int  `json:"count"`
}

// AttendanceRecord is the payload returned by check-in/check-out on success.
type AttendanceRecord struct {
	EmployeeID string  `json:"employee_id"`
	Timestamp  string  `json:"timestamp"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence,omitempty"`
}
