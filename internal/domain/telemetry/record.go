// Package telemetry provides the domain model for road-surface telemetry:
// typed agent records, wire-format validation, and the road-state classifier.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoadState is the classified condition of the road surface.
type RoadState string

const (
	RoadStateBad RoadState = "Bad"
	RoadStateOK  RoadState = "OK"
)

// DefaultUserID is assigned when an inbound record carries no user id.
const DefaultUserID int64 = 1

// roadStateYThreshold is the vertical-acceleration cutoff below which the
// surface is classified as bad.
const roadStateYThreshold = -0.5

// Accelerometer is a single three-axis accelerometer sample.
type Accelerometer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GPS is a single positioning sample.
type GPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AgentData is one validated telemetry reading from an edge agent.
type AgentData struct {
	UserID        int64         `json:"user_id"`
	Accelerometer Accelerometer `json:"accelerometer"`
	GPS           GPS           `json:"gps"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ProcessedAgentData is an agent reading with its classified road state.
// Instances are built only by ParseProcessedAgentData and are immutable
// from the caller's point of view.
type ProcessedAgentData struct {
	RoadState RoadState `json:"road_state"`
	AgentData AgentData `json:"agent_data"`
}

// ValidationError describes a malformed inbound record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Reason)
}

// ClassifyRoadState applies the road-surface rule to a vertical acceleration
// reading.
func ClassifyRoadState(y float64) RoadState {
	if y < roadStateYThreshold {
		return RoadStateBad
	}
	return RoadStateOK
}

// Wire-format structs. Pointer fields distinguish "absent" from zero so that
// missing required numerics fail validation instead of defaulting silently.
type wireAccelerometer struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

type wireGPS struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type wireAgentData struct {
	UserID        *int64             `json:"user_id"`
	Accelerometer *wireAccelerometer `json:"accelerometer"`
	GPS           *wireGPS           `json:"gps"`
	Timestamp     *string            `json:"timestamp"`
}

type wireProcessedAgentData struct {
	RoadState string         `json:"road_state"`
	AgentData *wireAgentData `json:"agent_data"`
}

// timestampLayouts are the accepted ISO-8601 shapes, tried in order. Agents in
// the field emit both zoned RFC 3339 and naive isoformat timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp string.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, &ValidationError{
		Field:  "agent_data.timestamp",
		Reason: fmt.Sprintf("%q is not an ISO 8601 datetime", value),
	}
}

// ParseProcessedAgentData decodes and validates a single inbound record.
// The road state is recomputed from the accelerometer reading regardless of
// what the payload claims, so stored classifications stay consistent across
// producers. A missing user_id defaults to DefaultUserID.
func ParseProcessedAgentData(data []byte) (ProcessedAgentData, error) {
	var wire wireProcessedAgentData
	if err := json.Unmarshal(data, &wire); err != nil {
		// Undecodable bodies are not validation failures; callers
		// distinguish the two by error type.
		return ProcessedAgentData{}, fmt.Errorf("decode record: %w", err)
	}
	return wire.validate()
}

func (w *wireProcessedAgentData) validate() (ProcessedAgentData, error) {
	if w.AgentData == nil {
		return ProcessedAgentData{}, &ValidationError{Field: "agent_data", Reason: "required"}
	}
	ad := w.AgentData

	if ad.Accelerometer == nil {
		return ProcessedAgentData{}, &ValidationError{Field: "agent_data.accelerometer", Reason: "required"}
	}
	if ad.Accelerometer.X == nil || ad.Accelerometer.Y == nil || ad.Accelerometer.Z == nil {
		return ProcessedAgentData{}, &ValidationError{Field: "agent_data.accelerometer", Reason: "x, y and z are required numbers"}
	}

	if ad.GPS == nil {
		return ProcessedAgentData{}, &ValidationError{Field: "agent_data.gps", Reason: "required"}
	}
	if ad.GPS.Latitude == nil || ad.GPS.Longitude == nil {
		return ProcessedAgentData{}, &ValidationError{Field: "agent_data.gps", Reason: "latitude and longitude are required numbers"}
	}

	if ad.Timestamp == nil {
		return ProcessedAgentData{}, &ValidationError{Field: "agent_data.timestamp", Reason: "required"}
	}
	ts, err := ParseTimestamp(*ad.Timestamp)
	if err != nil {
		return ProcessedAgentData{}, err
	}

	userID := DefaultUserID
	if ad.UserID != nil {
		userID = *ad.UserID
	}

	return ProcessedAgentData{
		RoadState: ClassifyRoadState(*ad.Accelerometer.Y),
		AgentData: AgentData{
			UserID: userID,
			Accelerometer: Accelerometer{
				X: *ad.Accelerometer.X,
				Y: *ad.Accelerometer.Y,
				Z: *ad.Accelerometer.Z,
			},
			GPS: GPS{
				Latitude:  *ad.GPS.Latitude,
				Longitude: *ad.GPS.Longitude,
			},
			Timestamp: ts,
		},
	}, nil
}
