package models

import "time"

// ActiveAlert is a monitoring alert currently raised on the estate.
type ActiveAlert struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message,omitempty"`
	RaisedAt     time.Time `json:"raised_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// BlockingChain describes one blocked session observed on the database.
type BlockingChain struct {
	BlockingSessionID int     `json:"blocking_session_id"`
	BlockedSessionID  int     `json:"blocked_session_id"`
	WaitSeconds       float64 `json:"wait_seconds"`
	Resource          string  `json:"resource,omitempty"`
	Query             string  `json:"query,omitempty"`
}

// SignalSnapshot is an immutable, timestamped bundle of the latest KPI,
// health, alert, and blocking telemetry. Produced by the signal collector;
// never mutated by the engine.
type SignalSnapshot struct {
	At       time.Time          `json:"at"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Facts    map[string]string  `json:"facts,omitempty"`
	Alerts   []ActiveAlert      `json:"alerts,omitempty"`
	Blocking []BlockingChain    `json:"blocking,omitempty"`
}

// Derived numeric field names computed from the alert and blocking lists so
// trigger expressions can reference them like plain KPI metrics.
const (
	FieldAlertCount         = "alert_count"
	FieldBlockingCount      = "blocking_count"
	FieldMaxBlockingSeconds = "max_blocking_seconds"
)

// Numeric looks up a numeric signal field by name. Derived fields are computed
// on the fly; everything else comes from the KPI metric map. The second return
// is false when the field is absent from this snapshot.
func (s *SignalSnapshot) Numeric(name string) (float64, bool) {
	switch name {
	case FieldAlertCount:
		return float64(len(s.Alerts)), true
	case FieldBlockingCount:
		return float64(len(s.Blocking)), true
	case FieldMaxBlockingSeconds:
		var peak float64
		for _, b := range s.Blocking {
			if b.WaitSeconds > peak {
				peak = b.WaitSeconds
			}
		}
		return peak, true
	}
	v, ok := s.Metrics[name]
	return v, ok
}

// Text looks up a string signal field by name.
func (s *SignalSnapshot) Text(name string) (string, bool) {
	v, ok := s.Facts[name]
	return v, ok
}

// HasAlertType reports whether an unacknowledged alert of the given type is active.
func (s *SignalSnapshot) HasAlertType(alertType string) bool {
	for _, a := range s.Alerts {
		if a.Type == alertType && !a.Acknowledged {
			return true
		}
	}
	return false
}
