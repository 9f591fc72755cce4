package model

// EntryType classifies a LogEntry. Ref: SPEC_FULL.md #4.6 (Telemetry).
type EntryType string

const (
	EntryTypeRequest  EntryType = "Request"
	EntryTypeResponse EntryType = "Response"
	EntryTypeError    EntryType = "Error"
	EntryTypeInfo     EntryType = "Info"
)

// LogEntry is a single structured telemetry event emitted out-of-band to the
// controlling process: one per request, response/error, and lifecycle event.
type LogEntry struct {
	ID           uint64    `json:"id"`
	Timestamp    string    `json:"timestamp"`
	EntryType    EntryType `json:"entryType"`
	ClientAddr   string    `json:"clientAddr"`
	FunctionCode *uint8    `json:"functionCode,omitempty"`
	FunctionName string    `json:"functionName,omitempty"`
	Summary      string    `json:"summary"`
	RawData      string    `json:"rawData,omitempty"`
	DurationUs   *uint64   `json:"durationUs,omitempty"`
}
