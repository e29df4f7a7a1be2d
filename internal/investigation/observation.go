package investigation

import "time"

// Observation is a finding recorded from a tool invocation.
type Observation struct {
	ID          string                 `json:"id"`
	ToolName    string                 `json:"tool_name"`
	Summary     string                 `json:"summary"`
	RawData     interface{}            `json:"raw_data,omitempty"`
	Significant bool                   `json:"significant"`
	RecordedAt  time.Time              `json:"recorded_at"`
	ToolParams  map[string]interface{} `json:"tool_params,omitempty"`
}

// NewObservation copies params so later changes by the caller are not visible.
func NewObservation(id, toolName, summary string, rawData interface{}, significant bool, params map[string]interface{}, recordedAt time.Time) Observation {
	return Observation{
		ID:          id,
		ToolName:    toolName,
		Summary:     summary,
		RawData:     rawData,
		Significant: significant,
		RecordedAt:  recordedAt,
		ToolParams:  cloneParams(params),
	}
}

func cloneParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
