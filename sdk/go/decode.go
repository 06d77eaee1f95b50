package pilotdecksdk

import (
	"encoding/json"
	"math"
)

// The aggregate shapes are decoded field by field. A field of the wrong type
// falls back to its zero value instead of failing the whole response.

func (c *ApprovalCounts) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		*c = ApprovalCounts{ByModule: map[string]int{}}
		return nil
	}
	out := ApprovalCounts{Total: lenientInt(fields["total"]), ByModule: map[string]int{}}
	raw, present := fields["by_module"]
	if present {
		var modules map[string]json.RawMessage
		if json.Unmarshal(raw, &modules) == nil {
			for id, n := range modules {
				out.ByModule[id] = lenientInt(n)
			}
		}
		// A breakdown, even an empty one, is authoritative for the total.
		sum := 0
		for _, n := range out.ByModule {
			if n > 0 {
				sum += n
			}
		}
		out.Total = sum
	}
	*c = out
	return nil
}

func (s *ActionStats) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		*s = ActionStats{}
		return nil
	}
	var moduleID string
	if raw, ok := fields["module_id"]; ok && json.Unmarshal(raw, &moduleID) != nil {
		moduleID = ""
	}
	*s = ActionStats{
		ModuleID:    moduleID,
		Today:       lenientInt(fields["today"]),
		Completed:   lenientInt(fields["completed"]),
		Failed:      lenientInt(fields["failed"]),
		SuccessRate: lenientInt(fields["success_rate"]),
	}
	return nil
}

// lenientInt reads a JSON number, truncating fractions. Anything else is 0.
func lenientInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(f)
}
