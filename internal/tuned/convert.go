package tuned

import (
	"encoding/json"
	"fmt"

	"github.com/looptune/looptune/internal/session"
)

// The maps built here hold only values structpb.NewStruct accepts, so the
// HTTP and gRPC surfaces share them.

func sessionJSON(rec *SessionRecord) map[string]any {
	out := map[string]any{
		"session_id":         rec.ID,
		"status":             rec.Status.String(),
		"created_at_unix_ms": rec.CreatedAtUnixMs,
		"evaluated":          rec.Evaluated,
	}
	if rec.Input.Name != "" {
		out["name"] = rec.Input.Name
	}
	if rec.StartedAtUnixMs != 0 {
		out["started_at_unix_ms"] = rec.StartedAtUnixMs
	}
	if rec.EndedAtUnixMs != 0 {
		out["ended_at_unix_ms"] = rec.EndedAtUnixMs
	}
	if rec.Error != "" {
		out["error"] = rec.Error
	}
	if rec.Report != nil {
		out["cancelled"] = rec.Report.Cancelled
		if best := rec.Report.Best(); best != nil {
			out["best"] = bestJSON(best)
		}
	}
	return out
}

func bestJSON(v *session.VariantReport) map[string]any {
	params := make(map[string]any, len(v.Params))
	for _, p := range v.Params {
		params[p.Name] = p.Value
	}
	return map[string]any{
		"seq":       v.Seq,
		"params":    params,
		"aggregate": v.Aggregate,
	}
}

// reportJSON converts a report to plain JSON values.
func reportJSON(rep *session.Report) (map[string]any, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return out, nil
}
