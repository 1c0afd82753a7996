package watchdog

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/gradewatch/kit"
	"github.com/hazyhaar/gradewatch/semester"
)

// RegisterMCP registers the watchdog tools on srv.
func (r *Runner) RegisterMCP(srv *mcp.Server) {
	r.registerRun(srv)
	registerSemester(srv, time.Now)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (r *Runner) registerRun(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "gradewatch_run",
		Description: "Check the grades portal once, notify the topic if grades changed and republish the state",
		InputSchema: inputSchema(map[string]any{
			"topic":             map[string]any{"type": "string", "description": "Notification topic"},
			"account":           map[string]any{"type": "string", "description": "Portal account"},
			"password":          map[string]any{"type": "string", "description": "Portal password; empty relies on a saved session"},
			"ntfyServerBaseUrl": map[string]any{"type": "string", "description": "Relay server, default https://ntfy.sh"},
			"semesterId":        map[string]any{"type": "string", "description": "Semester id, default the current one"},
			"stateTopic":        map[string]any{"type": "string", "description": "State topic, default <topic>-state"},
		}, []string{"topic", "account"}),
	}

	endpoint := kit.Chain(kit.Logging(r.log, "gradewatch_run"))(func(ctx context.Context, req any) (any, error) {
		return r.Run(ctx, *req.(*Request))
	})
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[Request])
}

// SemesterInfo describes one semester id.
type SemesterInfo struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Valid     bool   `json:"valid"`
	CurrentID string `json:"currentId"`
}

// DescribeSemester labels id, or the current semester when id is empty.
func DescribeSemester(id string, now time.Time) SemesterInfo {
	cur := semester.CurrentID(now)
	if id == "" {
		id = cur
	}
	_, _, err := semester.DecodeString(id)
	return SemesterInfo{ID: id, Label: semester.Label(id), Valid: err == nil, CurrentID: cur}
}

func registerSemester(srv *mcp.Server, now func() time.Time) {
	type req struct {
		ID string `json:"id"`
	}

	tool := &mcp.Tool{
		Name:        "gradewatch_semester",
		Description: "Decode a portal semester id into its academic year and term, or report the current one",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Semester id; empty for the current semester"},
		}, nil),
	}

	endpoint := func(_ context.Context, r any) (any, error) {
		return DescribeSemester(r.(*req).ID, now()), nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[req])
}
