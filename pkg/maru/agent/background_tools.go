// Package agent – background_tools.go registers tools that control the
// heartbeat, the daily briefing and sub-agents.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// RegisterBackgroundTools adds heartbeat, briefing and sub-agent tools.
func RegisterBackgroundTools(e *ToolExecutor, heartbeat *HeartbeatWorker, briefing *BriefingWorker, subAgents *SubAgentManager) {
	e.Register(&Tool{
		Name:        "control_heartbeat",
		Description: "Enable or disable the periodic heartbeat check for this chat, optionally changing its interval.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"interval_minutes": {"type": "integer"}
			},
			"required": ["enabled"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			st := heartbeat.SetEnabled(chatID, boolArg(args, "enabled"), intArg(args, "interval_minutes", 0))
			if st.Enabled {
				return fmt.Sprintf("Heartbeat on, every %d minutes between %02d:00 and %02d:00.",
					st.IntervalMinutes, st.ActiveStart, st.ActiveEnd), nil
			}
			return "Heartbeat off.", nil
		},
	})

	e.Register(&Tool{
		Name:        "run_heartbeat_check",
		Description: "Run a heartbeat check right now and report the verdict.",
		Run: func(ctx context.Context, _ map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			verdict := heartbeat.RunCheck(ctx, chatID)
			return "Heartbeat verdict: " + verdict, nil
		},
	})

	e.Register(&Tool{
		Name:        "control_briefing",
		Description: "Enable or disable the daily briefing for this chat, optionally changing its time or weather location.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"time_of_day": {"type": "string", "description": "Local send time HH:MM"},
				"location": {"type": "string"}
			},
			"required": ["enabled"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			st := briefing.SetEnabled(chatID, boolArg(args, "enabled"),
				stringArg(args, "time_of_day"), stringArg(args, "location"))
			if st.Enabled {
				return fmt.Sprintf("Daily briefing on at %s for %s.", st.TimeOfDay, st.Location), nil
			}
			return "Daily briefing off.", nil
		},
	})

	e.Register(&Tool{
		Name:        "send_briefing_now",
		Description: "Compose and send the daily briefing immediately.",
		Run: func(ctx context.Context, _ map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			if err := briefing.SendNow(ctx, chatID); err != nil {
				return "", err
			}
			return "Briefing sent.", nil
		},
	})

	e.Register(&Tool{
		Name:        "spawn_agent",
		Description: "Start a background sub-agent to work on a task. The result is sent to this chat when done.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task": {"type": "string", "description": "A self-contained task description"}
			},
			"required": ["task"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			task, err := requiredStringArg(args, "task")
			if err != nil {
				return "", err
			}
			sub, err := subAgents.Spawn(chatID, task)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Sub-agent %s started.", sub.ID), nil
		},
	})

	e.Register(&Tool{
		Name:        "list_agents",
		Description: "List background sub-agents for this chat.",
		Run: func(ctx context.Context, _ map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			agents := subAgents.List(chatID)
			if len(agents) == 0 {
				return "No sub-agents.", nil
			}
			var b strings.Builder
			for _, sub := range agents {
				fmt.Fprintf(&b, "%s [%s] %s\n", sub.ID, sub.Status, sub.Task)
			}
			return b.String(), nil
		},
	})

	e.Register(&Tool{
		Name:        "cancel_agent",
		Description: "Cancel a running background sub-agent.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_id": {"type": "string"}
			},
			"required": ["agent_id"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			id, err := requiredStringArg(args, "agent_id")
			if err != nil {
				return "", err
			}
			if err := subAgents.Cancel(id); err != nil {
				return "", err
			}
			return "Sub-agent cancelled.", nil
		},
	})
}
