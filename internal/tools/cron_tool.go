package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/warden/internal/cron"
)

// NewCronTool builds edit_scheduled_tasks: owner-only CRUD over the
// scheduled-prompt jobs.
func NewCronTool(sched *cron.Scheduler) *Tool {
	return &Tool{
		Name:        "edit_scheduled_tasks",
		Description: "List, add, remove, enable, or disable scheduled prompts. Scheduled prompts run as synthetic requests on their cron expression.",
		OwnerOnly:   true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action": map[string]interface{}{
					"type": "string",
					"enum": []string{"list", "add", "remove", "enable", "disable"},
				},
				"id":     map[string]interface{}{"type": "string", "description": "Job id (remove/enable/disable)"},
				"name":   map[string]interface{}{"type": "string", "description": "Job name (add)"},
				"expr":   map[string]interface{}{"type": "string", "description": "Cron expression, e.g. '0 9 * * *' (add)"},
				"prompt": map[string]interface{}{"type": "string", "description": "Prompt to run when due (add)"},
			},
			"required": []string{"action"},
		},
		Execute: func(_ context.Context, args map[string]interface{}, _ *ExecContext) *Result {
			action, _ := args["action"].(string)
			id, _ := args["id"].(string)

			switch action {
			case "list":
				jobs := sched.List()
				if len(jobs) == 0 {
					return SilentResult("no scheduled tasks")
				}
				var b strings.Builder
				for _, j := range jobs {
					state := "enabled"
					if !j.Enabled {
						state = "disabled"
					}
					fmt.Fprintf(&b, "- [%s] %s (%s, %s): %s\n", j.ID, j.Name, j.Expr, state, j.Prompt)
				}
				return SilentResult(b.String())

			case "add":
				name, _ := args["name"].(string)
				expr, _ := args["expr"].(string)
				prompt, _ := args["prompt"].(string)
				if name == "" || expr == "" || prompt == "" {
					return ErrorResult("add requires name, expr, and prompt")
				}
				job, err := sched.Add(name, expr, prompt)
				if err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return SilentResult(fmt.Sprintf("scheduled %q as %s (%s)", job.Name, job.ID, job.Expr))

			case "remove":
				if err := sched.Remove(id); err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return SilentResult("task removed")

			case "enable", "disable":
				if err := sched.SetEnabled(id, action == "enable"); err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return SilentResult("task " + action + "d")

			default:
				return ErrorResult(fmt.Sprintf("unknown action %q", action))
			}
		},
	}
}
