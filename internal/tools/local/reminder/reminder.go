// Package reminder implements the schedule_reminder tool over the
// scheduler service.
package reminder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jarvisproj/jarvis/internal/scheduler"
	"github.com/jarvisproj/jarvis/internal/tools"
)

type args struct {
	Action   string `json:"action" jsonschema:"required,enum=add,enum=list,enum=cancel,description=提醒操作"`
	Message  string `json:"message,omitempty" jsonschema:"description=提醒内容（add）"`
	At       string `json:"at,omitempty" jsonschema:"description=提醒时间：RFC3339 时间戳或 +<分钟数>（如 +15）"`
	Schedule string `json:"schedule,omitempty" jsonschema:"description=cron 表达式（周期性提醒，与 at 二选一）"`
	ID       string `json:"id,omitempty" jsonschema:"description=要取消的提醒 ID（cancel）"`
}

type Tool struct {
	sched *scheduler.Scheduler
}

func New(sched *scheduler.Scheduler) *Tool {
	return &Tool{sched: sched}
}

func (t *Tool) Name() string {
	return "schedule_reminder"
}

func (t *Tool) Description() string {
	return "设置、查看或取消提醒。一次性提醒用 at（RFC3339 或 +分钟数），周期性提醒用 cron 表达式。"
}

func (t *Tool) Risk() tools.Risk {
	return tools.RiskSafe
}

func (t *Tool) InputSchema() map[string]any {
	return tools.MustSchema[args]()
}

func (t *Tool) Timeout() time.Duration {
	return 0
}

func (t *Tool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[args](rawArgs)
	if err != nil {
		return nil, err
	}

	switch a.Action {
	case "add":
		return t.add(a)
	case "list":
		return t.list()
	case "cancel":
		if a.ID == "" {
			return nil, fmt.Errorf("id is required for cancel")
		}
		if err := t.sched.Cancel(a.ID); err != nil {
			return nil, err
		}
		return "提醒已取消。", nil
	default:
		return nil, fmt.Errorf("unknown action %q", a.Action)
	}
}

func (t *Tool) add(a args) (any, error) {
	if strings.TrimSpace(a.Message) == "" {
		return nil, fmt.Errorf("message is required for add")
	}

	if a.Schedule != "" {
		r, err := t.sched.Every(a.Schedule, a.Message)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("周期性提醒已设置 (ID: %s, 计划: %s, 下次: %s)。",
			r.ID, r.Schedule, r.At.Format("2006-01-02 15:04")), nil
	}

	at, err := parseTime(a.At)
	if err != nil {
		return nil, err
	}
	r, err := t.sched.At(at, a.Message)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("提醒已设置 (ID: %s, 时间: %s)。", r.ID, r.At.Format("2006-01-02 15:04")), nil
}

func (t *Tool) list() (any, error) {
	reminders := t.sched.List()
	if len(reminders) == 0 {
		return "当前没有任何提醒。", nil
	}

	var b strings.Builder
	for i, r := range reminders {
		kind := "一次性"
		if r.Schedule != "" {
			kind = "周期性 (" + r.Schedule + ")"
		}
		fmt.Fprintf(&b, "%d. [%s] %s — %s (ID: %s)\n",
			i+1, kind, r.At.Format("2006-01-02 15:04"), r.Message, r.ID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// parseTime accepts RFC3339 or a "+<minutes>" offset.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("at is required for one-shot reminders")
	}
	if strings.HasPrefix(s, "+") {
		minutes, err := strconv.Atoi(strings.TrimPrefix(s, "+"))
		if err != nil || minutes <= 0 {
			return time.Time{}, fmt.Errorf("invalid offset %q, expected +<minutes>", s)
		}
		return time.Now().Add(time.Duration(minutes) * time.Minute), nil
	}
	at, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected RFC3339 or +<minutes>", s)
	}
	return at, nil
}
