// Package memoryop implements the memory_operation tool over the
// persistent user profile.
package memoryop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jarvisproj/jarvis/internal/memory"
	"github.com/jarvisproj/jarvis/internal/tools"
)

type args struct {
	Action string `json:"action" jsonschema:"required,enum=get_profile,enum=set_name,enum=set_preference,enum=add_note,enum=get_notes,description=要执行的记忆操作"`
	Key    string `json:"key,omitempty" jsonschema:"description=偏好的键（仅 set_preference）"`
	Value  string `json:"value,omitempty" jsonschema:"description=要写入的值（set_name/set_preference/add_note）"`
}

type Tool struct {
	store *memory.Store
}

func New(store *memory.Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Name() string {
	return "memory_operation"
}

func (t *Tool) Description() string {
	return "读写关于用户的长期记忆：称呼、偏好、备注。用户说「记住…」「我喜欢…」「叫我…」时调用。"
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
	case "get_profile":
		p := t.store.GetProfile()
		var b strings.Builder
		fmt.Fprintf(&b, "称呼: %s\n", p.Name)
		for key, value := range p.Preferences {
			fmt.Fprintf(&b, "偏好 %s: %s\n", key, value)
		}
		fmt.Fprintf(&b, "备注数量: %d", len(p.Notes))
		return b.String(), nil

	case "set_name":
		if err := t.store.SetName(a.Value); err != nil {
			return nil, err
		}
		return fmt.Sprintf("好的，以后称呼您为 %s。", a.Value), nil

	case "set_preference":
		if err := t.store.SetPreference(a.Key, a.Value); err != nil {
			return nil, err
		}
		return fmt.Sprintf("已记录偏好 %s = %s。", a.Key, a.Value), nil

	case "add_note":
		if err := t.store.AddNote(a.Value); err != nil {
			return nil, err
		}
		return "已记住。", nil

	case "get_notes":
		notes := t.store.Notes()
		if len(notes) == 0 {
			return "还没有任何备注。", nil
		}
		var b strings.Builder
		for i, n := range notes {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, n.Content, n.CreatedAt.Format("2006-01-02 15:04"))
		}
		return strings.TrimRight(b.String(), "\n"), nil

	default:
		return nil, fmt.Errorf("unknown action %q", a.Action)
	}
}
