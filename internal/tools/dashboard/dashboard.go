// Package dashboard implements the dashboard action tool. The tool does not
// touch any widget state; it turns the model's decision into a command the
// client applies.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/man-su-97/rag-chatbot/internal/agent"
)

// ToolName is the name the model calls the tool by.
const ToolName = "dashboard"

// Dashboard actions.
const (
	ActionAddWidget    = "add_widget"
	ActionUpdateWidget = "update_widget"
	ActionDeleteWidget = "delete_widget"
	ActionListWidgets  = "list_widgets"
)

// Params is the flat argument object shared by every action. Which fields are
// needed depends on Action.
type Params struct {
	Action      string `json:"action" jsonschema:"enum=add_widget,enum=update_widget,enum=delete_widget,enum=list_widgets" jsonschema_description:"The specific dashboard action to perform."`
	ID          string `json:"id,omitempty" jsonschema_description:"The unique ID of the widget. Required for update_widget and delete_widget."`
	Name        string `json:"name,omitempty" jsonschema_description:"The name of the widget. Required for add_widget."`
	AnalyticsID string `json:"analytics_id,omitempty" jsonschema_description:"The analytics data source ID. Required for add_widget."`
	Chart       string `json:"chart,omitempty" jsonschema:"enum=line,enum=bar,enum=pie" jsonschema_description:"The chart type. Required for add_widget, optional for update_widget."`
	StatsType   string `json:"stats_type,omitempty" jsonschema:"enum=total,enum=average" jsonschema_description:"The statistic type. Required for add_widget, optional for update_widget."`
	XAxis       string `json:"x_axis,omitempty" jsonschema_description:"The x-axis metric. Required for add_widget, optional for update_widget."`
	YAxis       string `json:"y_axis,omitempty" jsonschema_description:"The y-axis metric. Required for add_widget, optional for update_widget."`
}

// fields returns the set parameters, excluding the action.
func (p Params) fields() map[string]any {
	out := make(map[string]any)
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("id", p.ID)
	set("name", p.Name)
	set("analytics_id", p.AnalyticsID)
	set("chart", p.Chart)
	set("stats_type", p.StatsType)
	set("x_axis", p.XAxis)
	set("y_axis", p.YAxis)
	return out
}

// Payload is the structured tool output surfaced to the client.
type Payload struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Tool describes dashboard widget mutations as client commands.
type Tool struct {
	schema json.RawMessage
}

// New creates the dashboard tool.
func New() *Tool {
	return &Tool{schema: agent.ReflectSchema(&Params{})}
}

// Name returns the tool name.
func (t *Tool) Name() string { return ToolName }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Add, update, delete or list widgets on the user's dashboard."
}

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage { return t.schema }

// Kind reports that the result is a client command.
func (t *Tool) Kind() agent.ToolKind { return agent.ToolKindAction }

// Execute validates the per-action requirements and builds the command.
func (t *Tool) Execute(_ context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	params := p.fields()
	payload, err := json.Marshal(Payload{Tool: ToolName, Action: p.Action, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return &agent.ToolResult{
		Confirmation: confirmation(p),
		Payload:      payload,
		Command: &agent.Command{
			Target: ToolName,
			Action: p.Action,
			Params: params,
		},
	}, nil
}

func (p Params) validate() error {
	switch p.Action {
	case ActionAddWidget:
		if p.Name == "" {
			return fmt.Errorf("%s requires name", p.Action)
		}
	case ActionUpdateWidget, ActionDeleteWidget:
		if p.ID == "" {
			return fmt.Errorf("%s requires id", p.Action)
		}
	case ActionListWidgets:
	default:
		return fmt.Errorf("unknown action %q", p.Action)
	}
	return nil
}

func confirmation(p Params) string {
	switch p.Action {
	case ActionAddWidget:
		if p.Chart != "" {
			return fmt.Sprintf("Added the %q widget with a %s chart to the dashboard.", p.Name, p.Chart)
		}
		return fmt.Sprintf("Added the %q widget to the dashboard.", p.Name)
	case ActionUpdateWidget:
		return fmt.Sprintf("Updated dashboard widget %q.", p.ID)
	case ActionDeleteWidget:
		return fmt.Sprintf("Deleted dashboard widget %q.", p.ID)
	default:
		return "Listed the dashboard widgets."
	}
}
