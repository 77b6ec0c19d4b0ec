package domain

// ActionKind is the terminal outcome of one decision.
type ActionKind string

const (
	ActionSendAIReply   ActionKind = "send_ai_reply"
	ActionSendTemplate  ActionKind = "send_template"
	ActionSkip          ActionKind = "skip"
	ActionFlagEmergency ActionKind = "flag_emergency"
)

// SkipReason names why a message produced no reply.
type SkipReason string

const (
	SkipDisabled     SkipReason = "disabled"
	SkipStopped      SkipReason = "stopped"
	SkipOutsideHours SkipReason = "outside_hours"
	SkipHourlyLimit  SkipReason = "hourly_limit"
	SkipDailyLimit   SkipReason = "daily_limit"
	SkipAIError      SkipReason = "ai_error"
)

// Action is the decision for one inbound message. Exactly one Action is
// produced per message; it drives both execution and statistics.
type Action struct {
	Kind     ActionKind
	Category Category
	Reason   SkipReason // set only when Kind is skip
}

// SendsReply reports whether the action puts a message on the wire.
func (a Action) SendsReply() bool {
	return a.Kind == ActionSendAIReply || a.Kind == ActionSendTemplate || a.Kind == ActionFlagEmergency
}

// SkipAction builds a skip outcome for the given reason.
func SkipAction(reason SkipReason, category Category) Action {
	return Action{Kind: ActionSkip, Category: category, Reason: reason}
}

// TemplateAction builds a template-reply outcome for the given category.
func TemplateAction(category Category) Action {
	return Action{Kind: ActionSendTemplate, Category: category}
}
