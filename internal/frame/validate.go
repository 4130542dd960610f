package frame

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Method names. The closed set of "req" methods the gateway dispatches.
const (
	MethodHealth         = "health"
	MethodStatus         = "status"
	MethodSystemPresence = "system-presence"
	MethodSystemEvent    = "system-event"
	MethodSetHeartbeats  = "set-heartbeats"
	MethodSend           = "send"
	MethodAgent          = "agent"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func validate() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New(validator.WithRequiredStructEnabled())
	})
	return validatorInst
}

// SendParams is the params shape for the "send" method: deliver a message
// to a recipient through the Delivery port.
type SendParams struct {
	To             string `json:"to" validate:"required,max=256"`
	Message        string `json:"message" validate:"required,max=65536"`
	MediaURL       string `json:"mediaUrl,omitempty" validate:"omitempty,max=2048"`
	Provider       string `json:"provider,omitempty" validate:"omitempty,max=128"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=128"`
}

// AgentParams is the params shape for the "agent" method: run an agent
// turn and stream its progress as events before the terminal response.
type AgentParams struct {
	Message        string `json:"message" validate:"required,max=65536"`
	To             string `json:"to,omitempty" validate:"omitempty,max=256"`
	SessionID      string `json:"sessionId,omitempty" validate:"omitempty,max=128"`
	Thinking       bool   `json:"thinking,omitempty"`
	Deliver        bool   `json:"deliver,omitempty"`
	TimeoutSeconds int64  `json:"timeout,omitempty" validate:"omitempty,min=1,max=600"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=128"`
}

// SystemEventParams is the params shape for "system-event": publish a
// free-form system event, fanned out to every ready connection and folded
// into the presence registry.
type SystemEventParams struct {
	Text string `json:"text" validate:"required,max=4096"`
}

// SetHeartbeatsParams is the params shape for "set-heartbeats". The gateway
// acknowledges the call and records the setting on the connection; tick
// delivery is not gated by it.
type SetHeartbeatsParams struct {
	Enabled bool `json:"enabled"`
}

// Issue is one field-level validation failure, in a shape suitable for
// attaching to an ErrorShape's Details member.
type Issue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidateParams strictly decodes raw into dst and runs struct validation
// against it, returning the accumulated issues on failure. dst must be a
// pointer to one of the *Params types above.
func ValidateParams(raw []byte, dst any) []Issue {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := strictDecode(raw, dst); err != nil {
		return []Issue{{Field: "params", Reason: err.Error()}}
	}
	if err := validate().Struct(dst); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) []Issue {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []Issue{{Field: "params", Reason: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, Issue{
			Field:  strings.ToLower(fe.Field()[:1]) + fe.Field()[1:],
			Reason: describeTag(fe),
		})
	}
	return issues
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation %q", fe.Tag())
	}
}

// FormatIssues renders a slice of Issue as a single human-readable message,
// suitable for an ErrorShape's Message field.
func FormatIssues(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		parts = append(parts, fmt.Sprintf("%s %s", is.Field, is.Reason))
	}
	return strings.Join(parts, "; ")
}
