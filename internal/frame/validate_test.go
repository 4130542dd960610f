package frame

import "testing"

func TestValidateParamsRejectsMissingRequired(t *testing.T) {
	t.Parallel()

	issues := ValidateParams([]byte(`{}`), &SendParams{})
	if len(issues) == 0 {
		t.Fatal("ValidateParams() = no issues, want issues for missing to/message/idempotencyKey")
	}
}

func TestValidateParamsAcceptsValid(t *testing.T) {
	t.Parallel()

	issues := ValidateParams([]byte(`{"to":"+15550000000","message":"hello","idempotencyKey":"k1"}`), &SendParams{})
	if len(issues) != 0 {
		t.Fatalf("ValidateParams() issues = %+v, want none", issues)
	}
}

func TestValidateParamsRejectsUnknownMember(t *testing.T) {
	t.Parallel()

	issues := ValidateParams([]byte(`{"to":"+1","message":"hi","idempotencyKey":"k1","extra":true}`), &SendParams{})
	if len(issues) == 0 {
		t.Fatal("ValidateParams() = no issues, want issue for unknown member")
	}
}

func TestValidateParamsRequiresIdempotencyKeyOnSend(t *testing.T) {
	t.Parallel()

	issues := ValidateParams([]byte(`{"to":"+1","message":"hi"}`), &SendParams{})
	if len(issues) == 0 {
		t.Fatal("ValidateParams() = no issues, want issue for missing idempotencyKey")
	}
}

func TestValidateParamsRequiresIdempotencyKeyOnAgent(t *testing.T) {
	t.Parallel()

	issues := ValidateParams([]byte(`{"message":"do it"}`), &AgentParams{})
	if len(issues) == 0 {
		t.Fatal("ValidateParams() = no issues, want issue for missing idempotencyKey")
	}

	issues = ValidateParams([]byte(`{"message":"do it","idempotencyKey":"k1"}`), &AgentParams{})
	if len(issues) != 0 {
		t.Fatalf("ValidateParams() issues = %+v, want none", issues)
	}
}

func TestValidateParamsRequiresNonEmptyText(t *testing.T) {
	t.Parallel()

	issues := ValidateParams([]byte(`{"text":""}`), &SystemEventParams{})
	if len(issues) == 0 {
		t.Fatal("ValidateParams() = no issues, want issue for empty text")
	}

	issues = ValidateParams([]byte(`{"text":"note"}`), &SystemEventParams{})
	if len(issues) != 0 {
		t.Fatalf("ValidateParams() issues = %+v, want none for non-empty text", issues)
	}
}

func TestFormatIssuesJoinsMessages(t *testing.T) {
	t.Parallel()

	issues := []Issue{{Field: "message", Reason: "is required"}, {Field: "idempotencyKey", Reason: "is required"}}
	got := FormatIssues(issues)
	want := "message is required; idempotencyKey is required"
	if got != want {
		t.Errorf("FormatIssues() = %q, want %q", got, want)
	}
}
