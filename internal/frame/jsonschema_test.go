package frame

import (
	"encoding/json"
	"testing"
)

func TestEmitSchemaDocumentCoversEveryMethod(t *testing.T) {
	t.Parallel()

	raw, err := EmitSchemaDocument()
	if err != nil {
		t.Fatalf("EmitSchemaDocument() error = %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("EmitSchemaDocument() produced invalid JSON: %v", err)
	}

	defs, ok := doc["definitions"].(map[string]any)
	if !ok {
		t.Fatal("definitions missing or wrong type")
	}

	for _, method := range []string{MethodSend, MethodAgent, MethodSystemEvent, MethodSetHeartbeats} {
		if _, ok := defs[method]; !ok {
			t.Errorf("definitions[%q] missing", method)
		}
	}
	if _, ok := defs[MethodSystemPresence]; ok {
		t.Error("definitions[system-presence] present, want omitted since the method takes no params")
	}

	sendDef := defs[MethodSend].(map[string]any)
	required, _ := sendDef["required"].([]any)
	if len(required) == 0 {
		t.Error("send definition has no required fields, want to/message/idempotencyKey")
	}
}
