package frame

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// EmitSchemaDocument renders a draft-07-flavoured JSON Schema document
// describing every param struct the gateway accepts. It exists for offline
// tooling (client codegen, docs) and is never called on the request path; no
// library in the retrieved corpus generates JSON Schema from Go structs, so
// this walks struct tags directly with encoding/json + reflect.
func EmitSchemaDocument() ([]byte, error) {
	doc := map[string]any{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "gateway-methods",
		"definitions": map[string]any{},
	}
	defs := doc["definitions"].(map[string]any)

	methods := map[string]any{
		MethodSend:          SendParams{},
		MethodAgent:         AgentParams{},
		MethodSystemEvent:   SystemEventParams{},
		MethodSetHeartbeats: SetHeartbeatsParams{},
	}
	for name, params := range methods {
		defs[name] = schemaForStruct(params)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema document: %w", err)
	}
	return b, nil
}

func schemaForStruct(v any) map[string]any {
	t := reflect.TypeOf(v)
	props := map[string]any{}
	var required []string

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		jsonTag := f.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		name := strings.Split(jsonTag, ",")[0]
		props[name] = schemaForField(f)

		validateTag := f.Tag.Get("validate")
		if strings.HasPrefix(validateTag, "required") {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func schemaForField(f reflect.StructField) map[string]any {
	s := map[string]any{}
	switch f.Type.Kind() {
	case reflect.String:
		s["type"] = "string"
	case reflect.Int, reflect.Int64, reflect.Int32:
		s["type"] = "integer"
	case reflect.Bool:
		s["type"] = "boolean"
	default:
		s["type"] = "string"
	}

	for _, rule := range strings.Split(f.Tag.Get("validate"), ",") {
		switch {
		case strings.HasPrefix(rule, "max="):
			if s["type"] == "string" {
				s["maxLength"] = jsonNumber(strings.TrimPrefix(rule, "max="))
			} else {
				s["maximum"] = jsonNumber(strings.TrimPrefix(rule, "max="))
			}
		case strings.HasPrefix(rule, "min="):
			if s["type"] == "string" {
				s["minLength"] = jsonNumber(strings.TrimPrefix(rule, "min="))
			} else {
				s["minimum"] = jsonNumber(strings.TrimPrefix(rule, "min="))
			}
		case strings.HasPrefix(rule, "oneof="):
			vals := strings.Fields(strings.TrimPrefix(rule, "oneof="))
			anyVals := make([]any, len(vals))
			for i, v := range vals {
				anyVals[i] = v
			}
			s["enum"] = anyVals
		}
	}
	return s
}

func jsonNumber(s string) json.Number {
	return json.Number(s)
}
