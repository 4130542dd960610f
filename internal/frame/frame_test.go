package frame

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeHelloRejectsUnknownMembers(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"hello","minProtocol":1,"maxProtocol":1,"client":{"name":"cli","version":"1.0","platform":"linux","mode":"daemon"},"bogus":true}`)

	if _, err := DecodeHello(raw); err == nil {
		t.Fatal("DecodeHello() error = nil, want error for unknown top-level member")
	}
}

func TestDecodeHelloRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"hello","minProtocol":1,"maxProtocol":1,"client":{"name":"cli","version":"1.0","platform":"linux","mode":"daemon"},"auth":{"token":"secret"}}`)

	h, err := DecodeHello(raw)
	if err != nil {
		t.Fatalf("DecodeHello() error = %v", err)
	}
	if h.Client.Name != "cli" || h.MinProtocol != 1 || h.MaxProtocol != 1 {
		t.Errorf("DecodeHello() = %+v, missing expected fields", h)
	}
	if h.Auth == nil || h.Auth.Token != "secret" {
		t.Errorf("DecodeHello() auth = %+v, want token %q", h.Auth, "secret")
	}
}

func TestDecodeHelloWrongType(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"req","minProtocol":1,"maxProtocol":1,"client":{"name":"cli","version":"1.0","platform":"linux","mode":"daemon"}}`)
	if _, err := DecodeHello(raw); err == nil {
		t.Fatal("DecodeHello() error = nil, want type mismatch error")
	}
}

func TestSniffReturnsType(t *testing.T) {
	t.Parallel()

	typ, err := Sniff([]byte(`{"type":"req","id":"1","method":"health"}`))
	if err != nil {
		t.Fatalf("Sniff() error = %v", err)
	}
	if typ != TypeReq {
		t.Errorf("Sniff() = %q, want %q", typ, TypeReq)
	}
}

func TestSniffMissingType(t *testing.T) {
	t.Parallel()

	if _, err := Sniff([]byte(`{"id":"1"}`)); err == nil {
		t.Fatal("Sniff() error = nil, want error for missing type")
	}
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"req","id":"abc","method":"send","params":{"to":"c1","message":"hi"}}`)
	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if req.ID != "abc" || req.Method != "send" {
		t.Errorf("DecodeRequest() = %+v, want id=abc method=send", req)
	}

	var params SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.To != "c1" || params.Message != "hi" {
		t.Errorf("params = %+v, want to=c1 message=hi", params)
	}
}

func TestNewResponseAndErrorResponse(t *testing.T) {
	t.Parallel()

	okRaw, err := NewResponse("1", map[string]string{"status": "ok"})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}
	var ok Response
	if err := json.Unmarshal(okRaw, &ok); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !ok.OK || ok.ID != "1" {
		t.Errorf("response = %+v, want ok=true id=1", ok)
	}

	errRaw, err := NewErrorResponse("2", NewErrorShape(ErrInvalidRequest, "bad params"))
	if err != nil {
		t.Fatalf("NewErrorResponse() error = %v", err)
	}
	var failed Response
	if err := json.Unmarshal(errRaw, &failed); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if failed.OK || failed.Error == nil || failed.Error.Code != ErrInvalidRequest {
		t.Errorf("response = %+v, want ok=false code=%s", failed, ErrInvalidRequest)
	}
}

func TestNewEventCarriesSeq(t *testing.T) {
	t.Parallel()

	raw, err := NewEvent(EventTick, map[string]string{}, 42, nil)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Seq == nil || *ev.Seq != 42 {
		t.Errorf("event.Seq = %v, want 42", ev.Seq)
	}
	if ev.Event != EventTick {
		t.Errorf("event.Event = %q, want %q", ev.Event, EventTick)
	}
}

func TestMaxFrameSizeBoundary(t *testing.T) {
	t.Parallel()

	const maxFrameBytes = 512 * 1024

	padding := strings.Repeat("a", maxFrameBytes)
	raw := []byte(`{"type":"req","id":"1","method":"send","params":{"to":"c","idempotencyKey":"k","message":"` + padding + `"}}`)
	if len(raw) <= maxFrameBytes {
		t.Fatalf("test fixture too small: %d bytes, want > %d", len(raw), maxFrameBytes)
	}

	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}

	var params SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	issues := ValidateParams(req.Params, &SendParams{})
	if issues == nil {
		t.Fatal("ValidateParams() = nil, want issues for an over-long message")
	}
}
