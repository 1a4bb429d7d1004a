package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/infra/logging"
)

func TestWith_AttachesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := logging.NewWithWriter(&buf, config.LogConfig{Level: "debug", Format: "json"}, false)

	ctx := logging.WithTraceID(context.Background(), "tr-1")
	ctx = logging.WithTenantID(ctx, "tenant-1")
	ctx = logging.WithJobID(ctx, "job-1")
	logging.With(ctx, base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}
	for k, want := range map[string]string{"trace_id": "tr-1", "tenant_id": "tenant-1", "job_id": "job-1"} {
		if line[k] != want {
			t.Fatalf("%s = %v, want %s", k, line[k], want)
		}
	}
	if _, ok := line["conversation_id"]; ok {
		t.Fatal("unset ids must not be logged")
	}
	if logging.TraceID(ctx) != "tr-1" {
		t.Fatal("TraceID lookup")
	}
}

func TestRedact(t *testing.T) {
	if got := logging.Redact("hello world, this is private", false); got != "hell...te" {
		t.Fatalf("Redact = %q", got)
	}
	if got := logging.Redact("short", false); got != "***" {
		t.Fatalf("Redact short = %q", got)
	}
	if got := logging.Redact("visible", true); got != "visible" {
		t.Fatalf("dev Redact = %q", got)
	}
}
