package telemetry

import (
	"context"
	"testing"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "tokengate-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// 送信は行われないよう到達不能なアドレスを使う
	shutdown, err := Setup(context.Background(), "tokengate-test", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_InvalidEndpoint(t *testing.T) {
	_, err := Setup(context.Background(), "tokengate-test", "://not a url")
	if err == nil {
		t.Fatal("expected error for malformed endpoint")
	}
}
