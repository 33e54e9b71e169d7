package apm

import (
	"context"
	"testing"

	"github.com/fd1az/mev-arbitrage/internal/logger"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Info(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Warn(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Error(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Debugc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) Infoc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Warnc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Errorc(ctx context.Context, caller int, msg string, args ...any) {}

var _ logger.LoggerInterface = (*mockLogger)(nil)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"zipkin", ZipkinProvider, false},
		{" OTLP ", OTLPProvider, false},
		{"console", ConsoleProvider, false},
		{"", EmptyProvider, false},
		{"none", EmptyProvider, false},
		{"jaeger", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseProvider(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestNewTraceProvider_Console(t *testing.T) {
	tp, err := NewTraceProvider(Config{ServiceName: "test", Provider: ConsoleProvider, SampleRate: 0.5}, &mockLogger{})
	if err != nil {
		t.Fatalf("NewTraceProvider: %v", err)
	}
	if err := tp.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestNewTraceProvider_Empty(t *testing.T) {
	tp, err := NewTraceProvider(Config{Provider: EmptyProvider}, &mockLogger{})
	if err != nil {
		t.Fatalf("NewTraceProvider: %v", err)
	}
	if _, ok := tp.(emptyTraceProvider); !ok {
		t.Errorf("provider = %T, want emptyTraceProvider", tp)
	}
}
