package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_UsesRegisteredMessage(t *testing.T) {
	err := New(CodeStaleData, WithContext("pool 0xabc"))

	if err.Message != messages[CodeStaleData] {
		t.Errorf("Message = %q, want %q", err.Message, messages[CodeStaleData])
	}
	if err.Context != "pool 0xabc" {
		t.Errorf("Context = %q", err.Context)
	}
	if len(err.stack) == 0 {
		t.Error("expected captured stack")
	}
}

func TestNew_UnknownCodeFallsBackToCode(t *testing.T) {
	err := New(Code("SOMETHING_NEW"))
	if err.Message != "SOMETHING_NEW" {
		t.Errorf("Message = %q, want code as message", err.Message)
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	cause := errors.New("nonce too low")
	err := fmt.Errorf("submit: %w", New(CodeSequenceConflict, WithCause(cause)))

	if !errors.Is(err, New(CodeSequenceConflict)) {
		t.Error("errors.Is should match on code through wrapping")
	}
	if errors.Is(err, New(CodeStaleData)) {
		t.Error("errors.Is matched a different code")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable via Unwrap")
	}
	if !HasCode(err, CodeSequenceConflict) {
		t.Error("HasCode should find wrapped code")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, CodeInternalError, "x") != nil {
		t.Error("Wrap(nil) must return nil")
	}

	orig := New(CodeNoCapitalSource)
	wrapped := Wrap(orig, CodeInternalError, "selector")
	if wrapped.Code != CodeNoCapitalSource {
		t.Errorf("Wrap should preserve existing AppError code, got %s", wrapped.Code)
	}
	if wrapped.Context != "selector" {
		t.Errorf("Wrap should fill empty context, got %q", wrapped.Context)
	}

	plain := Wrap(errors.New("boom"), CodeEthereumRPCError, "call")
	if plain.Code != CodeEthereumRPCError {
		t.Errorf("Code = %s", plain.Code)
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(errors.New("plain")); got != CodeUnknownError {
		t.Errorf("GetCode(plain) = %s", got)
	}
	if got := GetCode(New(CodeInvalidPlan)); got != CodeInvalidPlan {
		t.Errorf("GetCode = %s", got)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		code      Code
		retryable bool
		surface   bool
	}{
		{CodeStaleData, true, false},
		{CodeSubmissionTimeout, true, false},
		{CodeInsufficientLiquidity, false, false},
		{CodeNoCapitalSource, false, false},
		{CodeSimulationFailure, false, true},
		{CodeSequenceConflict, false, true},
		{CodeInvalidPlan, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code)
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := MustSurface(err); got != tt.surface {
				t.Errorf("MustSurface = %v, want %v", got, tt.surface)
			}
		})
	}

	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are never retryable")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"stale", New(CodeStaleData), KindRejected},
		{"no capital", fmt.Errorf("select: %w", New(CodeNoCapitalSource)), KindRejected},
		{"relay down", New(CodeRelayError), KindTransient},
		{"breaker", New(CodeCircuitOpen), KindTransient},
		{"nonce", New(CodeSequenceConflict), KindOperator},
		{"encoding", New(CodeEncodingFailed), KindInternal},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestError_String(t *testing.T) {
	err := New(CodeRelayError, WithContext("flashbots eth_sendBundle"), WithCause(errors.New("502")))
	want := "RELAY_ERROR: " + messages[CodeRelayError] + " (flashbots eth_sendBundle): 502"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestLogValue(t *testing.T) {
	tests := []struct {
		name      string
		err       *AppError
		wantStack bool
	}{
		{"rejection has no stack", New(CodeStaleData, WithContext("pool")), false},
		{"internal carries stack", New(CodeEncodingFailed), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := map[string]string{}
			for _, a := range tt.err.LogValue().Group() {
				attrs[a.Key] = a.Value.String()
			}
			if attrs["code"] != string(tt.err.Code) || attrs["kind"] != string(tt.err.Kind()) {
				t.Errorf("attrs = %v", attrs)
			}
			if _, ok := attrs["stack"]; ok != tt.wantStack {
				t.Errorf("stack present = %v, want %v", ok, tt.wantStack)
			}
		})
	}
}
