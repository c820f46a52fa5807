package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *PipelineError
		want []string
	}{
		{
			name: "code and message",
			err:  New(CodeAlignment, "carried and imputed row counts differ"),
			want: []string{"[E301]", "row counts differ"},
		},
		{
			name: "context rendered sorted",
			err: New(CodeSampleCount, "identifier has no two-digit sample suffix").
				WithContext("row", 7).
				WithContext("value", "BankW"),
			want: []string{"[E201]", "row=7", "value=BankW"},
		},
		{
			name: "cause appended",
			err:  Wrap(fmt.Errorf("disk gone"), CodeOutput, "failed to write output"),
			want: []string{"[E402]", "failed to write output", "disk gone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, frag := range tt.want {
				if !strings.Contains(got, frag) {
					t.Errorf("Error() = %q, missing %q", got, frag)
				}
			}
		})
	}
}

func TestMessageStable(t *testing.T) {
	make := func() string {
		return New(CodeBadColumn, "column unusable").
			WithContext("column", "As").
			WithContext("reason", "non-numeric").
			WithContext("row", 3).
			Error()
	}
	first := make()
	for i := 0; i < 20; i++ {
		if got := make(); got != first {
			t.Fatalf("message not stable: %q vs %q", first, got)
		}
	}
}

func TestMissingColumnsNamesAll(t *testing.T) {
	err := MissingColumns([]string{"pH", "BD"}, []string{"Year"})
	msg := err.Error()
	if !strings.Contains(msg, "pH") || !strings.Contains(msg, "BD") {
		t.Errorf("missing columns not named in message: %q", msg)
	}
	if err.Code != CodeMissingColumns {
		t.Errorf("Code = %s, want %s", err.Code, CodeMissingColumns)
	}
}

func TestWrapNil(t *testing.T) {
	if got := Wrap(nil, CodeInput, "ignored"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestCodeChecks(t *testing.T) {
	base := SampleCountError(12, "x")
	wrapped := fmt.Errorf("stage failed: %w", base)

	if !IsCode(wrapped, CodeSampleCount) {
		t.Error("IsCode failed to see code through wrapping")
	}
	if got := GetCode(wrapped); got != CodeSampleCount {
		t.Errorf("GetCode = %s, want %s", got, CodeSampleCount)
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Errorf("GetCode(plain) = %s, want %s", got, CodeUnknown)
	}

	if !IsParse(wrapped) {
		t.Error("IsParse(sample count error) = false")
	}
	if IsSchema(wrapped) {
		t.Error("IsSchema(sample count error) = true")
	}
	if !IsSchema(MissingColumns([]string{"pH"}, nil)) {
		t.Error("IsSchema(missing columns) = false")
	}
}

func TestErrorsIsByCode(t *testing.T) {
	err := AlignmentMismatch(10, 9)
	if !stderrors.Is(err, New(CodeAlignment, "")) {
		t.Error("errors.Is should match on code")
	}
	if stderrors.Is(err, New(CodeInput, "")) {
		t.Error("errors.Is matched a different code")
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.ErrorOrNil() != nil {
		t.Error("empty MultiError should be nil")
	}

	m.Add(nil)
	m.Add(New(CodeInput, "one"))
	m.Add(New(CodeOutput, "two"))

	err := m.ErrorOrNil()
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
