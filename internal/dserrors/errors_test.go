package dserrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "source unavailable is transient",
			err:  &SourceUnavailableError{RepoURL: "https://example.com/repo.git", Err: errors.New("timeout")},
			want: true,
		},
		{
			name: "platform unavailable is transient",
			err:  &PlatformUnavailableError{Err: errors.New("connection refused")},
			want: true,
		},
		{
			name: "conflict is transient",
			err:  &ConflictError{Kind: "Deployment", Name: "web", Err: errors.New("409")},
			want: true,
		},
		{
			name: "render validation is not transient",
			err:  &RenderValidationError{Resource: "deploy.yaml", Reason: "missing kind"},
			want: false,
		},
		{
			name: "wrapped transient error",
			err:  fmt.Errorf("pass failed: %w", &PlatformUnavailableError{Err: errors.New("eof")}),
			want: true,
		},
		{
			name: "plain error",
			err:  errors.New("something else"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRenderValidation(t *testing.T) {
	err := fmt.Errorf("render: %w", &RenderValidationError{Resource: "a.yaml", Reason: "bad"})
	if !IsRenderValidation(err) {
		t.Error("expected wrapped RenderValidationError to be detected")
	}
	if IsRenderValidation(errors.New("other")) {
		t.Error("plain error should not classify as render validation")
	}
}

func TestIsConflict(t *testing.T) {
	if !IsConflict(&ConflictError{Kind: "Service", Name: "api", Err: errors.New("409")}) {
		t.Error("expected ConflictError to be detected")
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		errMsg  string
		wantNot []string // Strings that should NOT appear in output
		want    string   // Optional: exact expected output (empty to skip exact check)
	}{
		{
			name:   "empty string",
			errMsg: "",
			want:   "",
		},
		{
			name:    "absolute file path",
			errMsg:  "failed to read file /home/user/secrets/config.yaml",
			wantNot: []string{"/home/user/secrets/"},
		},
		{
			name:    "bearer token",
			errMsg:  "auth failed with bearer eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0",
			wantNot: []string{"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9"},
		},
		{
			name:    "password in error",
			errMsg:  "connection failed: password=supersecret123 host=localhost",
			wantNot: []string{"supersecret123"},
		},
		{
			name:   "kubernetes style error unchanged",
			errMsg: "Application.driftsync.io \"guestbook\" not found",
			want:   "Application.driftsync.io \"guestbook\" not found",
		},
		{
			name:    "long base64 string",
			errMsg:  "failed with data: aVeryLongBase64EncodedSecretValueThatShouldBeRedactedBecauseItMightBeAToken==",
			wantNot: []string{"aVeryLongBase64EncodedSecretValueThatShouldBeRedactedBecauseItMightBeAToken"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeErrorMessage(tt.errMsg)

			if tt.want != "" && got != tt.want {
				t.Errorf("SanitizeErrorMessage() = %q, want %q", got, tt.want)
			}
			for _, notWant := range tt.wantNot {
				if strings.Contains(got, notWant) {
					t.Errorf("SanitizeErrorMessage() = %q, should not contain %q", got, notWant)
				}
			}
		})
	}
}
