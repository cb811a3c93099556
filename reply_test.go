package ftp

import (
	"bufio"
	"strings"
	"testing"

	"github.com/go-test/deep"
)

func TestReadReply_SingleLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantMsg  string
	}{
		{"simple success", "220 Welcome\r\n", 220, "Welcome"},
		{"error response", "550 File not found\r\n", 550, "File not found"},
		{"code with no message", "200 \r\n", 200, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := bufio.NewReader(strings.NewReader(tt.input))
			r, err := readReply(reader)
			if err != nil {
				t.Fatalf("readReply() error = %v", err)
			}
			if r.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", r.Code, tt.wantCode)
			}
			if r.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", r.Message, tt.wantMsg)
			}
		})
	}
}

func TestReadReply_MultiLine(t *testing.T) {
	t.Parallel()
	input := "220-Welcome to FTP\r\n" +
		"220-This is line 2\r\n" +
		"220 Ready\r\n"

	reader := bufio.NewReader(strings.NewReader(input))
	r, err := readReply(reader)
	if err != nil {
		t.Fatalf("readReply() error = %v", err)
	}

	want := &Reply{
		Code:    220,
		Message: "Welcome to FTP\nThis is line 2\nReady",
		Lines: []string{
			"220-Welcome to FTP",
			"220-This is line 2",
			"220 Ready",
		},
	}
	if diff := deep.Equal(r, want); diff != nil {
		t.Errorf("readReply() diff: %v", diff)
	}
}

func TestReadReply_MalformedCode(t *testing.T) {
	t.Parallel()
	reader := bufio.NewReader(strings.NewReader("abc bad code\r\n"))
	if _, err := readReply(reader); err == nil {
		t.Fatal("expected error for malformed reply code")
	}
}

func TestReplyPredicates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code                                          int
		preliminary, success, intermediate, transient bool
		permanent, isErr                              bool
	}{
		{125, true, false, false, false, false, false},
		{226, false, true, false, false, false, false},
		{350, false, false, true, false, false, false},
		{426, false, false, false, true, false, true},
		{550, false, false, false, false, true, true},
	}

	for _, tt := range tests {
		r := &Reply{Code: tt.code}
		if got := r.IsPreliminary(); got != tt.preliminary {
			t.Errorf("code %d: IsPreliminary() = %v, want %v", tt.code, got, tt.preliminary)
		}
		if got := r.IsSuccess(); got != tt.success {
			t.Errorf("code %d: IsSuccess() = %v, want %v", tt.code, got, tt.success)
		}
		if got := r.IsIntermediate(); got != tt.intermediate {
			t.Errorf("code %d: IsIntermediate() = %v, want %v", tt.code, got, tt.intermediate)
		}
		if got := r.IsTransientError(); got != tt.transient {
			t.Errorf("code %d: IsTransientError() = %v, want %v", tt.code, got, tt.transient)
		}
		if got := r.IsPermanentError(); got != tt.permanent {
			t.Errorf("code %d: IsPermanentError() = %v, want %v", tt.code, got, tt.permanent)
		}
		if got := r.IsError(); got != tt.isErr {
			t.Errorf("code %d: IsError() = %v, want %v", tt.code, got, tt.isErr)
		}
	}
}
