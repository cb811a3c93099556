package ftp

import "testing"

func TestParsePASV(t *testing.T) {
	t.Parallel()
	host, port, err := ParsePASV("227 Entering Passive Mode (192,168,1,10,195,80)")
	if err != nil {
		t.Fatalf("ParsePASV() error = %v", err)
	}
	if host != "192.168.1.10" {
		t.Errorf("host = %q, want 192.168.1.10", host)
	}
	if want := 195*256 + 80; port != want {
		t.Errorf("port = %d, want %d", port, want)
	}
}

func TestParsePASV_Malformed(t *testing.T) {
	t.Parallel()
	if _, _, err := ParsePASV("227 no tuple here"); err == nil {
		t.Fatal("expected error for missing tuple")
	}
	if _, _, err := ParsePASV("227 (1,2,3,4,5,999)"); err == nil {
		t.Fatal("expected error for out-of-range element")
	}
}

func TestFormatPORTArg_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		host string
		port int
	}{
		{"192.168.1.10", 50000},
		{"10.0.0.1", 21},
		{"255.255.255.255", 65535},
	}

	for _, tt := range tests {
		arg, err := FormatPORTArg(tt.host, tt.port)
		if err != nil {
			t.Fatalf("FormatPORTArg() error = %v", err)
		}
		host, port, err := ParsePORTArg(arg)
		if err != nil {
			t.Fatalf("ParsePORTArg() error = %v", err)
		}
		if host != tt.host || port != tt.port {
			t.Errorf("round trip = %s:%d, want %s:%d", host, port, tt.host, tt.port)
		}
	}
}

func TestParsePORTArg_HostPortPair(t *testing.T) {
	t.Parallel()
	host, port, err := ParsePORTArg("192.168.1.10 50000")
	if err != nil {
		t.Fatalf("ParsePORTArg() error = %v", err)
	}
	if host != "192.168.1.10" || port != 50000 {
		t.Errorf("got %s:%d, want 192.168.1.10:50000", host, port)
	}
}

func TestParsePORTArg_BareHost(t *testing.T) {
	t.Parallel()
	host, port, err := ParsePORTArg("192.168.1.10")
	if err != nil {
		t.Fatalf("ParsePORTArg() error = %v", err)
	}
	if host != "192.168.1.10" || port != 0 {
		t.Errorf("got %s:%d, want 192.168.1.10:0", host, port)
	}
}

func TestParseSIZEReply(t *testing.T) {
	t.Parallel()
	size, ok := ParseSIZEReply(&Reply{Code: 213, Message: "1024"})
	if !ok || size != 1024 {
		t.Errorf("got (%d, %v), want (1024, true)", size, ok)
	}

	if _, ok := ParseSIZEReply(&Reply{Code: 550, Message: "not found"}); ok {
		t.Error("expected ok=false for non-213 reply")
	}
}

func TestParsePWDReply(t *testing.T) {
	t.Parallel()
	dir, ok := ParsePWDReply(&Reply{Code: 257, Message: `"/home/user" is the current directory.`})
	if !ok || dir != "/home/user" {
		t.Errorf("got (%q, %v), want (/home/user, true)", dir, ok)
	}

	if _, ok := ParsePWDReply(&Reply{Code: 257, Message: "no quotes here"}); ok {
		t.Error("expected ok=false when no quoted path present")
	}
}
