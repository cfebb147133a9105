package netutil

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestIsPrivateHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.10", true},
		{"169.254.10.1", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"::ffff:192.168.1.1", true},
		{"broker.local", true},
		{"nas.lan", true},
		{"8.8.8.8", false},
		{"172.32.0.1", false},
		{"api.navixy.com", false},
		{"localnet.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := IsPrivateHost(tt.host); got != tt.want {
				t.Errorf("IsPrivateHost(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestNewHTTPClient(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := NewHTTPClient(5*time.Second, false, logger)
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", c.Timeout)
	}
	if tr := NewTransport(true, logger); !tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("insecure transport should skip verification")
	}
	if tr := NewTransport(false, logger); tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("default transport must verify certificates")
	}
}
