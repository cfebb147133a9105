package netutil

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewTransport creates the HTTP transport used for outbound API calls.
// Certificate verification is only skipped when insecureTLS is set.
func NewTransport(insecureTLS bool, logger *logrus.Logger) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialContext(logger),
		TLSClientConfig:       tlsConfig(insecureTLS, logger),
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}
}

// NewHTTPClient wraps NewTransport with a request timeout.
func NewHTTPClient(timeout time.Duration, insecureTLS bool, logger *logrus.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(insecureTLS, logger),
	}
}

func dialContext(logger *logrus.Logger) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"host":    host,
			"private": IsPrivateHost(host),
		}).Debug("Dialing")
		return dialer.DialContext(ctx, network, addr)
	}
}

// IsPrivateHost reports whether host is a loopback, link-local or private
// address, or a name under a local-only domain.
func IsPrivateHost(host string) bool {
	if host == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		for _, suffix := range []string{".local", ".localhost", ".lan", ".internal"} {
			if strings.HasSuffix(host, suffix) {
				return true
			}
		}
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}

func tlsConfig(insecure bool, logger *logrus.Logger) *tls.Config {
	if insecure {
		logger.Warn("TLS certificate verification is disabled")
	}
	return &tls.Config{
		InsecureSkipVerify: insecure, //nolint:gosec // opt-in via -insecure-tls
		MinVersion:         tls.VersionTLS12,
	}
}
