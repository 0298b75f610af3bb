package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"ssl-monitor/internal/models"
)

// Probe failure kinds
var (
	ErrInvalidURL    = errors.New("invalid url")
	ErrConnect       = errors.New("connection failed")
	ErrHandshake     = errors.New("tls handshake failed")
	ErrNoCertificate = errors.New("no certificate presented")
	ErrTimeout       = errors.New("probe timed out")
)

const (
	defaultProbePort    = "443"
	defaultProbeTimeout = 10 * time.Second
	unknownName         = "Unknown"
)

// CertInfo represents the leaf certificate read during a handshake
type CertInfo struct {
	Host                 string    `json:"host"`
	IssuedToCommonName   string    `json:"issuedToCommonName"`
	IssuedToOrganization string    `json:"issuedToOrganization"`
	IssuedByCommonName   string    `json:"issuedByCommonName"`
	IssuedByOrganization string    `json:"issuedByOrganization"`
	ValidFrom            time.Time `json:"validFrom"`
	ValidTo              time.Time `json:"validTo"`
}

// Details converts the probe result into the persisted field set
func (c *CertInfo) Details() models.CertificateDetails {
	return models.CertificateDetails{
		IssuedToCommonName:   c.IssuedToCommonName,
		IssuedToOrganization: c.IssuedToOrganization,
		IssuedByCommonName:   c.IssuedByCommonName,
		IssuedByOrganization: c.IssuedByOrganization,
		ValidFrom:            c.ValidFrom,
		ValidTo:              c.ValidTo,
	}
}

// Prober reads the certificate served for a URL
type Prober interface {
	Probe(ctx context.Context, rawURL string) (*CertInfo, error)
}

// TLSProber handshakes with <host>:443 and reports whatever certificate is served,
// without verifying the chain.
type TLSProber struct {
	Timeout time.Duration // Covers connect and handshake
	Port    string
}

// NewTLSProber creates a prober with the given timeout
func NewTLSProber(timeout time.Duration) *TLSProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &TLSProber{
		Timeout: timeout,
		Port:    defaultProbePort,
	}
}

// Probe connects to the URL's host and returns its leaf certificate
func (p *TLSProber) Probe(ctx context.Context, rawURL string) (*CertInfo, error) {
	host, err := ParseHost(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	addr := net.JoinHostPort(host, p.Port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(ctx, ErrConnect, addr, err)
	}
	defer conn.Close()

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // #nosec G402 -- expiry is read from whatever is served
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, classify(ctx, ErrHandshake, addr, err)
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCertificate, addr)
	}

	leaf := certs[0]
	return &CertInfo{
		Host:                 host,
		IssuedToCommonName:   orUnknown(leaf.Subject.CommonName),
		IssuedToOrganization: orUnknown(first(leaf.Subject.Organization)),
		IssuedByCommonName:   orUnknown(leaf.Issuer.CommonName),
		IssuedByOrganization: orUnknown(first(leaf.Issuer.Organization)),
		ValidFrom:            leaf.NotBefore,
		ValidTo:              leaf.NotAfter,
	}, nil
}

// ParseHost extracts the hostname to probe: scheme forced to https, lowercased,
// leading "www." stripped, port and path dropped.
func ParseHost(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return "", fmt.Errorf("%w: no hostname in %q", ErrInvalidURL, rawURL)
	}
	return host, nil
}

// NormalizeURL returns the canonical https://<host> form stored for new endpoints
func NormalizeURL(rawURL string) (string, error) {
	host, err := ParseHost(rawURL)
	if err != nil {
		return "", err
	}
	return "https://" + host, nil
}

// FailureKind maps a probe error to a short label for logs and metrics
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, ErrHandshake):
		return "handshake"
	case errors.Is(err, ErrNoCertificate):
		return "no_certificate"
	}
	return "error"
}

func classify(ctx context.Context, kind error, addr string, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, addr, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, addr, err)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func orUnknown(s string) string {
	if s == "" {
		return unknownName
	}
	return s
}
