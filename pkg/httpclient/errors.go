package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
)

// Sentinel errors for HTTP client failure modes. Callers use errors.Is()
// against the error Classify returns to check for these.
var (
	// ErrProxyConnect indicates the client failed to connect through
	// the configured proxy (SOCKS4/5, HTTP).
	ErrProxyConnect = errors.New("httpclient: proxy connection failed")

	// ErrDNS indicates a DNS resolution failure for the target host.
	ErrDNS = errors.New("httpclient: DNS resolution failed")

	// ErrTLS indicates a TLS handshake or certificate verification failure.
	ErrTLS = errors.New("httpclient: TLS handshake failed")
)

// Classify maps a transport-level error from a client built with New into
// one of the sentinels above, so a caller that only needs a coarse failure
// category doesn't have to unwrap net.OpError/net.DNSError/tls error types
// itself. err is returned unchanged if it doesn't match any category.
func Classify(err error, usedProxy bool) error {
	if err == nil {
		return nil
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrDNS
	}
	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var unknownAuthorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &recordErr) ||
		errors.As(err, &unknownAuthorityErr) || errors.As(err, &hostnameErr) {
		return ErrTLS
	}
	var opErr *net.OpError
	if usedProxy && errors.As(err, &opErr) && opErr.Op == "dial" {
		return ErrProxyConnect
	}
	return err
}
