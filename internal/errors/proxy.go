package errors

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProxyErrorKind categorizes transport failures between the proxy and
// the origin server. Configuration-class kinds are fatal; request-class
// kinds answer the individual request with HTTP 500.
type ProxyErrorKind int

const (
	// ProxyErrorGeneric covers per-request failures that do not indicate
	// broken configuration. Not fatal.
	ProxyErrorGeneric ProxyErrorKind = iota
	// ProxyErrorUnknownAuthority means the origin's certificate chain is
	// not trusted by the local CA store.
	ProxyErrorUnknownAuthority
	// ProxyErrorHandshake means the TLS handshake itself failed, for
	// example due to a cipher or protocol mismatch.
	ProxyErrorHandshake
	// ProxyErrorNoSuchHost means the origin domain does not resolve.
	ProxyErrorNoSuchHost
)

// ProxyError wraps a transport failure with its category and a
// user-actionable remediation message.
type ProxyError struct {
	Kind        ProxyErrorKind
	Remediation string
	Cause       error
}

// Error implements the error interface
func (pe *ProxyError) Error() string {
	if pe.Cause == nil {
		return pe.Remediation
	}
	return fmt.Sprintf("%s: %v", pe.Remediation, pe.Cause)
}

// Unwrap returns the underlying transport error.
func (pe *ProxyError) Unwrap() error { return pe.Cause }

// Fatal reports whether this error indicates broken configuration that
// retries cannot fix, so the process should exit.
func (pe *ProxyError) Fatal() bool { return pe.Kind != ProxyErrorGeneric }

// CategorizeProxyError maps a transport error onto the proxy error
// taxonomy. TLS trust and DNS failures are configuration-class and
// fatal; everything else is a per-request failure.
func CategorizeProxyError(err error) *ProxyError {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return &ProxyError{
			Kind:        ProxyErrorUnknownAuthority,
			Remediation: "the origin server's certificate is not trusted; install its CA into the local trust store or run the origin over plain HTTP",
			Cause:       err,
		}
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return &ProxyError{
			Kind:        ProxyErrorUnknownAuthority,
			Remediation: "the origin server's certificate could not be verified; check the certificate chain and hostname",
			Cause:       err,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return &ProxyError{
			Kind:        ProxyErrorNoSuchHost,
			Remediation: fmt.Sprintf("the origin domain %q does not resolve; check the configured origin URL and your /etc/hosts entries", dnsErr.Name),
			Cause:       err,
		}
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) || strings.Contains(err.Error(), "handshake failure") {
		return &ProxyError{
			Kind:        ProxyErrorHandshake,
			Remediation: "the TLS handshake with the origin failed; the origin may not speak HTTPS on that port or requires ciphers this client does not offer",
			Cause:       err,
		}
	}

	return &ProxyError{
		Kind:        ProxyErrorGeneric,
		Remediation: "proxying the request to the origin failed",
		Cause:       err,
	}
}
