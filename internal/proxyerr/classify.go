package proxyerr

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"

	"github.com/wyattowalsh/proxywhirl/internal/upstream"
)

// ClassifyDialErr maps a transport-level error into the per-proxy error
// taxonomy and reports whether the failure happened reaching the target
// (true) rather than the proxy itself (false). Callers use the second
// value to decide whether the proxy should still be credited with a
// successful attempt even though the overall request failed (spec
// "target-origin" rule: a proxy that faithfully reports a dead target did
// its job).
func ClassifyDialErr(err error) (ErrorKind, bool) {
	var dialErr *upstream.DialErr
	if errors.As(err, &dialErr) {
		switch {
		case errors.Is(dialErr.Err, upstream.ErrProxyAuthFailed):
			return KindProxyAuthFailed, false
		case errors.Is(dialErr.Err, upstream.ErrProxyRateLimited):
			return KindProxyRateLimitedByOrigin, false
		case dialErr.Origin == upstream.OriginTarget:
			if isTimeout(dialErr.Err) {
				return KindTargetTimeout, true
			}
			return KindTargetUnreachable, true
		default:
			if isTimeout(dialErr.Err) {
				return KindConnectTimeout, false
			}
			return KindTargetUnreachable, false
		}
	}

	// No DialErr: the hop through the proxy already succeeded (the tunnel
	// was established), so a failure here — a TLS handshake with the
	// target, or the target going silent mid-response — is target-origin.
	if isTLSErr(err) {
		return KindTLSError, true
	}
	if isTimeout(err) {
		return KindReadTimeout, true
	}
	return KindTargetUnreachable, true
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSErr(err error) bool {
	var hostErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	var certErr x509.CertificateInvalidError
	var recErr tls.RecordHeaderError
	return errors.As(err, &hostErr) || errors.As(err, &authErr) ||
		errors.As(err, &certErr) || errors.As(err, &recErr)
}
