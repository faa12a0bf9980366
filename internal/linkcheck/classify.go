package linkcheck

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

// classifyStatus maps a final, non-redirect response code to a verdict.
func classifyStatus(original, final string, code, hops int) audit.LinkCheckResult {
	res := audit.LinkCheckResult{
		OriginalURL:   original,
		FinalURL:      final,
		HTTPStatus:    code,
		RedirectCount: hops,
		WasRedirected: hops > 0,
	}
	switch {
	case code >= 200 && code < 300:
		res.LinkStatus = audit.LinkOK
		if res.WasRedirected {
			res.LinkStatus = audit.LinkRedirectedOK
		}
	case code == http.StatusNotFound:
		res.LinkStatus = audit.LinkBrokenNotFound
		res.Error = fmt.Sprintf("HTTP %d Not Found", code)
	case code >= 400 && code < 500:
		res.LinkStatus = audit.LinkBrokenClientError
		res.Error = fmt.Sprintf("HTTP %d Client Error", code)
	case code >= 500 && code < 600:
		res.LinkStatus = audit.LinkBrokenServerError
		res.Error = fmt.Sprintf("HTTP %d Server Error", code)
	default:
		res.LinkStatus = audit.LinkBrokenOther
		res.Error = fmt.Sprintf("HTTP %d Unknown Status", code)
	}
	res.IsBroken = res.LinkStatus.IsBroken()
	return res
}

// classifyError maps a transport failure to a verdict. A cancelled check is
// unchecked, not broken.
func classifyError(original, current string, hops int, err error) audit.LinkCheckResult {
	res := audit.LinkCheckResult{
		OriginalURL:   original,
		RedirectCount: hops,
		WasRedirected: hops > 0,
	}
	if current != original {
		res.FinalURL = current
	}
	res.LinkStatus, res.Error = errorKind(err)
	res.IsBroken = res.LinkStatus.IsBroken()
	return res
}

func errorKind(err error) (audit.LinkStatus, string) {
	if errors.Is(err, context.Canceled) {
		return audit.LinkUnchecked, "Check cancelled"
	}
	if isTimeout(err) {
		return audit.LinkBrokenTimeout, "Request timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return audit.LinkBrokenDNS, "DNS resolution failed"
	}
	if isTLS(err) {
		return audit.LinkBrokenSSL, fmt.Sprintf("SSL error: %v", err)
	}
	return audit.LinkBrokenOther, fmt.Sprintf("Connection error: %v", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLS(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		systemRoots  x509.SystemRootsError
		constraintEr x509.ConstraintViolationError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidCert),
		errors.As(err, &systemRoots),
		errors.As(err, &constraintEr):
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "tls:")
}
