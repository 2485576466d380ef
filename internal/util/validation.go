package util

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// ValidateDomain checks that s is a syntactically valid domain name.
//
// Parameters:
//   - s: The domain to validate (e.g., "example.com", "cdn.example.com.")
//
// Returns:
//   - error: An error if the name is not a valid domain, nil otherwise
//
// Example:
//
//	if err := util.ValidateDomain(pattern.Value); err != nil {
//	    return models.Invalid("match", "%v", err)
//	}
func ValidateDomain(s string) error {
	if s == "" {
		return fmt.Errorf("empty domain name")
	}
	if _, ok := dns.IsDomainName(s); !ok {
		return fmt.Errorf("invalid domain name %q", s)
	}
	// IsDomainName accepts any byte in a label; hostnames do not.
	if i := strings.IndexFunc(s, func(r rune) bool {
		return !(r == '.' || r == '-' || r == '_' || r == '*' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}); i >= 0 {
		return fmt.Errorf("invalid character %q in domain name", s[i])
	}
	// A bare IP passes IsDomainName; reject it explicitly.
	if net.ParseIP(s) != nil {
		return fmt.Errorf("%q is an IP address, not a domain name", s)
	}
	return nil
}

// ValidateHost checks that host is an IP address or a domain name.
//
// Parameters:
//   - host: The node address clients connect to
//
// Returns:
//   - error: An error if host is neither an IP nor a domain, nil otherwise
func ValidateHost(host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	return ValidateDomain(host)
}

// ValidateIP checks if a string is a valid IP address (IPv4 or IPv6).
func ValidateIP(ip string) error {
	if parsed := net.ParseIP(ip); parsed == nil {
		return fmt.Errorf("invalid IP address")
	}
	return nil
}

// ValidateDNSServer checks a DNS server reference used by a dns route rule.
//
// Accepted forms:
//   - a bare IP ("1.1.1.1", "2606:4700::1111")
//   - IP and port ("8.8.8.8:53", "[::1]:53")
//   - a URL with scheme udp, tcp, tls, https or quic
//     ("tls://1.1.1.1", "https://dns.google/dns-query")
//
// Parameters:
//   - s: The server reference
//
// Returns:
//   - error: An error describing the first problem found, nil otherwise
func ValidateDNSServer(s string) error {
	if s == "" {
		return fmt.Errorf("dns server is required")
	}
	if net.ParseIP(s) != nil {
		return nil
	}

	if !strings.Contains(s, "://") {
		host, port, err := net.SplitHostPort(s)
		if err != nil {
			return fmt.Errorf("invalid dns server %q", s)
		}
		if err := ValidateIP(host); err != nil {
			return fmt.Errorf("invalid dns server %q: %w", s, err)
		}
		return validatePortString(port)
	}

	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid dns server %q: %w", s, err)
	}
	switch u.Scheme {
	case "udp", "tcp", "tls", "https", "quic":
	default:
		return fmt.Errorf("unsupported dns server scheme %q", u.Scheme)
	}
	if err := ValidateHost(u.Hostname()); err != nil {
		return fmt.Errorf("invalid dns server %q: %w", s, err)
	}
	if p := u.Port(); p != "" {
		return validatePortString(p)
	}
	return nil
}

// ValidatePortRange checks if a port number is in valid range (1-65535).
//
// Parameters:
//   - port: The port number to validate
//
// Returns:
//   - error: An error if the port is out of range, nil otherwise
//
// Example:
//
//	if err := util.ValidatePortRange(req.ServerPort); err != nil {
//	    return models.Invalid("server_port", "%v", err)
//	}
func ValidatePortRange(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validatePortString(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q", s)
	}
	return ValidatePortRange(port)
}
