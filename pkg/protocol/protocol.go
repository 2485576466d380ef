// Package protocol models the per-protocol configuration records of proxy nodes.
//
// Each supported protocol is a case of the closed Config type. A case knows how
// to validate itself, how to strip operator-only fields (Redact), and how to
// render itself for the three client formats: a share URI, a Clash proxy entry
// and a sing-box outbound.
//
// Raw configs are decoded strictly when a node is written (unknown fields are
// rejected) and leniently when a stored node is read (unknown fields are
// ignored), so that a config written by a newer server still renders.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind is a protocol tag.
type Kind string

const (
	KindShadowsocks Kind = "shadowsocks"
	KindVMess       Kind = "vmess"
	KindTrojan      Kind = "trojan"
	KindHysteria    Kind = "hysteria"
)

// Kinds lists every supported protocol.
var Kinds = []Kind{KindShadowsocks, KindVMess, KindTrojan, KindHysteria}

var (
	// ErrUnknownProtocol indicates a protocol tag outside Kinds.
	ErrUnknownProtocol = errors.New("unknown protocol")

	// ErrMalformedNodeConfig indicates a config that cannot be rendered for
	// clients, typically because a required field is missing.
	ErrMalformedNodeConfig = errors.New("malformed node config")
)

// FieldError describes one invalid config field.
type FieldError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s config: %s %s", ErrMalformedNodeConfig, e.Kind, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrMalformedNodeConfig }

func missing(kind Kind, field string) error {
	return &FieldError{Kind: kind, Field: field, Reason: "is required"}
}

func invalid(kind Kind, field, format string, args ...any) error {
	return &FieldError{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config is a protocol-specific node configuration.
// The set of implementations is closed: *Shadowsocks, *VMess, *Trojan, *Hysteria.
type Config interface {
	// Kind returns the protocol tag.
	Kind() Kind

	// Validate reports a *FieldError when a required field is missing or a
	// value is out of range.
	Validate() error

	// Redact returns a copy holding only the fields a client may see.
	// Redact is idempotent.
	Redact() Config

	// ClientURI renders a share link for plain-list subscriptions.
	ClientURI(ep Endpoint) string

	// ClashProxy renders a proxy entry for rule-based subscriptions.
	ClashProxy(ep Endpoint) Fields

	// Outbound renders a sing-box outbound descriptor.
	Outbound(ep Endpoint) Fields

	sealed()
}

// ParseKind validates a protocol tag.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

func newConfig(kind Kind) (Config, error) {
	switch kind {
	case KindShadowsocks:
		return &Shadowsocks{}, nil
	case KindVMess:
		return &VMess{}, nil
	case KindTrojan:
		return &Trojan{}, nil
	case KindHysteria:
		return &Hysteria{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, kind)
	}
}

// Decode parses raw into the config type for kind and validates it.
// With strict set, fields not defined by the protocol are rejected; this is
// the mode used when a node is created or updated.
func Decode(kind Kind, raw []byte, strict bool) (Config, error) {
	cfg, err := newConfig(kind)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: %s config is empty", ErrMalformedNodeConfig, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s config: %v", ErrMalformedNodeConfig, kind, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Redact decodes a stored config leniently and returns its client-safe form.
// It fails with ErrMalformedNodeConfig when a required field is missing.
func Redact(kind Kind, raw []byte) (Config, error) {
	cfg, err := Decode(kind, raw, false)
	if err != nil {
		return nil, err
	}
	return cfg.Redact(), nil
}

// Endpoint is where a client connects to a node.
type Endpoint struct {
	// Name is the remark shown by the client
	Name string

	// Host is a hostname or IP address
	Host string

	// Port is a single port ("443") or an inclusive range ("20000-30000")
	Port string
}

// ParsePort splits a port or port range. For a single port hi equals lo.
func ParsePort(s string) (lo, hi int, err error) {
	first, last, isRange := strings.Cut(strings.TrimSpace(s), "-")
	lo, err = strconv.Atoi(first)
	if err != nil || lo < 1 || lo > 65535 {
		return 0, 0, fmt.Errorf("invalid port %q", s)
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err = strconv.Atoi(last)
	if err != nil || hi < lo || hi > 65535 {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	return lo, hi, nil
}

// FirstPort returns the port clients dial when only one port can be given.
func (e Endpoint) FirstPort() int {
	lo, _, err := ParsePort(e.Port)
	if err != nil {
		return 0
	}
	return lo
}

// PortRange returns the range as "lo-hi", or "" for a single port.
func (e Endpoint) PortRange() string {
	lo, hi, err := ParsePort(e.Port)
	if err != nil || lo == hi {
		return ""
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// Address returns host:port with IPv6 hosts bracketed.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.FirstPort()))
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
