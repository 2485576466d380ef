package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

// VMess is an identifier-based node. Only UUID, AlterID, Security, Network and
// TLS reach clients; every other field stays on the server.
type VMess struct {
	UUID     string `json:"uuid"`
	AlterID  int    `json:"alter_id"`
	Security string `json:"security,omitempty"`

	// Network is the transport: tcp, ws, grpc or h2
	Network string `json:"network,omitempty"`
	TLS     bool   `json:"tls"`

	// NetworkSettings and TLSSettings are passed to the proxy core verbatim.
	// TLSSettings may carry certificate material. Operator only.
	NetworkSettings json.RawMessage `json:"network_settings,omitempty"`
	TLSSettings     json.RawMessage `json:"tls_settings,omitempty"`

	// Upstream is an optional server-side forwarding target. Operator only.
	Upstream json.RawMessage `json:"upstream,omitempty"`
}

var vmessSecurity = map[string]bool{"": true, "auto": true, "aes-128-gcm": true, "chacha20-poly1305": true, "none": true, "zero": true}

var vmessNetworks = map[string]bool{"": true, "tcp": true, "ws": true, "grpc": true, "h2": true}

func (*VMess) sealed() {}

func (*VMess) Kind() Kind { return KindVMess }

func (c *VMess) Validate() error {
	if c.UUID == "" {
		return missing(KindVMess, "uuid")
	}
	if _, err := uuid.Parse(c.UUID); err != nil {
		return invalid(KindVMess, "uuid", "is not a valid UUID")
	}
	if c.AlterID < 0 || c.AlterID > 65535 {
		return invalid(KindVMess, "alter_id", "must be between 0 and 65535")
	}
	if !vmessSecurity[c.Security] {
		return invalid(KindVMess, "security", "%q is not supported", c.Security)
	}
	if !vmessNetworks[c.Network] {
		return invalid(KindVMess, "network", "%q is not supported", c.Network)
	}
	return nil
}

// Redact applies the allow-list.
func (c *VMess) Redact() Config {
	return &VMess{
		UUID:     c.UUID,
		AlterID:  c.AlterID,
		Security: c.Security,
		Network:  c.Network,
		TLS:      c.TLS,
	}
}

func (c *VMess) security() string {
	if c.Security == "" {
		return "auto"
	}
	return c.Security
}

func (c *VMess) network() string {
	if c.Network == "" {
		return "tcp"
	}
	return c.Network
}

// vmessLink is the de facto v2rayN share format. Field order is part of the format.
type vmessLink struct {
	V    string `json:"v"`
	PS   string `json:"ps"`
	Add  string `json:"add"`
	Port string `json:"port"`
	ID   string `json:"id"`
	Aid  string `json:"aid"`
	Scy  string `json:"scy"`
	Net  string `json:"net"`
	Type string `json:"type"`
	TLS  string `json:"tls"`
}

// ClientURI renders vmess://base64(json).
func (c *VMess) ClientURI(ep Endpoint) string {
	link := vmessLink{
		V:    "2",
		PS:   ep.Name,
		Add:  ep.Host,
		Port: strconv.Itoa(ep.FirstPort()),
		ID:   c.UUID,
		Aid:  strconv.Itoa(c.AlterID),
		Scy:  c.security(),
		Net:  c.network(),
		Type: "none",
	}
	if c.TLS {
		link.TLS = "tls"
	}
	// vmessLink has only string fields; Marshal cannot fail.
	b, _ := json.Marshal(link)
	return "vmess://" + base64.StdEncoding.EncodeToString(b)
}

func (c *VMess) ClashProxy(ep Endpoint) Fields {
	return Fields{}.
		Set("name", ep.Name).
		Set("type", "vmess").
		Set("server", ep.Host).
		Set("port", ep.FirstPort()).
		Set("uuid", c.UUID).
		Set("alterId", c.AlterID).
		Set("cipher", c.security()).
		Set("udp", true).
		SetIf(c.TLS, "tls", true).
		SetIf(c.network() != "tcp", "network", c.network())
}

// singboxTransport maps a transport name to sing-box's transport type.
func singboxTransport(network string) string {
	switch network {
	case "ws":
		return "ws"
	case "grpc":
		return "grpc"
	case "h2":
		return "http"
	default:
		return ""
	}
}

func (c *VMess) Outbound(ep Endpoint) Fields {
	transport := singboxTransport(c.network())
	return Fields{}.
		Set("type", "vmess").
		Set("tag", ep.Name).
		Set("server", ep.Host).
		Set("server_port", ep.FirstPort()).
		Set("uuid", c.UUID).
		Set("alter_id", c.AlterID).
		Set("security", c.security()).
		SetIf(c.TLS, "tls.enabled", true).
		SetIf(transport != "", "transport.type", transport)
}
