package protocol

import (
	"net/url"
	"strings"
)

// Trojan is a password-authenticated TLS node.
type Trojan struct {
	Password      string `json:"password"`
	SNI           string `json:"sni,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Network is the transport: tcp, ws or grpc
	Network string `json:"network,omitempty"`

	// Fallback is where the server forwards non-trojan traffic. Operator only.
	Fallback string `json:"fallback,omitempty"`

	// CertFile and KeyFile are certificate paths on the node. Operator only.
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

func (*Trojan) sealed() {}

func (*Trojan) Kind() Kind { return KindTrojan }

func (c *Trojan) Validate() error {
	if c.Password == "" {
		return missing(KindTrojan, "password")
	}
	switch c.Network {
	case "", "tcp", "ws", "grpc":
	default:
		return invalid(KindTrojan, "network", "%q is not supported", c.Network)
	}
	return nil
}

func (c *Trojan) Redact() Config {
	return &Trojan{
		Password:      c.Password,
		SNI:           c.SNI,
		AllowInsecure: c.AllowInsecure,
		Network:       c.Network,
	}
}

// ClientURI renders trojan://password@host:port?allowInsecure=0&peer=sni&sni=sni#name
func (c *Trojan) ClientURI(ep Endpoint) string {
	q := []string{"allowInsecure=" + boolFlag(c.AllowInsecure)}
	if c.SNI != "" {
		q = append(q, "peer="+url.QueryEscape(c.SNI), "sni="+url.QueryEscape(c.SNI))
	}
	if c.Network != "" && c.Network != "tcp" {
		q = append(q, "type="+c.Network)
	}
	return "trojan://" + url.User(c.Password).String() + "@" + ep.Address() +
		"?" + strings.Join(q, "&") + "#" + url.PathEscape(ep.Name)
}

func (c *Trojan) ClashProxy(ep Endpoint) Fields {
	return Fields{}.
		Set("name", ep.Name).
		Set("type", "trojan").
		Set("server", ep.Host).
		Set("port", ep.FirstPort()).
		Set("password", c.Password).
		SetIf(c.SNI != "", "sni", c.SNI).
		Set("skip-cert-verify", c.AllowInsecure).
		Set("udp", true).
		SetIf(c.Network != "" && c.Network != "tcp", "network", c.Network)
}

func (c *Trojan) Outbound(ep Endpoint) Fields {
	transport := singboxTransport(c.Network)
	return Fields{}.
		Set("type", "trojan").
		Set("tag", ep.Name).
		Set("server", ep.Host).
		Set("server_port", ep.FirstPort()).
		Set("password", c.Password).
		Set("tls.enabled", true).
		SetIf(c.SNI != "", "tls.server_name", c.SNI).
		Set("tls.insecure", c.AllowInsecure).
		SetIf(transport != "", "transport.type", transport)
}
