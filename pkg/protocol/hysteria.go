package protocol

import (
	"fmt"
	"net/url"
	"strings"
)

// Hysteria is a Hysteria 2 node: QUIC with password auth, optional salamander
// obfuscation and bandwidth hints.
type Hysteria struct {
	Auth string `json:"auth"`

	// Obfs is "" or "salamander"
	Obfs         string `json:"obfs,omitempty"`
	ObfsPassword string `json:"obfs_password,omitempty"`

	UpMbps   int `json:"up_mbps,omitempty"`
	DownMbps int `json:"down_mbps,omitempty"`

	SNI      string `json:"sni,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`

	// CertFile, KeyFile and Masquerade configure the server side. Operator only.
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	Masquerade string `json:"masquerade,omitempty"`
}

func (*Hysteria) sealed() {}

func (*Hysteria) Kind() Kind { return KindHysteria }

func (c *Hysteria) Validate() error {
	if c.Auth == "" {
		return missing(KindHysteria, "auth")
	}
	switch c.Obfs {
	case "":
	case "salamander":
		if c.ObfsPassword == "" {
			return missing(KindHysteria, "obfs_password")
		}
	default:
		return invalid(KindHysteria, "obfs", "%q is not supported", c.Obfs)
	}
	if c.UpMbps < 0 || c.DownMbps < 0 {
		return invalid(KindHysteria, "up_mbps", "bandwidth must not be negative")
	}
	return nil
}

func (c *Hysteria) Redact() Config {
	return &Hysteria{
		Auth:         c.Auth,
		Obfs:         c.Obfs,
		ObfsPassword: c.ObfsPassword,
		UpMbps:       c.UpMbps,
		DownMbps:     c.DownMbps,
		SNI:          c.SNI,
		Insecure:     c.Insecure,
	}
}

// ClientURI renders hysteria2://auth@host:port/?sni=..&insecure=0#name.
// A port range is passed as mport.
func (c *Hysteria) ClientURI(ep Endpoint) string {
	q := []string{"insecure=" + boolFlag(c.Insecure)}
	if c.SNI != "" {
		q = append(q, "sni="+url.QueryEscape(c.SNI))
	}
	if c.Obfs != "" {
		q = append(q, "obfs="+c.Obfs, "obfs-password="+url.QueryEscape(c.ObfsPassword))
	}
	if r := ep.PortRange(); r != "" {
		q = append(q, "mport="+r)
	}
	return "hysteria2://" + url.User(c.Auth).String() + "@" + ep.Address() +
		"/?" + strings.Join(q, "&") + "#" + url.PathEscape(ep.Name)
}

func (c *Hysteria) ClashProxy(ep Endpoint) Fields {
	return Fields{}.
		Set("name", ep.Name).
		Set("type", "hysteria2").
		Set("server", ep.Host).
		Set("port", ep.FirstPort()).
		SetIf(ep.PortRange() != "", "ports", ep.PortRange()).
		Set("password", c.Auth).
		SetIf(c.UpMbps > 0, "up", fmt.Sprintf("%d Mbps", c.UpMbps)).
		SetIf(c.DownMbps > 0, "down", fmt.Sprintf("%d Mbps", c.DownMbps)).
		SetIf(c.Obfs != "", "obfs", c.Obfs).
		SetIf(c.Obfs != "", "obfs-password", c.ObfsPassword).
		SetIf(c.SNI != "", "sni", c.SNI).
		Set("skip-cert-verify", c.Insecure)
}

func (c *Hysteria) Outbound(ep Endpoint) Fields {
	f := Fields{}.
		Set("type", "hysteria2").
		Set("tag", ep.Name).
		Set("server", ep.Host).
		Set("server_port", ep.FirstPort())
	if r := ep.PortRange(); r != "" {
		f = f.Set("server_ports", []string{strings.Replace(r, "-", ":", 1)})
	}
	return f.
		Set("password", c.Auth).
		SetIf(c.UpMbps > 0, "up_mbps", c.UpMbps).
		SetIf(c.DownMbps > 0, "down_mbps", c.DownMbps).
		SetIf(c.Obfs != "", "obfs.type", c.Obfs).
		SetIf(c.Obfs != "", "obfs.password", c.ObfsPassword).
		Set("tls.enabled", true).
		SetIf(c.SNI != "", "tls.server_name", c.SNI).
		Set("tls.insecure", c.Insecure)
}
