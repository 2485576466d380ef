package protocol

import (
	"encoding/base64"
	"net/url"
	"slices"
	"strings"
)

// Shadowsocks ciphers accepted by the registry.
var ShadowsocksCiphers = []string{
	"aes-128-gcm",
	"aes-256-gcm",
	"chacha20-ietf-poly1305",
	"2022-blake3-aes-128-gcm",
	"2022-blake3-aes-256-gcm",
	"2022-blake3-chacha20-poly1305",
}

// Shadowsocks is a shared-secret node: a cipher, a password and optional
// simple-obfs plugin settings.
type Shadowsocks struct {
	Cipher   string `json:"cipher"`
	Password string `json:"password"`

	// Obfs is the simple-obfs mode: "", "http" or "tls"
	Obfs     string `json:"obfs,omitempty"`
	ObfsHost string `json:"obfs_host,omitempty"`

	// ServerKey is the server identity key of 2022 ciphers with multiple users.
	// Operator only.
	ServerKey string `json:"server_key,omitempty"`

	// UsersAPI is the node's management endpoint. Operator only.
	UsersAPI string `json:"users_api,omitempty"`
}

func (*Shadowsocks) sealed() {}

func (*Shadowsocks) Kind() Kind { return KindShadowsocks }

func (c *Shadowsocks) Validate() error {
	if c.Cipher == "" {
		return missing(KindShadowsocks, "cipher")
	}
	if !slices.Contains(ShadowsocksCiphers, c.Cipher) {
		return invalid(KindShadowsocks, "cipher", "%q is not supported", c.Cipher)
	}
	if c.Password == "" {
		return missing(KindShadowsocks, "password")
	}
	switch c.Obfs {
	case "", "http", "tls":
	default:
		return invalid(KindShadowsocks, "obfs", "must be http or tls")
	}
	return nil
}

// Redact keeps the cipher, the client password and the obfs settings.
func (c *Shadowsocks) Redact() Config {
	return &Shadowsocks{
		Cipher:   c.Cipher,
		Password: c.Password,
		Obfs:     c.Obfs,
		ObfsHost: c.ObfsHost,
	}
}

func (c *Shadowsocks) pluginOpts() string {
	opts := "obfs=" + c.Obfs
	if c.ObfsHost != "" {
		opts += ";obfs-host=" + c.ObfsHost
	}
	return opts
}

// ClientURI renders a SIP002 link:
// ss://base64url(cipher:password)@host:port[/?plugin=...]#name
func (c *Shadowsocks) ClientURI(ep Endpoint) string {
	var b strings.Builder
	b.WriteString("ss://")
	b.WriteString(base64.RawURLEncoding.EncodeToString([]byte(c.Cipher + ":" + c.Password)))
	b.WriteString("@")
	b.WriteString(ep.Address())
	if c.Obfs != "" {
		b.WriteString("/?plugin=")
		b.WriteString(url.QueryEscape("obfs-local;" + c.pluginOpts()))
	}
	b.WriteString("#")
	b.WriteString(url.PathEscape(ep.Name))
	return b.String()
}

func (c *Shadowsocks) ClashProxy(ep Endpoint) Fields {
	return Fields{}.
		Set("name", ep.Name).
		Set("type", "ss").
		Set("server", ep.Host).
		Set("port", ep.FirstPort()).
		Set("cipher", c.Cipher).
		Set("password", c.Password).
		Set("udp", true).
		SetIf(c.Obfs != "", "plugin", "obfs").
		SetIf(c.Obfs != "", "plugin-opts.mode", c.Obfs).
		SetIf(c.Obfs != "" && c.ObfsHost != "", "plugin-opts.host", c.ObfsHost)
}

func (c *Shadowsocks) Outbound(ep Endpoint) Fields {
	return Fields{}.
		Set("type", "shadowsocks").
		Set("tag", ep.Name).
		Set("server", ep.Host).
		Set("server_port", ep.FirstPort()).
		Set("method", c.Cipher).
		Set("password", c.Password).
		SetIf(c.Obfs != "", "plugin", "obfs-local").
		SetIf(c.Obfs != "", "plugin_opts", c.pluginOpts())
}
