package subscription

import (
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
)

// Client describes the requesting client as far as it can be told from the
// request.
type Client struct {
	Format Format

	// Version is the client version when the User-Agent carries one.
	Version *version.Version

	// QuotaByDefault is set for clients known to read subscription-userinfo.
	QuotaByDefault bool
}

var flagFormats = map[string]Format{
	"plain":        FormatPlain,
	"base64":       FormatPlain,
	"v2rayn":       FormatPlain,
	"v2rayng":      FormatPlain,
	"shadowrocket": FormatPlain,
	"clash":        FormatClash,
	"meta":         FormatClash,
	"mihomo":       FormatClash,
	"stash":        FormatClash,
	"singbox":      FormatSingBox,
	"sing-box":     FormatSingBox,
	"sfa":          FormatSingBox,
	"sfi":          FormatSingBox,
	"sfm":          FormatSingBox,
}

// uaMarkers are checked in order; sing-box apps also mention other cores.
var uaMarkers = []struct {
	marker string
	format Format
}{
	{"sing-box", FormatSingBox},
	{"sfa/", FormatSingBox},
	{"sfi/", FormatSingBox},
	{"sfm/", FormatSingBox},
	{"mihomo", FormatClash},
	{"clash", FormatClash},
	{"stash", FormatClash},
}

var singBoxVersion = regexp.MustCompile(`(?i)sing-box[ /]v?(\d+\.\d+(?:\.\d+)?)`)

// Detect picks the output format. An explicit flag wins over the User-Agent;
// anything unrecognized gets the plain list.
func Detect(flag, userAgent string) Client {
	format, ok := flagFormats[strings.ToLower(strings.TrimSpace(flag))]
	if !ok {
		format = FormatPlain
		ua := strings.ToLower(userAgent)
		for _, m := range uaMarkers {
			if strings.Contains(ua, m.marker) {
				format = m.format
				break
			}
		}
	}

	c := Client{Format: format, QuotaByDefault: format != FormatPlain}
	if format == FormatSingBox {
		if m := singBoxVersion.FindStringSubmatch(userAgent); m != nil {
			if v, err := version.NewVersion(m[1]); err == nil {
				c.Version = v
			}
		}
	}
	return c
}

// EmitterFor returns the emitter for a detected client.
func EmitterFor(c Client) Emitter {
	switch c.Format {
	case FormatClash:
		return Clash{}
	case FormatSingBox:
		return SingBox{ClientVersion: c.Version}
	default:
		return Plain{}
	}
}
