package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/tidwall/sjson"

	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/protocol"
)

const (
	tagSelect  = "proxy"
	tagAuto    = "auto"
	tagDirect  = "direct"
	tagBlock   = "block"
	tagInbound = "mixed-in"

	dnsRemote = "dns-remote"
)

// ruleActionsSince is the first sing-box release with rule actions. Older
// clients need a block outbound to reject traffic.
var ruleActionsSince = version.Must(version.NewVersion("1.11.0"))

// SingBox renders a sing-box client configuration: a local mixed inbound, one
// outbound per node, a selector and a url-test group.
type SingBox struct {
	// ClientVersion is the sing-box version parsed from the User-Agent, if any.
	ClientVersion *version.Version
}

func (SingBox) Format() Format { return FormatSingBox }

func (SingBox) ContentType() string { return "application/json; charset=utf-8" }

func (s SingBox) ruleActions() bool {
	return s.ClientVersion == nil || s.ClientVersion.GreaterThanOrEqual(ruleActionsSince)
}

func (s SingBox) Emit(doc *Document) ([]byte, error) {
	b := builder{doc: []byte(`{}`)}
	b.set("log.level", "warn")
	b.set("log.timestamp", true)

	s.emitDNS(&b, doc.Routes)

	b.raw("inbounds", `[]`)
	b.append("inbounds", protocol.Fields{}.
		Set("type", "mixed").
		Set("tag", tagInbound).
		Set("listen", "127.0.0.1").
		Set("listen_port", 2080))

	names := doc.Names()
	members := names
	if len(members) == 0 {
		members = []string{tagDirect}
	}
	b.raw("outbounds", `[]`)
	b.append("outbounds", protocol.Fields{}.
		Set("type", "selector").
		Set("tag", tagSelect).
		Set("outbounds", append([]string{tagAuto}, members...)).
		Set("default", tagAuto))
	b.append("outbounds", protocol.Fields{}.
		Set("type", "urltest").
		Set("tag", tagAuto).
		Set("outbounds", members).
		Set("url", healthCheckURL).
		Set("interval", "5m"))
	for _, e := range doc.Entries {
		b.append("outbounds", e.Config.Outbound(e.Endpoint))
	}
	b.append("outbounds", protocol.Fields{}.Set("type", "direct").Set("tag", tagDirect))
	if !s.ruleActions() {
		b.append("outbounds", protocol.Fields{}.Set("type", "block").Set("tag", tagBlock))
	}

	s.emitRoute(&b, doc.Routes)

	if b.err != nil {
		return nil, fmt.Errorf("failed to build sing-box config: %w", b.err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b.doc, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to format sing-box config: %w", err)
	}
	return out.Bytes(), nil
}

func (s SingBox) emitDNS(b *builder, routes []models.RouteRule) {
	b.raw("dns.servers", `[]`)
	b.append("dns.servers", protocol.Fields{}.
		Set("tag", dnsRemote).
		Set("address", "https://1.1.1.1/dns-query").
		Set("detour", tagSelect))
	b.raw("dns.rules", `[]`)
	for _, route := range routes {
		if route.Action != models.RouteActionDNS || route.ActionValue == "" {
			continue
		}
		g := groupPatterns(route)
		if g.empty() {
			continue
		}
		tag := fmt.Sprintf("dns-route-%d", route.ID)
		b.append("dns.servers", protocol.Fields{}.
			Set("tag", tag).
			Set("address", route.ActionValue).
			Set("detour", tagDirect))
		b.append("dns.rules", matchFields(g).Set("server", tag))
	}
	b.set("dns.final", dnsRemote)
}

func (s SingBox) emitRoute(b *builder, routes []models.RouteRule) {
	b.raw("route.rules", `[]`)
	for _, route := range routes {
		g := groupPatterns(route)
		if g.empty() {
			continue
		}
		rule := matchFields(g)
		switch {
		case route.Action == models.RouteActionDNS:
			rule = rule.Set("outbound", tagDirect)
		case s.ruleActions():
			rule = rule.Set("action", "reject")
		default:
			rule = rule.Set("outbound", tagBlock)
		}
		b.append("route.rules", rule)
	}
	b.set("route.final", tagSelect)
	b.set("route.auto_detect_interface", true)
}

func matchFields(g groupedPatterns) protocol.Fields {
	return protocol.Fields{}.
		SetIf(len(g.Full) > 0, "domain", g.Full).
		SetIf(len(g.Suffix) > 0, "domain_suffix", g.Suffix).
		SetIf(len(g.Keyword) > 0, "domain_keyword", g.Keyword).
		SetIf(len(g.Regexp) > 0, "domain_regex", g.Regexp)
}

// builder accumulates sjson edits and keeps the first error.
type builder struct {
	doc []byte
	err error
}

func (b *builder) set(path string, value any) {
	if b.err != nil {
		return
	}
	b.doc, b.err = sjson.SetBytes(b.doc, path, value)
}

func (b *builder) raw(path, value string) {
	if b.err != nil {
		return
	}
	b.doc, b.err = sjson.SetRawBytes(b.doc, path, []byte(value))
}

// append renders fields as an object and appends it to the array at path.
func (b *builder) append(path string, fields protocol.Fields) {
	if b.err != nil {
		return
	}
	obj := []byte(`{}`)
	for _, f := range fields {
		if obj, b.err = sjson.SetBytes(obj, f.Path, f.Value); b.err != nil {
			return
		}
	}
	b.doc, b.err = sjson.SetRawBytes(b.doc, path+".-1", obj)
}
