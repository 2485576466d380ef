package subscription

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/protocol"
)

const (
	groupSelect = "Proxy"
	groupAuto   = "Auto"

	healthCheckURL = "http://www.gstatic.com/generate_204"
)

// Clash renders a rule-based Clash / mihomo profile.
type Clash struct{}

func (Clash) Format() Format { return FormatClash }

func (Clash) ContentType() string { return "text/yaml; charset=utf-8" }

func (Clash) Emit(doc *Document) ([]byte, error) {
	root := mapping()
	add(root, "mixed-port", scalar(7890))
	add(root, "allow-lan", scalar(false))
	add(root, "mode", scalar("rule"))
	add(root, "log-level", scalar("info"))

	if dns := clashDNS(doc.Routes); dns != nil {
		add(root, "dns", dns)
	}

	proxies := sequence()
	for _, e := range doc.Entries {
		node, err := fieldsNode(e.Config.ClashProxy(e.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("failed to render node %d: %w", e.NodeID, err)
		}
		proxies.Content = append(proxies.Content, node)
	}
	add(root, "proxies", proxies)

	names := doc.Names()
	groups := sequence()
	selectMembers := append([]string{groupAuto}, names...)
	selectMembers = append(selectMembers, "DIRECT")
	groups.Content = append(groups.Content, groupNode(groupSelect, "select", selectMembers))
	autoMembers := names
	if len(autoMembers) == 0 {
		autoMembers = []string{"DIRECT"}
	}
	auto := groupNode(groupAuto, "url-test", autoMembers)
	add(auto, "url", scalar(healthCheckURL))
	add(auto, "interval", scalar(300))
	groups.Content = append(groups.Content, auto)
	add(root, "proxy-groups", groups)

	rules := sequence()
	for _, r := range clashRules(doc.Routes) {
		rules.Content = append(rules.Content, scalar(r))
	}
	add(root, "rules", rules)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, fmt.Errorf("failed to encode clash profile: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode clash profile: %w", err)
	}
	return buf.Bytes(), nil
}

// clashRules maps block rules to REJECT and DNS overrides to DIRECT, so that
// the domain is resolved through the nameserver policy and connected directly.
func clashRules(routes []models.RouteRule) []string {
	var rules []string
	for _, route := range routes {
		target := "REJECT"
		if route.Action == models.RouteActionDNS {
			target = "DIRECT"
		}
		g := groupPatterns(route)
		for _, v := range g.Full {
			rules = append(rules, "DOMAIN,"+v+","+target)
		}
		for _, v := range g.Suffix {
			rules = append(rules, "DOMAIN-SUFFIX,"+v+","+target)
		}
		for _, v := range g.Keyword {
			rules = append(rules, "DOMAIN-KEYWORD,"+v+","+target)
		}
		for _, v := range g.Regexp {
			rules = append(rules, "DOMAIN-REGEX,"+v+","+target)
		}
	}
	return append(rules, "MATCH,"+groupSelect)
}

// clashDNS builds a nameserver-policy for DNS override routes. Keyword and
// regexp patterns cannot be expressed as policy keys and are matched by rules only.
func clashDNS(routes []models.RouteRule) *yaml.Node {
	policy := mapping()
	for _, route := range routes {
		if route.Action != models.RouteActionDNS || route.ActionValue == "" {
			continue
		}
		g := groupPatterns(route)
		for _, v := range g.Full {
			add(policy, v, scalar(route.ActionValue))
		}
		for _, v := range g.Suffix {
			add(policy, "+."+strings.TrimPrefix(v, "."), scalar(route.ActionValue))
		}
	}
	if len(policy.Content) == 0 {
		return nil
	}
	dns := mapping()
	add(dns, "enable", scalar(true))
	add(dns, "enhanced-mode", scalar("fake-ip"))
	ns := sequence()
	ns.Content = append(ns.Content, scalar("https://1.1.1.1/dns-query"))
	add(dns, "nameserver", ns)
	add(dns, "nameserver-policy", policy)
	return dns
}

func groupNode(name, kind string, members []string) *yaml.Node {
	g := mapping()
	add(g, "name", scalar(name))
	add(g, "type", scalar(kind))
	list := sequence()
	for _, m := range members {
		list.Content = append(list.Content, scalar(m))
	}
	add(g, "proxies", list)
	return g
}

// fieldsNode turns ordered dotted fields into a nested YAML mapping.
func fieldsNode(fields protocol.Fields) (*yaml.Node, error) {
	root := mapping()
	for _, f := range fields {
		parts := strings.Split(f.Path, ".")
		parent := root
		for _, key := range parts[:len(parts)-1] {
			parent = child(parent, key)
		}
		var value yaml.Node
		if err := value.Encode(f.Value); err != nil {
			return nil, err
		}
		add(parent, parts[len(parts)-1], &value)
	}
	return root, nil
}

// child returns the mapping stored at key, creating it when absent.
func child(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	c := mapping()
	add(m, key, c)
	return c
}

func mapping() *yaml.Node  { return &yaml.Node{Kind: yaml.MappingNode} }
func sequence() *yaml.Node { return &yaml.Node{Kind: yaml.SequenceNode} }

func scalar(v any) *yaml.Node {
	var n yaml.Node
	// Encoding a scalar into a node cannot fail.
	_ = n.Encode(v)
	return &n
}

func add(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}
