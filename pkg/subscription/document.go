// Package subscription renders a user's authorized, redacted node set into the
// formats proxy clients consume: a base64 list of share URIs, a Clash profile
// and a sing-box configuration.
//
// All emitters read the same Document. Display names are made unique once
// when the Document is built, so the three outputs always name the same nodes
// the same way.
package subscription

import (
	"fmt"
	"strings"

	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/protocol"
)

// Format identifies an output format.
type Format string

const (
	FormatPlain   Format = "plain"
	FormatClash   Format = "clash"
	FormatSingBox Format = "singbox"
)

// Entry is one node as seen by a client. Config must already be redacted.
type Entry struct {
	NodeID   int64
	Endpoint protocol.Endpoint
	Config   protocol.Config
}

// Document is the input shared by every emitter.
type Document struct {
	Entries []Entry
	Routes  []models.RouteRule
	Quota   models.QuotaHeader
}

// Emitter renders a Document.
type Emitter interface {
	Format() Format
	ContentType() string
	Emit(doc *Document) ([]byte, error)
}

// Names reserved for the groups and built-in outbounds the emitters add.
var reservedNames = map[string]struct{}{
	"DIRECT": {}, "REJECT": {}, "GLOBAL": {},
	groupSelect: {}, groupAuto: {},
	tagDirect: {}, tagBlock: {}, tagSelect: {}, tagAuto: {}, tagInbound: {},
}

// NewDocument builds a Document and makes every entry name unique and
// non-empty. Order is preserved.
func NewDocument(entries []Entry, routes []models.RouteRule, quota models.QuotaHeader) *Document {
	taken := make(map[string]struct{}, len(entries))
	out := make([]Entry, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Endpoint.Name)
		if name == "" {
			name = fmt.Sprintf("node-%d", e.NodeID)
		}
		candidate := name
		for n := 2; ; n++ {
			_, used := taken[candidate]
			_, reserved := reservedNames[candidate]
			if !used && !reserved {
				break
			}
			candidate = fmt.Sprintf("%s #%d", name, n)
		}
		taken[candidate] = struct{}{}
		e.Endpoint.Name = candidate
		out[i] = e
	}
	return &Document{Entries: out, Routes: routes, Quota: quota}
}

// Names returns the display names in document order.
func (d *Document) Names() []string {
	names := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		names[i] = e.Endpoint.Name
	}
	return names
}
