package subscription

import (
	"encoding/base64"
	"strings"
)

// Plain renders one share URI per node, newline separated, base64 encoded.
// This is the format understood by v2rayN, Shadowrocket and most mobile clients.
type Plain struct{}

func (Plain) Format() Format { return FormatPlain }

func (Plain) ContentType() string { return "text/plain; charset=utf-8" }

func (Plain) Emit(doc *Document) ([]byte, error) {
	lines := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		lines = append(lines, e.Config.ClientURI(e.Endpoint))
	}
	blob := strings.Join(lines, "\n")
	if blob != "" {
		blob += "\n"
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(blob)))
	base64.StdEncoding.Encode(out, []byte(blob))
	return out, nil
}
