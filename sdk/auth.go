package sdk

import "net/http"

// HeaderNodeToken is the header the server reads node tokens from.
const HeaderNodeToken = "X-Subgate-Node-Token"

// addAuthHeaders sets the node token on req.
func (c *Client) addAuthHeaders(req *http.Request) error {
	if c.nodeToken == "" {
		return ErrMissingAuth
	}
	req.Header.Set(HeaderNodeToken, c.nodeToken)
	return nil
}
