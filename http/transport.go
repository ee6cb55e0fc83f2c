package http

import (
	"net/http"
)

// X402Transport is a RoundTripper that pays for 402 Payment Required
// responses. Responses that are not payment challenges, and paid
// responses the server rejects, are returned unchanged; handshake
// failures before the paid retry is sent are returned as errors.
type X402Transport struct {
	client *Client
}

// NewTransport creates an X402Transport configured like NewClient.
func NewTransport(opts ...ClientOption) (*X402Transport, error) {
	c, err := NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &X402Transport{client: c}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	h, err := t.client.newHandshake(req.Context(), req, true)
	if err != nil {
		return nil, err
	}
	result, err := h.run()
	if err != nil {
		return nil, err
	}
	return result.Response, nil
}
