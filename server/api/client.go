/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tknacs/tknacsd/version"
)

var defaultUserAgent = "tknacsd/" + version.Version

// DefaultClientTimeout bounds a single API round trip. The SMTP gateway calls
// the API from inside a live SMTP transaction, so requests must not hang.
const DefaultClientTimeout = 10 * time.Second

// Client is a minimal consumer of the token issuance API, used by the SMTP
// gateway to request tokens on behalf of senders and by the status command to
// fetch the service banner.
type Client struct {
	httpClient *http.Client
	baseURI    *url.URL
}

// NewClient creates a Client for the API at baseURI. When insecure is set,
// server certificates are not verified, which allows talking to an API behind
// the generated self-signed certificate.
func NewClient(baseURI *url.URL, insecure bool) *Client {
	httpClient := &http.Client{
		Timeout: DefaultClientTimeout,
	}
	if insecure {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURI:    baseURI,
	}
}

func withUserAgent(req *http.Request) *http.Request {
	req.Header.Set("User-Agent", defaultUserAgent)
	return req
}

// RequestToken asks the API for a fresh token allowing sender to reach
// recipient. A non-200 response is reported with the detail text the API
// returned.
func (c *Client) RequestToken(ctx context.Context, sender, recipient string) (*TokenResponse, error) {
	requestURI := *c.baseURI
	requestURI.Path = "/requestToken/"
	requestURI.RawQuery = url.Values{
		"sender":    {sender},
		"recipient": {recipient},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURI.String(), nil)
	if err != nil {
		return nil, err
	}

	res, err := c.httpClient.Do(withUserAgent(req))
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request rejected: %s", readDetail(res))
	}

	tokenResponse := &TokenResponse{}
	if err = json.NewDecoder(res.Body).Decode(tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	return tokenResponse, nil
}

// Banner fetches the service description from GET /.
func (c *Client) Banner(ctx context.Context) (*Banner, error) {
	requestURI := *c.baseURI
	requestURI.Path = "/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURI.String(), nil)
	if err != nil {
		return nil, err
	}

	res, err := c.httpClient.Do(withUserAgent(req))
	if err != nil {
		return nil, fmt.Errorf("banner request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("banner request rejected: %s", res.Status)
	}

	banner := &Banner{}
	if err = json.NewDecoder(res.Body).Decode(banner); err != nil {
		return nil, fmt.Errorf("failed to parse banner response: %w", err)
	}

	return banner, nil
}

func readDetail(res *http.Response) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Detail == "" {
		return res.Status
	}
	return body.Detail
}
