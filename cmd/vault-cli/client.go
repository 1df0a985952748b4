package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"epochvault/crypto"
	"epochvault/services/vaultd/server"
)

// apiError is a non-2xx response from vaultd.
type apiError struct {
	Status int
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "vaultd returned %d", e.Status)
	if e.Kind != "" {
		fmt.Fprintf(&b, " [%s", e.Kind)
		if e.Reason != "" {
			fmt.Fprintf(&b, "/%s", e.Reason)
		}
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	return b.String()
}

type client struct {
	baseURL string
	http    *http.Client
	auth    server.AuthOptions
	timeout time.Duration
}

func newClient(baseURL string, auth server.AuthOptions, transport http.RoundTripper) *client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(transport)},
		auth:    auth,
		timeout: 30 * time.Second,
	}
}

// get decodes a public endpoint into out.
func (c *client) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, nil, out)
}

// post sends body signed as signer's bearer token.
func (c *client) post(path string, signer crypto.Signer, body, out interface{}) error {
	return c.do(http.MethodPost, path, signer, body, out)
}

func (c *client) do(method, path string, signer crypto.Signer, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signer != nil {
		token, err := server.IssueToken(c.auth, signer.SignerAddress(), 5*time.Minute)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil {
			apiErr.Msg = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
