// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpcall implements the CallHTTP activity: the side effect
// behind a `call: http` task. It resolves the task's endpoint, method,
// headers, query, and body against the node's scope, issues the request
// over pkg/httpclient, and shapes the response per outputMode.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/workflowrt/engine/pkg/httpclient"
	"github.com/workflowrt/engine/pkg/model"
	"github.com/workflowrt/engine/pkg/position"
	"github.com/workflowrt/engine/pkg/werror"
)

// Evaluator is the subset of internal/expr.Evaluator needed to resolve a
// CallSpec's fields. Declared locally (rather than importing
// internal/interp.Evaluator) so this package has no dependency on the
// interpreter; anything implementing Eval satisfies it.
type Evaluator interface {
	Eval(ctx context.Context, pos position.Position, expression any, scope map[string]any) (any, error)
}

// Config holds the CallHTTP activity's security and resource limits
// (AllowedHosts, RequireHTTPS, BlockPrivateIPs, MaxResponseSize,
// MaxRedirects). The allow-list and private-IP checks below are
// implemented directly against net/net.IP rather than a dedicated
// DNS-exfiltration-monitoring library, since no such library is in use
// here.
type Config struct {
	// Timeout bounds one request end to end.
	Timeout time.Duration

	// AllowedHosts restricts which hosts may be contacted; empty allows
	// any host subject to the other checks below.
	AllowedHosts []string

	// RequireHTTPS rejects plain-http endpoints.
	RequireHTTPS bool

	// BlockPrivateIPs rejects loopback, link-local, and RFC1918/RFC4193
	// addresses, whether given literally or resolved via DNS.
	BlockPrivateIPs bool

	// MaxResponseSize caps how many response bytes are read; exceeding it
	// fails the call rather than buffering unbounded memory.
	MaxResponseSize int64

	// MaxRedirects bounds the underlying client's redirect following (0
	// disables following redirects entirely).
	MaxRedirects int

	// UserAgent overrides pkg/httpclient's default User-Agent.
	UserAgent string
}

// DefaultConfig returns conservative defaults: 30s timeout, private IPs
// blocked, 10MB response cap, 10 redirects followed.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		RequireHTTPS:    false,
		BlockPrivateIPs: true,
		MaxResponseSize: 10 * 1024 * 1024,
		MaxRedirects:    10,
	}
}

// Activity implements the CallHTTP side of interp.Activities.
type Activity struct {
	client *http.Client
	eval   Evaluator
	cfg    Config
}

// New builds an Activity from cfg, composing an *http.Client via
// pkg/httpclient. Retries are disabled at the transport layer: the
// workflow's own try/catch retry clause is what governs re-attempting a
// CallHTTP node, and retrying underneath that as well would risk a
// non-idempotent call firing twice for what the workflow sees as one
// attempt.
func New(eval Evaluator, cfg Config) (*Activity, error) {
	hcCfg := httpclient.DefaultConfig()
	hcCfg.Timeout = cfg.Timeout
	hcCfg.RetryAttempts = 0
	if cfg.UserAgent != "" {
		hcCfg.UserAgent = cfg.UserAgent
	}

	client, err := httpclient.New(hcCfg)
	if err != nil {
		return nil, fmt.Errorf("httpcall: building client: %w", err)
	}

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if cfg.MaxRedirects <= 0 {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
		}
		return nil
	}

	return &Activity{client: client, eval: eval, cfg: cfg}, nil
}

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// CallHTTP resolves n.Call against sc and performs the request.
func (a *Activity) CallHTTP(ctx context.Context, n *model.Node, sc map[string]any) (any, error) {
	spec := n.Call
	if spec == nil {
		return nil, werror.New(werror.Configuration, n.Position, "call: http requires a with clause")
	}

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, werror.Newf(werror.Configuration, n.Position, "unsupported HTTP method %q", method)
	}

	rawEndpoint, err := a.eval.Eval(ctx, n.Position, spec.Endpoint, sc)
	if err != nil {
		return nil, err
	}
	endpoint, endpointObj, ok := endpointParts(rawEndpoint)
	if !ok {
		return nil, werror.New(werror.Configuration, n.Position, "endpoint must resolve to a URI string or {uri: string} object")
	}

	if err := a.validateURL(n.Position, endpoint); err != nil {
		return nil, err
	}

	var body io.Reader
	var bodyBytes []byte
	if spec.Body != nil {
		resolvedBody, err := a.eval.Eval(ctx, n.Position, spec.Body, sc)
		if err != nil {
			return nil, err
		}
		bodyBytes, err = encodeBody(resolvedBody)
		if err != nil {
			return nil, werror.New(werror.Configuration, n.Position, "body could not be encoded").WithCause(err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, werror.New(werror.Configuration, n.Position, "invalid HTTP request").WithCause(err)
	}
	if bodyBytes != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if endpointObj != nil {
		if err := a.applyAuthentication(n.Position, req, endpointObj["authentication"]); err != nil {
			return nil, err
		}
	}

	if len(spec.Headers) > 0 {
		resolved, err := a.eval.Eval(ctx, n.Position, anyMap(spec.Headers), sc)
		if err != nil {
			return nil, err
		}
		applyHeaders(req, resolved)
	}
	if len(spec.Query) > 0 {
		resolved, err := a.eval.Eval(ctx, n.Position, anyMap(spec.Query), sc)
		if err != nil {
			return nil, err
		}
		applyQuery(req, resolved)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, werror.New(werror.Timeout, n.Position, "HTTP request timed out").WithCause(ctx.Err())
		}
		return nil, werror.New(werror.Communication, n.Position, "HTTP request failed").WithCause(err)
	}
	defer resp.Body.Close()

	limit := a.maxResponseSize()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, werror.New(werror.Communication, n.Position, "failed to read response body").WithCause(err)
	}
	if int64(len(raw)) > limit {
		return nil, werror.Newf(werror.Communication, n.Position, "response exceeded max size of %d bytes", limit)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, werror.Newf(werror.Communication, n.Position, "HTTP request returned status %d", resp.StatusCode).
			WithDetails(string(raw))
	}

	return buildOutput(spec.OutputMode, resp, raw), nil
}

func (a *Activity) maxResponseSize() int64 {
	if a.cfg.MaxResponseSize > 0 {
		return a.cfg.MaxResponseSize
	}
	return 10 * 1024 * 1024
}

// validateURL applies the scheme/host/private-IP checks from Config.
func (a *Activity) validateURL(pos position.Position, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return werror.New(werror.Configuration, pos, "invalid URL").WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return werror.Newf(werror.Configuration, pos, "unsupported URL scheme %q", u.Scheme)
	}
	if a.cfg.RequireHTTPS && u.Scheme != "https" {
		return werror.New(werror.Authorization, pos, "HTTPS required for this endpoint")
	}

	host := u.Hostname()
	if len(a.cfg.AllowedHosts) > 0 && !hostAllowed(host, a.cfg.AllowedHosts) {
		return werror.Newf(werror.Authorization, pos, "host %q is not in the allowed list", host)
	}
	if a.cfg.BlockPrivateIPs && isPrivateHost(host) {
		return werror.Newf(werror.Authorization, pos, "requests to private or loopback address %q are blocked", host)
	}
	return nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, h := range allowed {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// isPrivateHost reports whether host (a literal IP or a DNS name) points
// at a loopback, link-local, or private-range address. A DNS name is
// blocked if ANY of its resolved addresses is private, not just the
// first, closing the DNS-rebinding gap a single-answer check would leave.
func isPrivateHost(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return isPrivateIP(ip)
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hosts fail later at dial time; nothing to block here.
		return false
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return true
		}
	}
	return false
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() || ip.IsUnspecified()
}

// applyAuthentication sets the request's Authorization header from an
// endpoint object's `authentication` sub-object, mirroring the daemon's own
// bearer-token auth middleware. Only scheme "bearer" is supported: either a
// static `token`, or a `signingKey` the activity signs a fresh JWT with
// (optional `claims` merged in, plus auto iat/exp from `expiresIn`). A nil
// or empty raw is a no-op, since authentication is optional per endpoint.
func (a *Activity) applyAuthentication(pos position.Position, req *http.Request, raw any) error {
	if raw == nil {
		return nil
	}
	policy, ok := raw.(map[string]any)
	if !ok || len(policy) == 0 {
		return nil
	}

	scheme, _ := policy["scheme"].(string)
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	switch scheme {
	case "", "bearer":
		// "" defaults to bearer, the only scheme this activity understands.
	default:
		return werror.Newf(werror.Configuration, pos, "unsupported authentication scheme %q", scheme)
	}

	if token, ok := policy["token"].(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}

	signingKey, ok := policy["signingKey"].(string)
	if !ok || signingKey == "" {
		return werror.New(werror.Configuration, pos, "bearer authentication requires a token or signingKey")
	}

	claims := jwt.MapClaims{}
	if claimsMap, ok := policy["claims"].(map[string]any); ok {
		for k, v := range claimsMap {
			claims[k] = v
		}
	}
	now := time.Now()
	claims["iat"] = now.Unix()
	expiresIn := 5 * time.Minute
	if s, ok := policy["expiresIn"].(string); ok && s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			expiresIn = d
		}
	}
	claims["exp"] = now.Add(expiresIn).Unix()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		return werror.New(werror.Configuration, pos, "failed to sign bearer token").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	return nil
}

// endpointParts accepts either a bare URI string or a {uri: "...",
// authentication: {...}} endpoint object, the two shapes the DSL's
// `endpoint` field allows. The object form is also returned so callers can
// read sibling keys such as authentication; it is nil for the bare-string
// form.
func endpointParts(v any) (uri string, obj map[string]any, ok bool) {
	switch t := v.(type) {
	case string:
		return t, nil, t != ""
	case map[string]any:
		if u, ok := t["uri"].(string); ok && u != "" {
			return u, t, true
		}
	}
	return "", nil, false
}

func anyMap(m map[string]any) map[string]any {
	return m
}

func applyHeaders(req *http.Request, resolved any) {
	m, ok := resolved.(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		req.Header.Set(k, stringifyHeaderValue(v))
	}
}

func stringifyHeaderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func applyQuery(req *http.Request, resolved any) {
	m, ok := resolved.(map[string]any)
	if !ok {
		return
	}
	q := req.URL.Query()
	for k, v := range m {
		q.Set(k, stringifyHeaderValue(v))
	}
	req.URL.RawQuery = q.Encode()
}

// encodeBody marshals v for the wire: a string passes through raw (the
// caller likely already produced exact JSON/text), anything else is
// JSON-encoded.
func encodeBody(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

// buildOutput shapes the HTTP response per the task's outputMode:
// "response" surfaces status/headers/body, "raw" returns the undecoded
// body as a string, and the default ("content" or unset) parses JSON
// bodies into their native structure and falls back to a string for
// anything else.
func buildOutput(mode string, resp *http.Response, raw []byte) any {
	switch mode {
	case "response":
		return map[string]any{
			"statusCode": resp.StatusCode,
			"headers":    headersToMap(resp.Header),
			"body":       decodeBody(raw, resp.Header.Get("Content-Type")),
		}
	case "raw":
		return string(raw)
	default:
		return decodeBody(raw, resp.Header.Get("Content-Type"))
	}
}

func decodeBody(raw []byte, contentType string) any {
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func headersToMap(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			vs := make([]any, len(v))
			for i, s := range v {
				vs[i] = s
			}
			out[k] = vs
		}
	}
	return out
}
