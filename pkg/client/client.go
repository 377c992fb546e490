package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/idlink/pkg/identity"
)

const (
	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second
	// DefaultLinkTimeout bounds a whole begin+commit link
	DefaultLinkTimeout = 15 * time.Second

	sessionTokenHeader   = "X-Session-Token"
	idempotencyKeyHeader = "Idempotency-Key"
	maxErrorBody         = 64 << 10
)

// Options configures a Client
type Options struct {
	// HTTPClient overrides the default instrumented client
	HTTPClient  *http.Client
	Timeout     time.Duration
	LinkTimeout time.Duration
}

// Client talks to the idlink HTTP API
type Client struct {
	baseURL     string
	http        *http.Client
	linkTimeout time.Duration
}

// New creates a client for the server at baseURL
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LinkTimeout <= 0 {
		opts.LinkTimeout = DefaultLinkTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{
		baseURL:     strings.TrimRight(u.String(), "/"),
		http:        hc,
		linkTimeout: opts.LinkTimeout,
	}, nil
}

// Session is a resolved session as seen by the client
type Session struct {
	identity.AuthResult
	// Redirected is true when the presented token was replaced by a link
	Redirected bool
}

// CreateAnonymous creates an anonymous identity, or returns the current
// session when token is still valid
func (c *Client) CreateAnonymous(ctx context.Context, token string) (*identity.AuthResult, error) {
	var out identity.AuthResult
	if _, err := c.do(ctx, "client.CreateAnonymous", call{method: http.MethodPost, path: "/identity/anonymous", token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignUp registers a permanent identity. A current anonymous session in the
// request links it.
func (c *Client) SignUp(ctx context.Context, req identity.SignUpRequest) (*identity.AuthResult, error) {
	var out identity.AuthResult
	if _, err := c.do(ctx, "client.SignUp", call{method: http.MethodPost, path: "/identity/signup", body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignIn authenticates a permanent identity
func (c *Client) SignIn(ctx context.Context, req identity.SignInRequest) (*identity.AuthResult, error) {
	var out identity.AuthResult
	if _, err := c.do(ctx, "client.SignIn", call{method: http.MethodPost, path: "/identity/signin", body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignOut deletes the session behind token
func (c *Client) SignOut(ctx context.Context, token string) error {
	_, err := c.do(ctx, "client.SignOut", call{method: http.MethodPost, path: "/identity/signout", token: token}, nil)
	return err
}

// Session resolves token into the current identity and session
func (c *Client) Session(ctx context.Context, token string) (*Session, error) {
	var out Session
	header, err := c.do(ctx, "client.Session", call{method: http.MethodGet, path: "/identity/session", token: token}, &out.AuthResult)
	if err != nil {
		return nil, err
	}
	if replaced := header.Get(sessionTokenHeader); replaced != "" {
		out.Redirected = true
		out.Session.Token = replaced
	}
	return &out, nil
}

// BeginLink starts linking the caller's anonymous identity
func (c *Client) BeginLink(ctx context.Context, token string, req identity.BeginLinkRequest) (*identity.LinkStatus, error) {
	var out identity.LinkStatus
	cl := call{method: http.MethodPost, path: "/identity/link/begin", token: token, body: req, idempotencyKey: req.IdempotencyKey}
	if _, err := c.do(ctx, "client.BeginLink", cl, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CommitLink commits a pending link request. Safe to repeat.
func (c *Client) CommitLink(ctx context.Context, token, linkRequestID string) (*identity.LinkOutcome, error) {
	var out identity.LinkOutcome
	cl := call{method: http.MethodPost, path: "/identity/link/commit", token: token, body: identity.CommitLinkRequest{LinkRequestID: linkRequestID}}
	if _, err := c.do(ctx, "client.CommitLink", cl, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLink returns the status of a link request
func (c *Client) GetLink(ctx context.Context, token, linkRequestID string) (*identity.LinkStatus, error) {
	var out identity.LinkStatus
	cl := call{method: http.MethodGet, path: "/identity/link/" + url.PathEscape(linkRequestID), token: token}
	if _, err := c.do(ctx, "client.GetLink", cl, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Link runs begin and commit under the link timeout
func (c *Client) Link(ctx context.Context, token string, req identity.BeginLinkRequest) (*identity.LinkOutcome, error) {
	const op = "client.Link"

	linkCtx, cancel := context.WithTimeout(ctx, c.linkTimeout)
	defer cancel()

	status, err := c.BeginLink(linkCtx, token, req)
	if err != nil {
		return nil, c.linkErr(ctx, linkCtx, op, err)
	}

	var out *identity.LinkOutcome
	switch status.State {
	case identity.LinkPending, identity.LinkMigrating, identity.LinkCommitted:
		out, err = c.CommitLink(linkCtx, token, status.ID)
	default:
		err = &identity.Error{
			Kind:       identity.KindMigrationFailure,
			Op:         op,
			Message:    fmt.Sprintf("link request %s is %s", status.ID, status.State),
			DataIntact: true,
		}
	}
	if err != nil {
		return nil, c.linkErr(ctx, linkCtx, op, err)
	}
	return out, nil
}

// linkErr reports an expired link timeout as a failed link. Cancellation by
// the caller passes through unchanged.
func (c *Client) linkErr(parent, linkCtx context.Context, op string, err error) error {
	if parent.Err() == nil && errors.Is(linkCtx.Err(), context.DeadlineExceeded) {
		return &identity.Error{
			Kind:       identity.KindMigrationFailure,
			Op:         op,
			Message:    fmt.Sprintf("link did not complete within %s", c.linkTimeout),
			Err:        err,
			DataIntact: true,
		}
	}
	return err
}

// RequestMagicLink asks the server to email a sign-in link
func (c *Client) RequestMagicLink(ctx context.Context, email string) error {
	_, err := c.do(ctx, "client.RequestMagicLink", call{method: http.MethodPost, path: "/identity/magic-link", body: identity.MagicLinkRequest{Email: email}}, nil)
	return err
}

// VerifyMagicLink redeems a magic-link token
func (c *Client) VerifyMagicLink(ctx context.Context, req identity.VerifyMagicLinkRequest) (*identity.AuthResult, error) {
	var out identity.AuthResult
	cl := call{method: http.MethodPost, path: "/identity/magic-link/verify", body: req, idempotencyKey: req.IdempotencyKey}
	if _, err := c.do(ctx, "client.VerifyMagicLink", cl, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile returns the caller's permanent profile
func (c *Client) Profile(ctx context.Context, token string) (*identity.Profile, error) {
	var out identity.Profile
	if _, err := c.do(ctx, "client.Profile", call{method: http.MethodGet, path: "/api/user/profile", token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateResource creates a resource owned by the caller
func (c *Client) CreateResource(ctx context.Context, token, kind, title string) (*identity.OwnedResource, error) {
	var out identity.OwnedResource
	cl := call{method: http.MethodPost, path: "/api/resources", token: token, body: identity.CreateResourceRequest{Kind: kind, Title: title}}
	if _, err := c.do(ctx, "client.CreateResource", cl, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListResources lists the caller's resources
func (c *Client) ListResources(ctx context.Context, token string) ([]*identity.OwnedResource, error) {
	var out struct {
		Resources []*identity.OwnedResource `json:"resources"`
	}
	if _, err := c.do(ctx, "client.ListResources", call{method: http.MethodGet, path: "/api/resources", token: token}, &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

type call struct {
	method         string
	path           string
	token          string
	body           interface{}
	idempotencyKey string
}

func (c *Client) do(ctx context.Context, op string, cl call, out interface{}) (http.Header, error) {
	var body io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return nil, identity.Wrap(identity.KindInternal, op, fmt.Errorf("failed to encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return nil, identity.Wrap(identity.KindInternal, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}
	if cl.idempotencyKey != "" {
		req.Header.Set(idempotencyKeyHeader, cl.idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, identity.Wrap(identity.KindStoreUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.Header, decodeError(op, resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, identity.Wrap(identity.KindInternal, op, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return resp.Header, nil
}

func decodeError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body identity.ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		e := body.AsError(op)
		if body.Kind == "" {
			e.Kind = kindForStatus(resp.StatusCode)
		}
		return e
	}

	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return identity.NewError(kindForStatus(resp.StatusCode), op, msg)
}

func kindForStatus(status int) identity.ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return identity.KindValidation
	case http.StatusUnauthorized:
		return identity.KindSessionExpired
	case http.StatusNotFound:
		return identity.KindNotFound
	case http.StatusConflict:
		return identity.KindConflict
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return identity.KindStoreUnavailable
	default:
		return identity.KindInternal
	}
}
