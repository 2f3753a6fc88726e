// Package api provides the HTTP bindings for the remote template
// service: templates, localizations, stylesheets, sample data, and
// previews.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tplsync/tplsync/session"
)

// templateAPI is the versioned API prefix for all template/style calls.
const templateAPI = "/v0/d/templates"

// defaultTimeout bounds each individual request.
const defaultTimeout = 60 * time.Second

// Client is a thin HTTP client bound to an authenticated session.
type Client struct {
	session *session.Session
	http    *http.Client
}

// New returns a client for the given session. proxyURL may be empty,
// in which case HTTP_PROXY/HTTPS_PROXY from the environment apply.
// A zero timeout selects the default.
func New(sess *session.Session, proxyURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		session: sess,
		http:    newHTTPClient(proxyURL, timeout),
	}
}

// newHTTPClient builds an http.Client with proxy support.
func newHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is a non-2xx response from the service. It carries enough
// context to report a dispatch failure per item without aborting the
// sibling dispatches.
type Error struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// maxErrBody limits how much of an error response body is kept.
const maxErrBody = 512

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.session.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.session.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := string(respBody)
		if len(excerpt) > maxErrBody {
			excerpt = excerpt[:maxErrBody]
		}
		return nil, &Error{Method: method, Path: path, Status: resp.StatusCode, Body: excerpt}
	}

	return respBody, nil
}

// getEntity fetches a raw text entity below the template API prefix.
func (c *Client) getEntity(ctx context.Context, uriPart string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, templateAPI+uriPart, nil, "")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// updateEntity uploads a raw text entity below the template API prefix.
func (c *Client) updateEntity(ctx context.Context, uriPart, data string) error {
	_, err := c.do(ctx, http.MethodPut, templateAPI+uriPart, []byte(data), "text/plain")
	return err
}

// listResponse is the {"data": [{"id": ...}]} list envelope.
type listResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// getEntityList fetches a list of entity identifiers.
func (c *Client) getEntityList(ctx context.Context, entityName string) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, templateAPI+"/"+entityName, nil, "")
	if err != nil {
		return nil, err
	}

	var lr listResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("parsing %s list: %w", entityName, err)
	}

	ids := make([]string, 0, len(lr.Data))
	for _, item := range lr.Data {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Templates lists all remote template identifiers.
func (c *Client) Templates(ctx context.Context) ([]string, error) {
	return c.getEntityList(ctx, "templates")
}

// Template fetches one template's content for a locale.
func (c *Client) Template(ctx context.Context, name, locale string) (string, error) {
	return c.getEntity(ctx, fmt.Sprintf("/templates/%s/localization/%s", name, locale))
}

// UpdateTemplate uploads template content for a locale.
func (c *Client) UpdateTemplate(ctx context.Context, name, locale, content string) error {
	return c.updateEntity(ctx, fmt.Sprintf("/templates/%s/localization/%s", name, locale), content)
}

// SampleData fetches the sample data object for a template.
func (c *Client) SampleData(ctx context.Context, name string) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/templates/%s/sample_data", templateAPI, name), nil, "")
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parsing sample data for %s: %w", name, err)
	}
	return data, nil
}

// SampleDocumentation fetches the sample data documentation for a template.
func (c *Client) SampleDocumentation(ctx context.Context, name string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/templates/%s/documentation", templateAPI, name), nil, "")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Preview renders a preview document from template content and sample data.
func (c *Client) Preview(ctx context.Context, name, locale, template string, data map[string]any) (string, error) {
	payload, err := json.Marshal(struct {
		Template    string         `json:"template"`
		Data        map[string]any `json:"data"`
		Locale      string         `json:"locale"`
		ContentType string         `json:"content_type"`
	}{
		Template:    template,
		Data:        data,
		Locale:      locale,
		ContentType: "html",
	})
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/templates/%s/preview", templateAPI, name), payload, "application/json")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

// Styles lists all remote style identifiers.
func (c *Client) Styles(ctx context.Context) ([]string, error) {
	return c.getEntityList(ctx, "styles")
}

// Style fetches one stylesheet's content.
func (c *Client) Style(ctx context.Context, name string) (string, error) {
	return c.getEntity(ctx, "/styles/"+name)
}

// UpdateStyle uploads stylesheet content.
func (c *Client) UpdateStyle(ctx context.Context, name, content string) error {
	return c.updateEntity(ctx, "/styles/"+name, content)
}
