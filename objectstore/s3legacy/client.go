package s3legacy

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/sagarc03/stowfs"
)

// errorBody is the XML error document S3 compatible services return.
type errorBody struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// ResponseError is a non 2xx answer from the service.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// client signs and sends path style requests for one bucket.
type client struct {
	http     *http.Client
	signer   *stowfs.LegacySigner
	endpoint *url.URL
	bucket   string
}

func newClient(c Config) (*client, error) {
	u, err := url.Parse(strings.TrimRight(c.Endpoint, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("s3legacy: invalid endpoint %q: %w", c.Endpoint, stowfs.ErrConfiguration)
	}
	return &client{
		http:     c.httpClient(),
		signer:   stowfs.NewLegacySigner(c.Key, c.Secret),
		endpoint: u,
		bucket:   c.Bucket,
	}, nil
}

// url returns the path style URL of key. An empty key addresses the bucket.
func (c *client) url(key string, query url.Values) *url.URL {
	u := *c.endpoint
	u.Path = c.endpoint.Path + "/" + c.bucket
	if key != "" {
		u.Path += "/" + key
	}
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = encodeQuery(query)
	}
	return &u
}

// encodeQuery writes valueless parameters such as "uploads" without a
// trailing "=", which some services refuse.
func encodeQuery(query url.Values) string {
	var parts []string
	for k, vs := range query {
		for _, v := range vs {
			if v == "" {
				parts = append(parts, url.QueryEscape(k))
				continue
			}
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

type request struct {
	method   string
	key      string
	query    url.Values
	header   http.Header
	body     io.ReadSeeker
	size     int64
	okStatus []int
}

// do signs and sends r. On success the caller owns the response body.
func (c *client) do(ctx context.Context, r request) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		body = r.body
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.url(r.key, r.query).String(), body)
	if err != nil {
		return nil, err
	}
	for name, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(name, v)
		}
	}
	switch {
	case r.body != nil && r.size == 0:
		req.Body, req.GetBody, req.ContentLength = http.NoBody, nil, 0
	case r.body != nil:
		req.ContentLength = r.size
		seeker := r.body
		req.GetBody = func() (io.ReadCloser, error) {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return io.NopCloser(seeker), nil
		}
	}
	if err := c.signer.Sign(req); err != nil {
		return nil, fmt.Errorf("%w: %w", err, stowfs.ErrConfiguration)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	ok := resp.StatusCode/100 == 2
	for _, s := range r.okStatus {
		if resp.StatusCode == s {
			ok = true
		}
	}
	if ok {
		return resp, nil
	}

	defer resp.Body.Close()
	rerr := &ResponseError{StatusCode: resp.StatusCode}
	if r.method != http.MethodHead {
		var eb errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if xml.Unmarshal(data, &eb) == nil {
			rerr.Code, rerr.Message = eb.Code, eb.Message
		}
	}
	return nil, rerr
}

// doXML sends r and decodes the XML response into out.
func (c *client) doXML(ctx context.Context, r request, out any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w: %w", err, stowfs.ErrConsistency)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func isNotFound(err error) bool {
	var rerr *ResponseError
	if !errors.As(err, &rerr) {
		return false
	}
	switch rerr.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchUpload":
		return true
	}
	return rerr.StatusCode == http.StatusNotFound
}

// translate wraps err with the sentinel matching its cause.
func translate(op, urn string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("s3legacy %s %s: %w", op, urn, err)
	}

	var sentinel error
	var rerr *ResponseError
	var netErr net.Error
	switch {
	case isNotFound(err):
		sentinel = stowfs.ErrNotFound
	case errors.As(err, &rerr):
		switch {
		case rerr.StatusCode == http.StatusUnauthorized, rerr.StatusCode == http.StatusForbidden:
			sentinel = stowfs.ErrAuthFailure
		case rerr.StatusCode >= http.StatusInternalServerError, rerr.StatusCode == http.StatusTooManyRequests:
			sentinel = stowfs.ErrUnavailable
		}
	case errors.As(err, &netErr):
		sentinel = stowfs.ErrUnavailable
	}

	if sentinel == nil {
		return fmt.Errorf("s3legacy %s %s: %w", op, urn, err)
	}
	return fmt.Errorf("s3legacy %s %s: %w: %w", op, urn, sentinel, err)
}
