package stowfs

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is mandated by the legacy S3 signature scheme
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	LegacySignaturePrefix = "AWS"
	legacyAmzPrefix       = "x-amz-"
)

// legacySubResources lists the query parameters that take part in the
// canonical resource of a legacy signature. Everything else in the query
// string is ignored by the signer.
var legacySubResources = map[string]struct{}{
	"acl":                          {},
	"cors":                         {},
	"delete":                       {},
	"lifecycle":                    {},
	"location":                     {},
	"logging":                      {},
	"notification":                 {},
	"partNumber":                   {},
	"policy":                       {},
	"requestPayment":               {},
	"response-cache-control":       {},
	"response-content-disposition": {},
	"response-content-encoding":    {},
	"response-content-language":    {},
	"response-content-type":        {},
	"response-expires":             {},
	"restore":                      {},
	"tagging":                      {},
	"torrent":                      {},
	"uploadId":                     {},
	"uploads":                      {},
	"versionId":                    {},
	"versioning":                   {},
	"versions":                     {},
	"website":                      {},
}

// LegacySigner signs requests with the S3 signature version 2 scheme, for
// S3 compatible services that predate version 4.
type LegacySigner struct {
	AccessKey string
	SecretKey string
	Now       func() time.Time
}

func NewLegacySigner(accessKey, secretKey string) *LegacySigner {
	return &LegacySigner{AccessKey: accessKey, SecretKey: secretKey, Now: time.Now}
}

// Sign adds the Date and Authorization headers to r.
//
// The request must use path style addressing, so that the URL path is the
// canonical "/bucket/key" resource. The string to sign is
//
//	METHOD\nContent-MD5\nContent-Type\nDate\nCanonicalAmzHeaders + CanonicalResource
//
// where the date line is left empty when an x-amz-date header is present,
// the amz headers are lowercased, sorted and written as "name:value\n",
// and the resource carries the allow-listed sub-resources in sorted order.
//
// Example:
//
//	signer := stowfs.NewLegacySigner(key, secret)
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://s3.example.com/bucket/urn:oid:5", nil)
//	if err := signer.Sign(req); err != nil {
//	    return err
//	}
func (s *LegacySigner) Sign(r *http.Request) error {
	if s.AccessKey == "" || s.SecretKey == "" {
		return errors.New("legacy sign: missing credentials")
	}

	if r.Header.Get("Date") == "" && r.Header.Get("X-Amz-Date") == "" {
		r.Header.Set("Date", s.now().UTC().Format(http.TimeFormat))
	}

	date := r.Header.Get("Date")
	if r.Header.Get("X-Amz-Date") != "" {
		date = ""
	}

	sts := LegacyStringToSign(r.Method, r.Header, date, r.URL)
	r.Header.Set("Authorization", LegacySignaturePrefix+" "+s.AccessKey+":"+s.signature(sts))
	return nil
}

// Presign returns a copy of u carrying query string authentication that is
// valid until expires.
func (s *LegacySigner) Presign(method string, u *url.URL, expires time.Time) (*url.URL, error) {
	if s.AccessKey == "" || s.SecretKey == "" {
		return nil, errors.New("legacy presign: missing credentials")
	}

	out := *u
	exp := strconv.FormatInt(expires.Unix(), 10)
	sts := LegacyStringToSign(method, http.Header{}, exp, &out)

	q := out.Query()
	q.Set("AWSAccessKeyId", s.AccessKey)
	q.Set("Expires", exp)
	q.Set("Signature", s.signature(sts))
	out.RawQuery = q.Encode()
	return &out, nil
}

// LegacyStringToSign builds the version 2 string to sign. date is the
// value for the date line: the Date header, an Expires timestamp for
// presigned URLs, or empty when x-amz-date is used.
func LegacyStringToSign(method string, header http.Header, date string, u *url.URL) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(header.Get("Content-MD5"))
	b.WriteByte('\n')
	b.WriteString(header.Get("Content-Type"))
	b.WriteByte('\n')
	b.WriteString(date)
	b.WriteByte('\n')
	b.WriteString(canonicalAmzHeaders(header))
	b.WriteString(canonicalResource(u))
	return b.String()
}

func canonicalAmzHeaders(header http.Header) string {
	values := make(map[string][]string)
	for name, vs := range header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, legacyAmzPrefix) {
			continue
		}
		for _, v := range vs {
			values[lower] = append(values[lower], strings.TrimSpace(v))
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(values[name], ","))
		b.WriteByte('\n')
	}
	return b.String()
}

func canonicalResource(u *url.URL) string {
	resource := u.EscapedPath()
	if resource == "" {
		resource = "/"
	}

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		if _, ok := legacySubResources[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return resource
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := query.Get(k); v != "" {
			parts = append(parts, k+"="+v)
		} else {
			parts = append(parts, k)
		}
	}
	return resource + "?" + strings.Join(parts, "&")
}

func (s *LegacySigner) signature(stringToSign string) string {
	h := hmac.New(sha1.New, []byte(s.SecretKey))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (s *LegacySigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
