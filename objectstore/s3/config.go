package s3

import (
	"context"
	"crypto/md5" //nolint:gosec // the SSE-C key digest is defined as MD5
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sagarc03/stowfs"
)

// Kind is the configuration kind of this backend.
const Kind = "s3"

const (
	defaultRegion = "us-east-1"
	minPartSize   = 5 << 20
)

// Config holds the arguments of an S3 compatible store. Without key and
// secret the SDK's default credential chain is used.
type Config struct {
	Bucket       string `mapstructure:"bucket" validate:"required"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint" validate:"omitempty,url"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	Key          string `mapstructure:"key" validate:"required_with=Secret"`
	Secret       string `mapstructure:"secret" validate:"required_with=Key"`
	AutoCreate   bool   `mapstructure:"autocreate"`

	// SSECKey enables server side encryption with a customer key. It is the
	// base64 encoding of a 32 byte AES key.
	SSECKey string `mapstructure:"sse_c_key" validate:"omitempty,base64"`

	PartSize    int64 `mapstructure:"upload_part_size" validate:"omitempty,min=5242880"`
	Concurrency int   `mapstructure:"concurrent_uploads" validate:"min=0"`
	// PutSizeLimit is the largest object sent with a single PutObject.
	// Zero means one part.
	PutSizeLimit int64 `mapstructure:"put_size_limit" validate:"min=0"`

	// Timeouts in seconds. Zero leaves the SDK defaults.
	ConnectTimeout int `mapstructure:"connect_timeout" validate:"min=0"`
	RequestTimeout int `mapstructure:"request_timeout" validate:"min=0"`
}

func (c Config) region() string {
	if c.Region == "" {
		return defaultRegion
	}
	return c.Region
}

func (c Config) uploadOptions() stowfs.UploadOptions {
	return stowfs.UploadOptions{
		PartSize:           c.PartSize,
		Concurrency:        c.Concurrency,
		SinglePutThreshold: c.PutSizeLimit,
	}
}

func (c Config) httpClient() *awshttp.BuildableClient {
	client := awshttp.NewBuildableClient()
	if c.RequestTimeout > 0 {
		client = client.WithTimeout(time.Duration(c.RequestTimeout) * time.Second)
	}
	if c.ConnectTimeout > 0 {
		d := time.Duration(c.ConnectTimeout) * time.Second
		client = client.
			WithDialerOptions(func(dialer *net.Dialer) { dialer.Timeout = d }).
			WithTransportOptions(func(tr *http.Transport) { tr.TLSHandshakeTimeout = d })
	}
	return client
}

// newClient builds the SDK client. Checksums are only sent when an
// operation requires them, since many S3 compatible services reject the
// SDK's default trailing checksums.
func newClient(ctx context.Context, c Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.region()),
		awsconfig.WithHTTPClient(c.httpClient()),
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		awsconfig.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
	}
	if c.Key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.Key, c.Secret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w: %w", err, stowfs.ErrConfiguration)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(strings.TrimRight(c.Endpoint, "/"))
		}
		o.UsePathStyle = c.UsePathStyle
	}), nil
}

// sseCustomer holds the SSE-C parameters attached to every request for an
// encrypted bucket.
type sseCustomer struct {
	algorithm string
	key       string
	keyMD5    string
}

func parseSSECKey(encoded string) (*sseCustomer, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("s3: sse_c_key: %w: %w", err, stowfs.ErrConfiguration)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("s3: sse_c_key must decode to 32 bytes, got %d: %w", len(raw), stowfs.ErrConfiguration)
	}
	sum := md5.Sum(raw) //nolint:gosec
	return &sseCustomer{
		algorithm: "AES256",
		key:       encoded,
		keyMD5:    base64.StdEncoding.EncodeToString(sum[:]),
	}, nil
}

// fingerprint identifies the parameters without exposing the key.
func (c *sseCustomer) fingerprint() string {
	if c == nil {
		return ""
	}
	return c.algorithm + ":" + c.keyMD5
}

func (c *sseCustomer) params() (algorithm, key, keyMD5 *string) {
	if c == nil {
		return nil, nil, nil
	}
	return aws.String(c.algorithm), aws.String(c.key), aws.String(c.keyMD5)
}
