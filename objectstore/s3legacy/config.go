package s3legacy

import (
	"net"
	"net/http"
	"time"

	"github.com/sagarc03/stowfs"
)

// Kind is the configuration kind of this backend.
const Kind = "s3legacy"

// Config holds the arguments of a store that only accepts version 2
// signatures. Requests always use path style addressing.
type Config struct {
	Bucket     string `mapstructure:"bucket" validate:"required"`
	Endpoint   string `mapstructure:"endpoint" validate:"required,url"`
	Key        string `mapstructure:"key" validate:"required"`
	Secret     string `mapstructure:"secret" validate:"required"`
	AutoCreate bool   `mapstructure:"autocreate"`

	PartSize     int64 `mapstructure:"upload_part_size" validate:"omitempty,min=5242880"`
	Concurrency  int   `mapstructure:"concurrent_uploads" validate:"min=0"`
	PutSizeLimit int64 `mapstructure:"put_size_limit" validate:"min=0"`

	// Timeouts in seconds. Zero means no limit.
	ConnectTimeout int `mapstructure:"connect_timeout" validate:"min=0"`
	RequestTimeout int `mapstructure:"request_timeout" validate:"min=0"`
}

func (c Config) uploadOptions() stowfs.UploadOptions {
	return stowfs.UploadOptions{
		PartSize:           c.PartSize,
		Concurrency:        c.Concurrency,
		SinglePutThreshold: c.PutSizeLimit,
	}
}

func (c Config) httpClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if c.ConnectTimeout > 0 {
		d := time.Duration(c.ConnectTimeout) * time.Second
		tr.DialContext = (&net.Dialer{Timeout: d, KeepAlive: 30 * time.Second}).DialContext
		tr.TLSHandshakeTimeout = d
	}
	return &http.Client{
		Transport: tr,
		Timeout:   time.Duration(c.RequestTimeout) * time.Second,
	}
}
