package objectstore

import (
	"crypto/md5" //nolint:gosec // bucket placement only, not a security boundary
	"encoding/binary"
	"fmt"
	"strconv"
)

const (
	argBucket     = "bucket"
	argNumBuckets = "num_buckets"
	argMinBucket  = "min_bucket"

	DefaultNumBuckets = 64
)

// BucketIndex places uid into one of the shards [minBucket, numBuckets).
// The first four hex digits of md5(uid) pick the shard, so placement is stable
// across processes and versions.
func BucketIndex(uid string, numBuckets, minBucket int) (int, error) {
	if numBuckets <= 0 {
		numBuckets = DefaultNumBuckets
	}
	if minBucket < 0 || minBucket >= numBuckets {
		return 0, fmt.Errorf("min_bucket %d must be in [0, %d)", minBucket, numBuckets)
	}

	sum := md5.Sum([]byte(uid)) //nolint:gosec
	h := binary.BigEndian.Uint16(sum[:2])
	return int(h)%(numBuckets-minBucket) + minBucket, nil
}

// shardArgs reads the sharding arguments of a multibucket configuration.
func shardArgs(cfg Config) (prefix string, numBuckets, minBucket int, err error) {
	prefix = cfg.Bucket()

	numBuckets, err = intArg(cfg.Arguments, argNumBuckets, DefaultNumBuckets)
	if err != nil {
		return "", 0, 0, configErr(cfg.Name, err.Error())
	}
	minBucket, err = intArg(cfg.Arguments, argMinBucket, 0)
	if err != nil {
		return "", 0, 0, configErr(cfg.Name, err.Error())
	}
	if numBuckets <= 0 {
		return "", 0, 0, configErr(cfg.Name, "num_buckets must be positive")
	}
	if minBucket < 0 || minBucket >= numBuckets {
		return "", 0, 0, configErr(cfg.Name, fmt.Sprintf("min_bucket %d must be in [0, %d)", minBucket, numBuckets))
	}
	return prefix, numBuckets, minBucket, nil
}

func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", key, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}
