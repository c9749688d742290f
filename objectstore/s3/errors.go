package s3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	smithy "github.com/aws/smithy-go"

	"github.com/sagarc03/stowfs"
)

func httpStatusCode(err error) (int, bool) {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode(), true
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode(), true
	}
	return 0, false
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	switch errorCode(err) {
	case "NoSuchKey", "NotFound", "NoSuchBucket", "NoSuchUpload":
		return true
	}
	status, ok := httpStatusCode(err)
	return ok && status == http.StatusNotFound
}

func isAlreadyOwned(err error) bool {
	switch errorCode(err) {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return true
	}
	return false
}

// translate wraps err with the sentinel matching its cause.
func translate(op, urn string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("s3 %s %s: %w", op, urn, err)
	}

	var sentinel error
	switch {
	case isNotFound(err):
		sentinel = stowfs.ErrNotFound
	default:
		switch errorCode(err) {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			sentinel = stowfs.ErrAuthFailure
		case "InvalidRequest", "InvalidArgument", "InvalidEncryptionAlgorithmError":
			sentinel = stowfs.ErrConfiguration
		}
	}

	if sentinel == nil {
		if status, ok := httpStatusCode(err); ok {
			switch {
			case status == http.StatusUnauthorized, status == http.StatusForbidden:
				sentinel = stowfs.ErrAuthFailure
			case status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
				sentinel = stowfs.ErrUnavailable
			}
		}
	}

	if sentinel == nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			sentinel = stowfs.ErrUnavailable
		}
	}

	if sentinel == nil {
		return fmt.Errorf("s3 %s %s: %w", op, urn, err)
	}
	return fmt.Errorf("s3 %s %s: %w: %w", op, urn, sentinel, err)
}
