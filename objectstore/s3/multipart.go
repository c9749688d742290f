package s3

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sagarc03/stowfs"
)

const abortTimeout = 30 * time.Second

func (s *Store) InitiateMultipartUpload(ctx context.Context, urn, mimeType string) (*stowfs.UploadSession, error) {
	in := &s3.CreateMultipartUploadInput{Bucket: aws.String(s.bucket), Key: aws.String(urn)}
	if mimeType != "" {
		in.ContentType = aws.String(mimeType)
	}
	in.SSECustomerAlgorithm, in.SSECustomerKey, in.SSECustomerKeyMD5 = s.sse.params()

	out, err := s.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return nil, translate("create multipart upload", urn, err)
	}
	if aws.ToString(out.UploadId) == "" {
		return nil, fmt.Errorf("s3 create multipart upload %s: empty upload id: %w", urn, stowfs.ErrConsistency)
	}

	s.logger.Debug("initiated multipart upload", "urn", urn, "upload_id", aws.ToString(out.UploadId))
	return stowfs.NewUploadSession(aws.ToString(out.UploadId), urn, s.sse.fingerprint()), nil
}

func (s *Store) UploadPart(ctx context.Context, sess *stowfs.UploadSession, number int, body io.ReadSeeker, size int64) (stowfs.Part, error) {
	if err := sess.CheckEncryption(s.sse.fingerprint()); err != nil {
		return stowfs.Part{}, err
	}

	in := &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(sess.URN),
		UploadId:      aws.String(sess.UploadID),
		PartNumber:    aws.Int32(int32(number)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	in.SSECustomerAlgorithm, in.SSECustomerKey, in.SSECustomerKeyMD5 = s.sse.params()

	out, err := s.client.UploadPart(ctx, in)
	if err != nil {
		return stowfs.Part{}, translate("upload part "+strconv.Itoa(number), sess.URN, err)
	}
	return stowfs.Part{Number: number, Size: size, ETag: aws.ToString(out.ETag)}, nil
}

// CompleteMultipartUpload assembles the recorded parts in part number order
// and confirms the final size with a HEAD request.
func (s *Store) CompleteMultipartUpload(ctx context.Context, sess *stowfs.UploadSession) (int64, error) {
	if err := sess.CheckEncryption(s.sse.fingerprint()); err != nil {
		return 0, err
	}

	parts, err := sess.Parts()
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, fmt.Errorf("s3 complete %s: no parts uploaded: %w", sess.URN, stowfs.ErrConsistency)
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.Number)),
		})
	}

	in := &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(sess.URN),
		UploadId:        aws.String(sess.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	}
	in.SSECustomerAlgorithm, in.SSECustomerKey, in.SSECustomerKeyMD5 = s.sse.params()

	if _, err := s.client.CompleteMultipartUpload(ctx, in); err != nil {
		return 0, translate("complete multipart upload", sess.URN, err)
	}

	info, err := s.StatObject(ctx, sess.URN)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *Store) AbortMultipartUpload(ctx context.Context, sess *stowfs.UploadSession) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(sess.URN),
		UploadId: aws.String(sess.UploadID),
	})
	return translate("abort multipart upload", sess.URN, err)
}

// ListParts returns every part the backend holds for the session, following
// the part number marker until the listing is no longer truncated.
func (s *Store) ListParts(ctx context.Context, sess *stowfs.UploadSession) ([]stowfs.Part, error) {
	in := &s3.ListPartsInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(sess.URN),
		UploadId: aws.String(sess.UploadID),
	}

	var parts []stowfs.Part
	for {
		out, err := s.client.ListParts(ctx, in)
		if err != nil {
			return nil, translate("list parts", sess.URN, err)
		}
		for _, p := range out.Parts {
			parts = append(parts, stowfs.Part{
				Number: int(aws.ToInt32(p.PartNumber)),
				Size:   aws.ToInt64(p.Size),
				ETag:   aws.ToString(p.ETag),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			return parts, nil
		}
		next := aws.ToString(out.NextPartNumberMarker)
		if next == "" || next == aws.ToString(in.PartNumberMarker) {
			return nil, fmt.Errorf("s3 list parts %s: truncated listing without progress: %w", sess.URN, stowfs.ErrConsistency)
		}
		in.PartNumberMarker = aws.String(next)
	}
}

// copyMultipart copies an object bigger than CopyObject allows with one
// UploadPartCopy per range.
func (s *Store) copyMultipart(ctx context.Context, from, to string, size int64) (err error) {
	sess, err := s.InitiateMultipartUpload(ctx, to, "")
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			sess.MarkCompleted()
			return
		}
		sess.MarkFailed()
		actx, cancel := context.WithTimeout(context.Background(), abortTimeout)
		defer cancel()
		if aerr := s.AbortMultipartUpload(actx, sess); aerr != nil {
			s.logger.Warn("failed to abort multipart copy", "urn", to, "upload_id", sess.UploadID, "err", aerr)
			return
		}
		sess.MarkAborted()
	}()

	number := 1
	for start := int64(0); start < size; start += s.copyPartSz {
		end := min(start+s.copyPartSz, size) - 1

		in := &s3.UploadPartCopyInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(to),
			UploadId:        aws.String(sess.UploadID),
			PartNumber:      aws.Int32(int32(number)),
			CopySource:      s.copySource(from),
			CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
		}
		in.SSECustomerAlgorithm, in.SSECustomerKey, in.SSECustomerKeyMD5 = s.sse.params()
		in.CopySourceSSECustomerAlgorithm, in.CopySourceSSECustomerKey, in.CopySourceSSECustomerKeyMD5 = s.sse.params()

		out, err := s.client.UploadPartCopy(ctx, in)
		if err != nil {
			return translate("upload part copy "+strconv.Itoa(number), to, err)
		}
		etag := ""
		if out.CopyPartResult != nil {
			etag = aws.ToString(out.CopyPartResult.ETag)
		}
		if err := sess.Record(stowfs.Part{Number: number, Size: end - start + 1, ETag: etag}); err != nil {
			return err
		}
		number++
	}

	n, err := s.CompleteMultipartUpload(ctx, sess)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("s3 copy %s to %s: copied %d of %d bytes: %w", from, to, n, size, stowfs.ErrConsistency)
	}
	return nil
}
