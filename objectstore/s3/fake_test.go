package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
)

type fakeUpload struct {
	key   string
	parts map[int32][]byte
}

// fakeS3 is an in-memory s3API that records what it was asked.
type fakeS3 struct {
	mu sync.Mutex

	bucketExists bool
	objects      map[string][]byte
	uploads      map[string]*fakeUpload
	nextUpload   int

	// partsPage bounds each ListParts response.
	partsPage int

	createBucketErr error
	uploadPartErr   map[int32]error

	calls     []string
	sse       map[string][]string
	completed [][]int32
	aborted   []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		bucketExists:  true,
		objects:       make(map[string][]byte),
		uploads:       make(map[string]*fakeUpload),
		uploadPartErr: make(map[int32]error),
		sse:           make(map[string][]string),
		partsPage:     1000,
	}
}

func (f *fakeS3) record(op string, alg, keyMD5 *string) {
	f.calls = append(f.calls, op)
	f.sse[op] = append(f.sse[op], aws.ToString(alg)+":"+aws.ToString(keyMD5))
}

func (f *fakeS3) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "HeadBucket")
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateBucket")
	if f.createBucketErr != nil {
		return nil, f.createBucketErr
	}
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetObject", in.SSECustomerAlgorithm, in.SSECustomerKeyMD5)
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b)), ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PutObject", in.SSECustomerAlgorithm, in.SSECustomerKeyMD5)
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{ETag: aws.String(`"put"`)}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HeadObject", in.SSECustomerAlgorithm, in.SSECustomerKeyMD5)
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(b))),
		ETag:          aws.String(`"head"`),
		LastModified:  aws.Time(time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "DeleteObject")
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) sourceKey(copySource string) (string, error) {
	_, escaped, _ := strings.Cut(copySource, "/")
	return url.PathUnescape(escaped)
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CopyObject", in.SSECustomerAlgorithm, in.SSECustomerKeyMD5)
	f.sse["CopyObject.source"] = append(f.sse["CopyObject.source"], aws.ToString(in.CopySourceSSECustomerAlgorithm)+":"+aws.ToString(in.CopySourceSSECustomerKeyMD5))

	src, err := f.sourceKey(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	b, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = bytes.Clone(b)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ListObjectsV2")

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateMultipartUpload", in.SSECustomerAlgorithm, in.SSECustomerKeyMD5)
	f.nextUpload++
	id := fmt.Sprintf("upload-%d", f.nextUpload)
	f.uploads[id] = &fakeUpload{key: aws.ToString(in.Key), parts: make(map[int32][]byte)}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UploadPart", in.SSECustomerAlgorithm, in.SSECustomerKeyMD5)

	n := aws.ToInt32(in.PartNumber)
	if err := f.uploadPartErr[n]; err != nil {
		return nil, err
	}
	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	u.parts[n] = b
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"etag-%d"`, n))}, nil
}

func (f *fakeS3) UploadPartCopy(_ context.Context, in *s3.UploadPartCopyInput, _ ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UploadPartCopy", in.SSECustomerAlgorithm, in.SSECustomerKeyMD5)

	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	src, err := f.sourceKey(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	b, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	var start, end int
	if _, err := fmt.Sscanf(aws.ToString(in.CopySourceRange), "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	n := aws.ToInt32(in.PartNumber)
	u.parts[n] = bytes.Clone(b[start : end+1])
	return &s3.UploadPartCopyOutput{CopyPartResult: &types.CopyPartResult{ETag: aws.String(fmt.Sprintf(`"etag-%d"`, n))}}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CompleteMultipartUpload", in.SSECustomerAlgorithm, in.SSECustomerKeyMD5)

	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	if in.MultipartUpload == nil || len(in.MultipartUpload.Parts) == 0 {
		return nil, &smithy.GenericAPIError{Code: "MalformedXML", Message: "no parts"}
	}

	var order []int32
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		n := aws.ToInt32(p.PartNumber)
		if aws.ToString(p.ETag) != fmt.Sprintf(`"etag-%d"`, n) {
			return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: "etag mismatch"}
		}
		if len(order) > 0 && n <= order[len(order)-1] {
			return nil, &smithy.GenericAPIError{Code: "InvalidPartOrder", Message: "parts out of order"}
		}
		order = append(order, n)
		buf.Write(u.parts[n])
	}

	f.completed = append(f.completed, order)
	f.objects[u.key] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "AbortMultipartUpload")
	f.aborted = append(f.aborted, aws.ToString(in.UploadId))
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListParts(_ context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ListParts")

	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}

	marker := int32(0)
	if m := aws.ToString(in.PartNumberMarker); m != "" {
		v, err := strconv.Atoi(m)
		if err != nil {
			return nil, err
		}
		marker = int32(v)
	}

	var numbers []int32
	for n := range u.parts {
		if n > marker {
			numbers = append(numbers, n)
		}
	}
	slices.Sort(numbers)

	out := &s3.ListPartsOutput{IsTruncated: aws.Bool(len(numbers) > f.partsPage)}
	if len(numbers) > f.partsPage {
		numbers = numbers[:f.partsPage]
		out.NextPartNumberMarker = aws.String(strconv.Itoa(int(numbers[len(numbers)-1])))
	}
	for _, n := range numbers {
		out.Parts = append(out.Parts, types.Part{
			PartNumber: aws.Int32(n),
			Size:       aws.Int64(int64(len(u.parts[n]))),
			ETag:       aws.String(fmt.Sprintf(`"etag-%d"`, n)),
		})
	}
	return out, nil
}
