package s3legacy

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sagarc03/stowfs"
)

type initiateResult struct {
	UploadID string `xml:"UploadId"`
}

type completePart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeRequest struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []completePart `xml:"Part"`
}

type listPartsResult struct {
	IsTruncated          bool `xml:"IsTruncated"`
	NextPartNumberMarker int  `xml:"NextPartNumberMarker"`
	Parts                []struct {
		PartNumber int    `xml:"PartNumber"`
		Size       int64  `xml:"Size"`
		ETag       string `xml:"ETag"`
	} `xml:"Part"`
}

func (s *Store) InitiateMultipartUpload(ctx context.Context, urn, mimeType string) (*stowfs.UploadSession, error) {
	header := http.Header{}
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}

	var res initiateResult
	err := s.client.doXML(ctx, request{method: http.MethodPost, key: urn, query: url.Values{"uploads": {""}}, header: header}, &res)
	if err != nil {
		return nil, translate("initiate multipart upload", urn, err)
	}
	if res.UploadID == "" {
		return nil, fmt.Errorf("s3legacy initiate multipart upload %s: empty upload id: %w", urn, stowfs.ErrConsistency)
	}
	return stowfs.NewUploadSession(res.UploadID, urn, ""), nil
}

func (s *Store) UploadPart(ctx context.Context, sess *stowfs.UploadSession, number int, body io.ReadSeeker, size int64) (stowfs.Part, error) {
	resp, err := s.client.do(ctx, request{
		method: http.MethodPut,
		key:    sess.URN,
		query:  partQuery(sess.UploadID, number),
		body:   body,
		size:   size,
	})
	if err != nil {
		return stowfs.Part{}, translate("upload part "+strconv.Itoa(number), sess.URN, err)
	}
	drain(resp)
	return stowfs.Part{Number: number, Size: size, ETag: resp.Header.Get("ETag")}, nil
}

func (s *Store) CompleteMultipartUpload(ctx context.Context, sess *stowfs.UploadSession) (int64, error) {
	parts, err := sess.Parts()
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, fmt.Errorf("s3legacy complete %s: no parts uploaded: %w", sess.URN, stowfs.ErrConsistency)
	}

	doc := completeRequest{}
	for _, p := range parts {
		doc.Parts = append(doc.Parts, completePart{PartNumber: p.Number, ETag: p.ETag})
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return 0, err
	}

	var res copyResult
	err = s.client.doXML(ctx, request{
		method: http.MethodPost,
		key:    sess.URN,
		query:  partQuery(sess.UploadID, 0),
		header: http.Header{"Content-Type": {"application/xml"}},
		body:   bytes.NewReader(body),
		size:   int64(len(body)),
	}, &res)
	if err == nil {
		err = res.err()
	}
	if err != nil {
		return 0, translate("complete multipart upload", sess.URN, err)
	}

	info, err := s.StatObject(ctx, sess.URN)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *Store) AbortMultipartUpload(ctx context.Context, sess *stowfs.UploadSession) error {
	resp, err := s.client.do(ctx, request{method: http.MethodDelete, key: sess.URN, query: partQuery(sess.UploadID, 0)})
	if err != nil {
		return translate("abort multipart upload", sess.URN, err)
	}
	drain(resp)
	return nil
}

func (s *Store) ListParts(ctx context.Context, sess *stowfs.UploadSession) ([]stowfs.Part, error) {
	var parts []stowfs.Part
	marker := 0
	for {
		q := partQuery(sess.UploadID, 0)
		if marker > 0 {
			q.Set("part-number-marker", strconv.Itoa(marker))
		}

		var page listPartsResult
		if err := s.client.doXML(ctx, request{method: http.MethodGet, key: sess.URN, query: q}, &page); err != nil {
			return nil, translate("list parts", sess.URN, err)
		}
		for _, p := range page.Parts {
			parts = append(parts, stowfs.Part{Number: p.PartNumber, Size: p.Size, ETag: p.ETag})
		}

		if !page.IsTruncated {
			return parts, nil
		}
		if page.NextPartNumberMarker <= marker {
			return nil, fmt.Errorf("s3legacy list parts %s: truncated listing without progress: %w", sess.URN, stowfs.ErrConsistency)
		}
		marker = page.NextPartNumberMarker
	}
}
