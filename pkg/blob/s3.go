package blob

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
)

// s3API is the slice of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 fetches challenge assets from an S3 bucket.
type S3 struct {
	api s3API
}

var _ Store = (*S3)(nil)

func NewS3(api s3API) *S3 {
	return &S3{api: api}
}

func (s *S3) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isUnavailable(err) {
			return nil, &errs.ErrObjectUnavailable{Bucket: bucket, Key: key, Sub: err}
		}
		return nil, errors.Wrap(err, "fetching object")
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading object body")
	}
	return b, nil
}

func isUnavailable(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "AccessDenied":
			return true
		}
	}
	return false
}
