package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// partSize is the multipart chunk; smaller bodies go up in one PutObject.
const partSize int64 = 8 * 1024 * 1024

// Objects implements domain.BlobWriter and domain.BlobReader on a bucket.
type Objects struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewObjects creates the object store for c's bucket.
func NewObjects(c *Client) *Objects {
	return &Objects{
		client: c.s3,
		bucket: c.bucket,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
	}
}

// Put uploads data, switching to multipart above partSize.
func (o *Objects) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// Get opens the object at path. domain.ErrNotFound when it does not exist.
func (o *Objects) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// Exists reports whether an object is stored at path.
func (o *Objects) Exists(ctx context.Context, path string) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	if notFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3blob: head %s: %w", path, err)
}

// notFound matches NoSuchKey, the bare 404 HeadObject returns, and 404s from
// providers that answer with an untyped error.
func notFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

var (
	_ domain.BlobWriter = (*Objects)(nil)
	_ domain.BlobReader = (*Objects)(nil)
)
