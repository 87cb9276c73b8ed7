package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3API is the subset of the S3 client used by S3Service.
type S3API interface {
	manager.UploadAPIClient
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures where objects land and how their URLs are built.
type Options struct {
	Bucket    string
	KeyPrefix string
	Region    string
	// PublicBaseURL overrides the virtual-hosted S3 URL, e.g. a CDN or a
	// path-style endpoint of an S3-compatible server.
	PublicBaseURL string
}

// S3Service stores objects in Amazon S3 (or compatible APIs).
type S3Service struct {
	client   S3API
	uploader *manager.Uploader
	opts     Options
	newKey   func() string
}

func NewS3Service(client S3API, opts Options) *S3Service {
	opts.KeyPrefix = strings.Trim(opts.KeyPrefix, "/")
	opts.PublicBaseURL = strings.TrimSuffix(strings.TrimSpace(opts.PublicBaseURL), "/")
	return &S3Service{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
		newKey:   func() string { return uuid.NewString() },
	}
}

func (s *S3Service) Upload(ctx context.Context, filename string, body io.Reader, contentType string) (string, error) {
	if s.opts.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}

	key := s.objectKey(filename)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
		Body:   body,
		ACL:    types.ObjectCannedACLPublicRead,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	return s.ObjectURL(key), nil
}

func (s *S3Service) Delete(ctx context.Context, objectURL string) error {
	if s.opts.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	key, err := s.KeyFromURL(objectURL)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Service) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if s.opts.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	objects := []ObjectInfo{}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.Bucket),
	}
	if p := s.joinKey(strings.TrimSpace(prefix)); p != "" {
		input.Prefix = aws.String(p)
	}

	for {
		output, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			objects = append(objects, ObjectInfo{
				Key:          key,
				URL:          s.ObjectURL(key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}

		if !aws.ToBool(output.IsTruncated) || output.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}

	return objects, nil
}

// ObjectURL returns the public URL of key.
func (s *S3Service) ObjectURL(key string) string {
	return s.baseURL() + "/" + key
}

// KeyFromURL reverses ObjectURL.
func (s *S3Service) KeyFromURL(objectURL string) (string, error) {
	objectURL = strings.TrimSpace(objectURL)
	base := s.baseURL() + "/"
	if !strings.HasPrefix(objectURL, base) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, objectURL)
	}
	key, err := url.PathUnescape(strings.TrimPrefix(objectURL, base))
	if err != nil || key == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, objectURL)
	}
	return key, nil
}

func (s *S3Service) baseURL() string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL
	}
	region := s.opts.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.opts.Bucket, region)
}

func (s *S3Service) objectKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	return s.joinKey(s.newKey() + ext)
}

func (s *S3Service) joinKey(name string) string {
	if s.opts.KeyPrefix == "" {
		return name
	}
	if name == "" {
		return s.opts.KeyPrefix + "/"
	}
	return path.Join(s.opts.KeyPrefix, name)
}

var _ Service = (*S3Service)(nil)
