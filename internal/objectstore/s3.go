// Package objectstore handles the two touchpoints the pipeline has with
// object storage: issuing presigned upload URLs at the boundary and
// downloading uploaded payloads for validation and processing.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"bulk-import-pipeline/internal/config"
)

// Client wraps the S3 API for the import bucket.
type Client struct {
	api       *s3.Client
	presigner *s3.PresignClient
	bucket    string
	urlTTL    time.Duration
}

// New builds a client from config. A custom endpoint (MinIO, localstack)
// is honored when configured.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.S3Endpoint,
					HostnameImmutable: cfg.S3PathStyle,
					SigningRegion:     cfg.S3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
	})
	return &Client{
		api:       api,
		presigner: s3.NewPresignClient(api),
		bucket:    cfg.S3Bucket,
		urlTTL:    cfg.SignedURLTTL,
	}, nil
}

// SignedUpload is what the boundary returns for a direct-to-bucket upload.
type SignedUpload struct {
	UploadURL  string            `json:"upload_url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	ObjectPath string            `json:"object_path"`
	ExpiresIn  int64             `json:"expires_in_seconds"`
}

// PresignUpload issues a presigned PUT for one upload. The object path is
// namespaced by tenant and randomized so clients cannot overwrite each
// other's uploads.
func (c *Client) PresignUpload(ctx context.Context, tenantID, filename, contentType string) (SignedUpload, error) {
	key := path.Join("imports", tenantID, uuid.New().String()+path.Ext(filename))
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(c.urlTTL))
	if err != nil {
		return SignedUpload{}, fmt.Errorf("presign upload: %w", err)
	}
	return SignedUpload{
		UploadURL:  req.URL,
		Method:     req.Method,
		Headers:    map[string]string{"Content-Type": contentType},
		ObjectPath: key,
		ExpiresIn:  int64(c.urlTTL.Seconds()),
	}, nil
}

// Download fetches an uploaded object into memory. Upload size is capped
// at the boundary before a signed URL is ever issued, so whole-payload
// reads are bounded.
func (c *Client) Download(ctx context.Context, objectPath string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectPath, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectPath, err)
	}
	return data, nil
}

// Ping verifies the bucket is reachable; the health monitor probes it.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err
}
