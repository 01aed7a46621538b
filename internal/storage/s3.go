// Package storage is the object-storage client for episode media and feed
// documents, backed by any S3-compatible service.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds an S3 client with static credentials and a custom endpoint,
// which is how S3-compatible storage (minio, R2, etc.) is addressed.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage configuration incomplete")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		o.UsePathStyle = true
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Upload pushes a local file under remoteDir, keeping its base name.
// The optional callback receives chunk sizes as bytes are sent, for progress
// reporting.
func (c *Client) Upload(ctx context.Context, srcPath, remoteDir string, callback func(chunk int64)) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer f.Close()

	var body io.Reader = f
	if callback != nil {
		body = &progressReader{r: f, fn: callback}
	}

	key := path.Join(remoteDir, filepath.Base(srcPath))
	contentType := mime.TypeByExtension(filepath.Ext(srcPath))
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	log.Printf("File %s uploaded. Remote path: %s", filepath.Base(srcPath), key)
	return key, nil
}

// Download fetches a remote object into dstPath.
func (c *Client) Download(ctx context.Context, remotePath, dstPath string) error {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	defer out.Body.Close()

	f, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dstPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", dstPath, err)
	}
	return nil
}

// Copy performs a server-side copy of srcPath to the remotePath key. No
// bytes travel through the worker.
func (c *Client) Copy(ctx context.Context, srcPath, remotePath string) error {
	_, err := c.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		CopySource: aws.String(path.Join(c.bucket, srcPath)),
		Key:        aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcPath, remotePath, err)
	}

	log.Printf("File %s copied. Remote path now: %s", srcPath, remotePath)
	return nil
}

// Size returns the remote object's byte size, or 0 when the object is
// missing or the request fails. Callers use the zero value as "not there",
// which is what the idempotency short-circuit relies on.
func (c *Client) Size(ctx context.Context, remotePath string) int64 {
	if remotePath == "" {
		return 0
	}
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		var notFound *types.NotFound
		if !errors.As(err, &notFound) {
			log.Printf("Failed to head %s: %v", remotePath, err)
		}
		return 0
	}
	return aws.ToInt64(out.ContentLength)
}

// Delete removes a remote object.
func (c *Client) Delete(ctx context.Context, remotePath string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", remotePath, err)
	}
	return nil
}

// progressReader reports read chunk sizes to a callback as the SDK consumes
// the body.
type progressReader struct {
	r  io.Reader
	fn func(chunk int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.fn(int64(n))
	}
	return n, err
}
