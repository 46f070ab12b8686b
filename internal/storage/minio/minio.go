package minio

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Client reads generated assets from an S3-compatible endpoint. Against
// Google Cloud Storage this is the XML interoperability API with HMAC keys.
type Client struct {
	client *minio.Client
	logger *zap.Logger
}

// NewClient creates a new Minio client
func NewClient(endpoint, accessKey, secretKey string, useSSL bool, logger *zap.Logger) (*Client, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("object storage client initialized", zap.String("endpoint", endpoint))
	return &Client{client: minioClient, logger: logger}, nil
}

// CheckBucket fails when bucketName is missing or unreachable.
func (c *Client) CheckBucket(ctx context.Context, bucketName string) error {
	exists, err := c.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", bucketName)
	}
	return nil
}

func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return false, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	return exists, nil
}

// ObjectExists reports whether the object is present and returns its size.
func (c *Client) ObjectExists(ctx context.Context, bucketName, objectName string) (bool, int64, error) {
	info, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404 {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("failed to stat object %s/%s: %w", bucketName, objectName, err)
	}
	return true, info.Size, nil
}

// DownloadFile writes the object to filePath.
func (c *Client) DownloadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	start := time.Now()
	if err := c.client.FGetObject(ctx, bucketName, objectName, filePath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s/%s: %w", bucketName, objectName, err)
	}
	c.logger.Debug("object downloaded",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// GetFileLink generates a presigned URL for file download
func (c *Client) GetFileLink(ctx context.Context, bucketName, objectName string, expires time.Duration) (string, error) {
	presignedURL, err := c.client.PresignedGetObject(ctx, bucketName, objectName, expires, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignedURL.String(), nil
}
