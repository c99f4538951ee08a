package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

const presignExpiry = 5 * 24 * time.Hour

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// URLPrefix, when set, builds public object URLs instead of presigned ones.
	URLPrefix    string
	UsePathStyle bool
}

type Client struct {
	Client     *s3.Client
	Bucket     *string
	urlPrefix  string
	httpClient *http.Client
}

func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load s3 config")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &Client{
		Client:     client,
		Bucket:     aws.String(cfg.Bucket),
		urlPrefix:  strings.TrimRight(cfg.URLPrefix, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// UploadObject uploads content under key and returns the stored key.
func (c *Client) UploadObject(ctx context.Context, key string, fileType string, content io.Reader) (string, error) {
	uploader := manager.NewUploader(c.Client)
	putInput := s3.PutObjectInput{
		Bucket:      c.Bucket,
		Key:         aws.String(key),
		ContentType: aws.String(fileType),
		Body:        content,
	}
	uploadOutput, err := uploader.Upload(ctx, &putInput)
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload %s", key)
	}
	resultKey := *uploadOutput.Key
	if resultKey == "" {
		return "", errors.New("failed to get file key")
	}
	return resultKey, nil
}

// PresignGetObject returns a time-limited URL for key.
func (c *Client) PresignGetObject(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(c.Client)
	presignResult, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: c.Bucket,
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = presignExpiry
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to presign %s", key)
	}
	return presignResult.URL, nil
}

// ObjectURL returns the public URL of key, or a presigned one when no prefix is configured.
func (c *Client) ObjectURL(ctx context.Context, key string) (string, error) {
	if c.urlPrefix != "" {
		return c.urlPrefix + "/" + strings.TrimLeft(key, "/"), nil
	}
	return c.PresignGetObject(ctx, key)
}

// Put uploads content and returns the URL it can be fetched from.
func (c *Client) Put(ctx context.Context, key, contentType string, content io.Reader) (string, error) {
	storedKey, err := c.UploadObject(ctx, key, contentType, content)
	if err != nil {
		return "", err
	}
	return c.ObjectURL(ctx, storedKey)
}

// Mirror downloads sourceURL and stores it under key.
func (c *Client) Mirror(ctx context.Context, key, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build mirror request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", sourceURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("failed to fetch %s: status %d", sourceURL, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(key))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.Put(ctx, key, contentType, resp.Body)
}

// DeleteObject removes key from the bucket.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: c.Bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}

func (c *Client) String() string {
	return fmt.Sprintf("s3://%s", aws.ToString(c.Bucket))
}
