package blacklist

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"hostguard/internal/config"
)

// s3Fetcher lazily builds an S3 client for s3:// blacklist sources.
// Credentials come from the environment when present, falling back to the
// SDK default chain (shared config, IAM role). Config-file credentials
// work but are discouraged.
type s3Fetcher struct {
	cfg *config.S3Config

	once   sync.Once
	client *s3.Client
	initE  error
}

func newS3Fetcher(cfg *config.S3Config) *s3Fetcher {
	return &s3Fetcher{cfg: cfg}
}

func (f *s3Fetcher) init(ctx context.Context) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(f.cfg.Region),
	}

	accessKey, secretKey, source := resolveCredentials(f.cfg)
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		f.initE = err
		return
	}

	logrus.WithField("source", source).Info("Using AWS credentials for blocklist sources")
	f.client = s3.NewFromConfig(awsCfg)
}

func (f *s3Fetcher) fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	f.once.Do(func() { f.init(ctx) })
	if f.initE != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: "s3://" + bucket, Err: f.initE}
	}

	key = strings.TrimPrefix(key, "/")
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: "s3://" + bucket + "/" + key, Err: err}
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, maxListSize)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: "s3://" + bucket + "/" + key, Err: err}
	}
	return body, nil
}

// resolveCredentials picks credentials in priority order: environment,
// then config file, then none (SDK default chain).
func resolveCredentials(cfg *config.S3Config) (accessKey, secretKey, source string) {
	if ak, sk := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); ak != "" && sk != "" {
		return ak, sk, "environment"
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		logrus.Warn("AWS credentials found in configuration file; prefer environment variables or an IAM role")
		return cfg.AccessKeyID, cfg.SecretKey, "config"
	}
	return "", "", "default-chain"
}
