package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/scrape"
)

// PutObjectAPI is the part of the S3 client the store needs
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads resumes to an S3 bucket
type S3Store struct {
	client        PutObjectAPI
	bucket        string
	prefix        string
	publicBaseURL string
}

// NewS3Store builds an S3 client from cfg. Static keys are used when set,
// otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg am.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewInvalidRequestError("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3StoreWithClient(client, cfg), nil
}

// NewS3StoreWithClient uses an existing client
func NewS3StoreWithClient(client PutObjectAPI, cfg am.S3Config) *S3Store {
	return &S3Store{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
	}
}

func (s *S3Store) StoreOne(ctx context.Context, r scrape.Resume) (string, error) {
	if r.Body == nil {
		return "", errors.Newf("resume %s has no body", r.Name)
	}

	// PutObject needs a seekable body to sign it over plain HTTP endpoints
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", errors.Wrapf(err, "read resume %s", r.Name)
	}

	key := s.prefix + objectName(r)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if r.ContentType != "" {
		input.ContentType = aws.String(r.ContentType)
	}
	if r.Name != "" {
		input.ContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", r.Name))
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		err = errors.Wrap(err, "put object")
		err = errors.WithDetail(err, fmt.Sprintf("Bucket: %s", s.bucket))
		err = errors.WithDetail(err, fmt.Sprintf("Key: %s", key))
		return "", err
	}

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	return "s3://" + s.bucket + "/" + key, nil
}
