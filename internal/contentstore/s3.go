package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/inplacehq/inplace/internal/model"
)

// S3Store keeps envelopes as objects under apps/{appId}/{elementId}.
// Works against any S3-compatible endpoint.
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(accessKeyID, accessKeySecret, baseEndpoint, bucket string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, accessKeySecret, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("error initializing S3 client: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(baseEndpoint)
	})

	return &S3Store{client: client, bucket: bucket}, nil
}

func (s *S3Store) objectKey(appID model.AppID, key model.Key) string {
	return "apps/" + string(appID) + "/" + string(key)
}

func (s *S3Store) List(ctx context.Context, appID model.AppID) ([]model.ContentEntry, error) {
	prefix := "apps/" + string(appID) + "/"
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("error listing content objects: %w", err)
	}

	entries := make([]model.ContentEntry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		elementID := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		entry, err := s.Get(ctx, appID, model.Key(elementID))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *S3Store) Get(ctx context.Context, appID model.AppID, key model.Key) (*model.ContentEntry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(appID, key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error reading content object: %w", err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading content body: %w", err)
	}

	entry := &model.ContentEntry{
		ElementID: key,
		Content:   string(content),
	}
	if out.LastModified != nil {
		entry.UpdatedAt = *out.LastModified
	}
	return entry, nil
}

func (s *S3Store) Put(ctx context.Context, appID model.AppID, key model.Key, content string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(appID, key)),
		Body:   bytes.NewReader([]byte(content)),
	})
	if err != nil {
		return fmt.Errorf("error storing content object: %w", err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, appID model.AppID, key model.Key) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(appID, key)),
	})
	if err != nil {
		return fmt.Errorf("error deleting content object: %w", err)
	}
	return nil
}

func (s *S3Store) Close() error {
	return nil
}
