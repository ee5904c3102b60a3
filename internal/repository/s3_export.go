package repository

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	appConfig "github.com/mansoorceksport/fitsync/internal/config"
	"github.com/oklog/ulid/v2"
)

// s3API is the subset of *s3.Client used for exports
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ExportObject describes one stored history export
type ExportObject struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// S3ExportRepository stores workout history exports in an S3 compatible bucket
// (SeaweedFS, MinIO or AWS) under exports/{owner}/{ulid}.json
type S3ExportRepository struct {
	client    s3API
	bucket    string
	publicURL string
}

// NewS3ExportRepository connects to cfg.Endpoint and makes sure the bucket exists
func NewS3ExportRepository(ctx context.Context, cfg appConfig.S3Config) (*S3ExportRepository, error) {
	// SeaweedFS and MinIO accept any static credentials but still require a signature
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("any", "any", "")),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	repo := newS3ExportRepository(client, cfg.Bucket, cfg.Endpoint)
	if err := repo.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func newS3ExportRepository(client s3API, bucket, publicURL string) *S3ExportRepository {
	return &S3ExportRepository{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func exportPrefix(ownerID string) string {
	return "exports/" + ownerID + "/"
}

// Save uploads a JSON document for ownerID and returns where it is served from
func (r *S3ExportRepository) Save(ctx context.Context, ownerID string, body []byte) (*ExportObject, error) {
	now := time.Now().UTC()
	key := exportPrefix(ownerID) + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String() + ".json"

	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload export to S3: %w", err)
	}

	return &ExportObject{
		Key:       key,
		URL:       r.url(key),
		Size:      int64(len(body)),
		CreatedAt: now,
	}, nil
}

// List returns the exports of ownerID, newest first
func (r *S3ExportRepository) List(ctx context.Context, ownerID string) ([]ExportObject, error) {
	var (
		out   []ExportObject
		token *string
	)
	for {
		page, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.bucket),
			Prefix:            aws.String(exportPrefix(ownerID)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list exports: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			out = append(out, ExportObject{
				Key:       key,
				URL:       r.url(key),
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}

	// ulid keys sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out, nil
}

// url builds {Endpoint}/{Bucket}/{Key}
func (r *S3ExportRepository) url(key string) string {
	return fmt.Sprintf("%s/%s/%s", r.publicURL, r.bucket, key)
}

// ensureBucket creates the bucket when HeadBucket fails
func (r *S3ExportRepository) ensureBucket(ctx context.Context) error {
	if _, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)}); err == nil {
		return nil
	}
	if _, err := r.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(r.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", r.bucket, err)
	}
	return nil
}
