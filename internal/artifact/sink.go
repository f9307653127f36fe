// Package artifact stores finished portfolio documents. A sink receives
// the serialized portfolio once per completed job and returns a location
// the job record can point at.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"portfolio-pipeline/internal/models"
)

// Sink persists one portfolio document per completed job.
type Sink interface {
	Save(ctx context.Context, portfolioID string, p *models.Portfolio) (string, error)
}

// Local writes portfolio JSON under a base directory.
type Local struct {
	baseDir string
}

func NewLocal(baseDir string) *Local {
	if baseDir == "" {
		baseDir = "./artifacts"
	}
	return &Local{baseDir: baseDir}
}

func (l *Local) Save(_ context.Context, portfolioID string, p *models.Portfolio) (string, error) {
	body, err := marshalPortfolio(p)
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.baseDir, sanitizeKey(portfolioID)+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write portfolio: %w", err)
	}
	return path, nil
}

// S3 stores portfolio JSON objects under portfolios/ in a bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

func NewS3(ctx context.Context, bucket, region string) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

func (s *S3) Save(ctx context.Context, portfolioID string, p *models.Portfolio) (string, error) {
	body, err := marshalPortfolio(p)
	if err != nil {
		return "", err
	}
	key := "portfolios/" + sanitizeKey(portfolioID) + ".json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func marshalPortfolio(p *models.Portfolio) ([]byte, error) {
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal portfolio: %w", err)
	}
	return body, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return strings.ReplaceAll(key, string(filepath.Separator), "_")
}
