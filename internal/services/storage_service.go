// internal/services/storage_service.go
package services

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/mc-review-history/internal/config"
	"github.com/javajoker/mc-review-history/internal/models"
)

// StorageService turns the s3:// references stored on revisions into links a browser can open.
// Document bytes are never read or moved here.
type StorageService struct {
	s3Client *s3.S3
	config   *config.Config
}

func NewStorageService(config *config.Config) (*StorageService, error) {
	if config.AWS.AccessKeyID == "" {
		// Return service without S3 for local development
		return &StorageService{config: config}, nil
	}

	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   config,
	}, nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid document url %q: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("document url %q is not an s3 url", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("document url %q has no key", raw)
	}
	return u.Host, key, nil
}

// DocumentLink returns a presigned GET url for the document. Without S3 credentials the stored url
// is returned unchanged.
func (s *StorageService) DocumentLink(doc models.Document) (string, error) {
	bucket, key, err := ParseS3URL(doc.S3URL)
	if err != nil {
		return "", err
	}
	if s.s3Client == nil {
		return doc.S3URL, nil
	}
	if bucket != s.config.AWS.DocumentBucket {
		return "", fmt.Errorf("document %q is outside bucket %s", doc.Name, s.config.AWS.DocumentBucket)
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket:                     aws.String(bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", doc.Name)),
	})

	link, err := req.Presign(s.linkTTL())
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return link, nil
}

// DocumentLinks signs every document, keyed by its stored url. Documents that cannot be signed are
// logged and left out.
func (s *StorageService) DocumentLinks(docs ...[]models.Document) map[string]string {
	links := make(map[string]string)
	for _, group := range docs {
		for _, doc := range group {
			if _, done := links[doc.S3URL]; done {
				continue
			}
			link, err := s.DocumentLink(doc)
			if err != nil {
				logrus.WithError(err).WithField("document", doc.Name).Warn("Failed to sign document link")
				continue
			}
			links[doc.S3URL] = link
		}
	}
	return links
}

func (s *StorageService) linkTTL() time.Duration {
	if s.config.AWS.LinkTTL <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.config.AWS.LinkTTL) * time.Minute
}
