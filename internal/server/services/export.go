package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/netx"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
)

// Seams for the AWS SDK so presign paths stay testable without a real
// endpoint.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// ExportService ships catalogue snapshots to S3-compatible object
// storage through presigned URLs. A snapshot is the full book and copy
// inventory plus the operation log, so a fresh node can be seeded from
// it.
type ExportService struct {
	db  *sql.DB
	rm  repomanager.RepositoryManager
	cfg *config.Config
	log logging.Logger
}

func NewExportService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, log logging.Logger) *ExportService {
	return &ExportService{db: db, rm: rm, cfg: cfg, log: log}
}

// Snapshot is the exported document layout.
type Snapshot struct {
	LibraryName string                  `json:"library_name"`
	TakenAt     string                  `json:"taken_at"`
	Books       []models.Book           `json:"books"`
	Operations  []models.OperationEntry `json:"operations"`
}

func snapshotStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("snapshots/%d/%02d/%02d/%v.json", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *ExportService) getPresignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		awsconfig.WithRegion(s.cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.cfg.S3RootUser,
			s.cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.cfg.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

func (s *ExportService) getPresignedPutURL(ctx context.Context) (string, string, error) {
	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", "", err
	}

	bucket := s.cfg.S3Bucket
	key := snapshotStorageKey()

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", "", err
	}
	return key, req.URL, nil
}

// GetPresignedGetURL returns a short-lived download URL for a stored
// snapshot.
func (s *ExportService) GetPresignedGetURL(ctx context.Context, key string) (string, error) {
	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	bucket := s.cfg.S3Bucket
	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// UploadSnapshot builds the current snapshot and uploads it, returning
// the storage key it was written under.
func (s *ExportService) UploadSnapshot(ctx context.Context) (string, error) {
	books, err := s.rm.Catalog(s.db).SearchBooks(ctx, "")
	if err != nil {
		return "", err
	}
	ops, err := s.rm.OpLog(s.db).ListSince(ctx, 0, 10000)
	if err != nil {
		return "", err
	}

	snap := Snapshot{
		LibraryName: s.cfg.LibraryName,
		TakenAt:     models.FormatTime(time.Now().UTC()),
		Books:       books,
		Operations:  ops,
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}

	key, url, err := s.getPresignedPutURL(ctx)
	if err != nil {
		return "", err
	}
	if err := netx.UploadToPresignedURL(ctx, url, body); err != nil {
		return "", err
	}
	s.log.Info(ctx, "snapshot uploaded", "key", key, "books", len(books))
	return key, nil
}
