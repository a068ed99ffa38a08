// Package backup uploads account snapshots to S3-compatible storage.
// Credential hashes never leave the server.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) error {
		_, err := c.PutObject(ctx, in)
		return err
	}
)

type Settings struct {
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
}

// Record is the exported form of one account.
type Record struct {
	ID             string               `json:"id"`
	Username       string               `json:"username"`
	Plan           string               `json:"plan"`
	PaidUntil      *time.Time           `json:"paid_until"`
	Machines       map[string]time.Time `json:"machines"`
	PendingMachine string               `json:"pending_machine,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

type Snapshot struct {
	TakenAt  time.Time `json:"taken_at"`
	Accounts []Record  `json:"accounts"`
}

type Uploader struct {
	settings Settings
	now      func() time.Time
}

func NewUploader(s Settings) *Uploader {
	return &Uploader{settings: s, now: time.Now}
}

// Enabled reports whether a bucket is configured.
func (u *Uploader) Enabled() bool {
	return u != nil && u.settings.Bucket != ""
}

// NewSnapshot strips credential hashes from accts.
func NewSnapshot(accts []*models.Account, takenAt time.Time) *Snapshot {
	s := &Snapshot{TakenAt: takenAt.UTC(), Accounts: make([]Record, 0, len(accts))}
	for _, a := range accts {
		s.Accounts = append(s.Accounts, Record{
			ID:             a.ID,
			Username:       a.Username,
			Plan:           string(a.Plan()),
			PaidUntil:      a.PaidUntil,
			Machines:       a.Machines,
			PendingMachine: a.PendingMachine,
			CreatedAt:      a.CreatedAt,
		})
	}
	return s
}

// ObjectKey names a snapshot taken at t.
func ObjectKey(t time.Time) string {
	return fmt.Sprintf("backups/%s/%s.json", t.UTC().Format("2006/01/02"), uuid.NewString())
}

// Upload stores a snapshot of accts and returns its object key.
func (u *Uploader) Upload(ctx context.Context, accts []*models.Account) (string, error) {
	if !u.Enabled() {
		return "", common.ErrBackupNotConfigured
	}

	now := u.now()
	body, err := json.Marshal(NewSnapshot(accts, now))
	if err != nil {
		return "", err
	}

	client, err := u.client(ctx)
	if err != nil {
		return "", err
	}

	key := ObjectKey(now)
	if err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.settings.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return "", fmt.Errorf("error uploading backup: %w", err)
	}
	return key, nil
}

func (u *Uploader) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(u.settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			u.settings.AccessKey,
			u.settings.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading aws config: %w", err)
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if u.settings.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(u.settings.BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}
