// Package storage keeps uploaded files for file fields in an S3-compatible
// bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"formdeck/api/internal/engine"
	"formdeck/api/internal/form"
)

var (
	ErrNotConfigured = errors.New("file storage is not configured")
	ErrNotFileField  = errors.New("field does not accept files")
	ErrSizeUnknown   = errors.New("upload size is unknown")
)

// RejectedError reports an upload refused by the field's file rules.
type RejectedError struct {
	Result engine.Result
}

func (e *RejectedError) Error() string {
	return e.Result.Message
}

// ObjectStore is the subset of *minio.Client used here.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

type Service struct {
	objects    ObjectStore
	bucket     string
	maxBytes   int64
	presignTTL time.Duration
	newID      func() string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MaxBytes  int64
}

// New connects to the object store. It returns nil, nil when no endpoint is
// configured so callers can run without file uploads.
func New(opts Options) (*Service, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, nil
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewWithClient(client, opts.Bucket, opts.MaxBytes), nil
}

func NewWithClient(objects ObjectStore, bucket string, maxBytes int64) *Service {
	return &Service{
		objects:    objects,
		bucket:     bucket,
		maxBytes:   maxBytes,
		presignTTL: 15 * time.Minute,
		newID:      uuid.NewString,
	}
}

// EnsureBucket creates the bucket on first start.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.objects.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.objects.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	log.Printf("storage: created bucket %s", s.bucket)
	return nil
}

// Upload describes one incoming file.
type Upload struct {
	FormID      string
	Field       form.Field
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Put validates the file against the field's rules and the server-wide
// size cap, then stores it under forms/{formID}/{fieldID}/{uuid}/{name}.
func (s *Service) Put(ctx context.Context, upload Upload) (form.FileRef, error) {
	if s == nil {
		return form.FileRef{}, ErrNotConfigured
	}
	if upload.Field.Type != form.TypeFile {
		return form.FileRef{}, ErrNotFileField
	}
	if upload.Size < 0 {
		return form.FileRef{}, ErrSizeUnknown
	}

	name := cleanFileName(upload.FileName)
	ref := form.FileRef{Name: name, Size: upload.Size, ContentType: upload.ContentType}
	if err := s.check(upload.Field, ref); err != nil {
		return form.FileRef{}, err
	}

	ref.Key = ObjectKey(upload.FormID, upload.Field.ID, s.newID(), name)
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.objects.PutObject(ctx, s.bucket, ref.Key, io.LimitReader(upload.Body, upload.Size), upload.Size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return form.FileRef{}, fmt.Errorf("put object %s: %w", ref.Key, err)
	}
	return ref, nil
}

func (s *Service) check(field form.Field, ref form.FileRef) error {
	rules := field.Validation
	if s.maxBytes > 0 && (rules.MaxFileSize <= 0 || rules.MaxFileSize > s.maxBytes) {
		rules.MaxFileSize = s.maxBytes
	}
	field.Validation = rules
	field.Required = false
	if result := engine.Validate(field, []form.FileRef{ref}, true); !result.Valid {
		return &RejectedError{Result: result}
	}
	return nil
}

// DownloadURL presigns a short-lived GET for key that downloads as name.
func (s *Service) DownloadURL(ctx context.Context, key, name string) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	params := url.Values{}
	if name != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	signed, err := s.objects.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return signed.String(), nil
}

func (s *Service) Remove(ctx context.Context, key string) error {
	if s == nil {
		return ErrNotConfigured
	}
	if err := s.objects.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// ObjectKey builds the storage key for an uploaded file.
func ObjectKey(formID, fieldID, id, name string) string {
	return path.Join("forms", formID, fieldID, id, name)
}

// cleanFileName keeps the base name and drops path and control characters.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	if len(name) > 200 {
		ext := path.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = name[:200-len(ext)] + ext
	}
	return name
}
