package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror copies audit records into an object-store bucket, one immutable
// object per record.
type Mirror struct {
	client *minio.Client
	bucket string
}

func NewMirror(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Mirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Mirror{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the audit bucket if it does not exist yet.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check audit bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create audit bucket: %w", err)
	}
	return nil
}

func (m *Mirror) Put(ctx context.Context, rec Record) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	name := objectName(rec)
	_, err = m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(encoded), int64(len(encoded)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put audit object %s: %w", name, err)
	}
	return nil
}

// objectName keys records by fingerprint then timestamp so repeated imports
// of the same bundle produce distinct objects under one prefix.
func objectName(rec Record) string {
	return fmt.Sprintf("audit/%s/%s-%s.json", rec.Fingerprint, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Operation)
}
