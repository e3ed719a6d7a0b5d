// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// uploadTimeout bounds a single segment upload.
const uploadTimeout = 2 * time.Minute

// Uploader copies rotated audit segments to a GCS bucket so the chain
// survives host loss. Uploads never block the control loop; a failed
// upload leaves the local segment in place for a later retry by hand.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewUploader creates a GCS uploader.
//
// # Inputs
//
//   - ctx: Context for client construction.
//   - bucket: Destination bucket name. Required.
//   - prefix: Object name prefix inside the bucket (e.g. "homeostat/audit").
//   - credentialsFile: Service account key path. Empty uses application
//     default credentials.
//
// # Outputs
//
//   - *Uploader: Ready to use.
//   - error: Non-nil if the client cannot be constructed.
func NewUploader(ctx context.Context, bucket, prefix, credentialsFile string) (*Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("credentials file not found: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Upload copies one local file to the bucket under the configured prefix.
func (u *Uploader) Upload(ctx context.Context, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", localPath, err)
	}
	defer file.Close()

	object := path.Join(u.prefix, filepath.Base(localPath))
	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, u.bucket, object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", u.bucket, object, err)
	}
	return nil
}

// UploadSegment uploads a rotated segment with its own timeout, logging
// the result. Called from the trail's rotation path on a goroutine.
func (u *Uploader) UploadSegment(localPath string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	if err := u.Upload(ctx, localPath); err != nil {
		logger.Warn("audit segment upload failed",
			slog.String("segment", localPath),
			slog.String("error", err.Error()))
		return
	}
	logger.Info("audit segment uploaded",
		slog.String("segment", localPath),
		slog.String("bucket", u.bucket))
}

// Close releases the underlying client.
func (u *Uploader) Close() error {
	return u.client.Close()
}
