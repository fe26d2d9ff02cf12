package s3

import (
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
)

// UploadConfig tunes the multipart uploads behind Store.Create.
type UploadConfig struct {
	PartSize    int64
	Concurrency int
	// Checksum requests CRC32C validation of every upload.
	Checksum bool
	// KeepPartsOnError leaves uploaded parts of a failed upload in the bucket.
	KeepPartsOnError bool
}

// DefaultUploadConfig uploads 8 MiB parts, five at a time, with checksums.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{PartSize: 8 << 20, Concurrency: 5, Checksum: true}
}

func (c UploadConfig) uploader(client manager.UploadAPIClient) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if c.PartSize > 0 {
			u.PartSize = c.PartSize
		}
		if c.Concurrency > 0 {
			u.Concurrency = c.Concurrency
		}
		u.LeavePartsOnError = c.KeepPartsOnError
	})
}
