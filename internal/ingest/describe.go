package ingest

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

// Describe builds the ERP file descriptor of a submitted file.
func Describe(filename, mime string, data []byte, now time.Time) entity.FileDescriptor {
	sha := sha256.Sum256(data)
	md := md5.Sum(data)
	size := int64(len(data))
	shaHex := hex.EncodeToString(sha[:])
	mdHex := hex.EncodeToString(md[:])
	added := now.UTC().Format(time.DateOnly)

	d := entity.FileDescriptor{
		Hash:    &shaHex,
		Size:    &size,
		MD5:     &mdHex,
		AddedAt: &added,
	}
	if filename != "" {
		d.OriginalName = &filename
	}
	if mime != "" {
		d.MimeType = &mime
	}
	return d
}
