package constants

import (
	"bytes"
	"strings"
)

// FileKind is the coarse routing class of an uploaded document.
type FileKind string

const (
	PDF      FileKind = "PDF"
	IMAGE    FileKind = "IMAGE"
	EMAIL    FileKind = "EMAIL"
	DOCUMENT FileKind = "DOCUMENT" // anything we cannot route
)

// AllowedExtensions holds the file extensions accepted by the inbox watcher.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tif":  {},
	"tiff": {},
	"webp": {},
	"bmp":  {},
	"gif":  {},
	"heic": {},
	"heif": {},
	"eml":  {},
	"msg":  {},
}

var extKinds = map[string]FileKind{
	"pdf":  PDF,
	"png":  IMAGE,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"tif":  IMAGE,
	"tiff": IMAGE,
	"gif":  IMAGE,
	"webp": IMAGE,
	"bmp":  IMAGE,
	"heic": IMAGE,
	"heif": IMAGE,
	"eml":  EMAIL,
	"msg":  EMAIL,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToKind maps a file extension (with or without dot) to a FileKind.
// Returns "" when the extension is unknown.
func MapExtToKind(ext string) FileKind {
	return extKinds[NormalizeExt(ext)]
}

// GuessKind routes a payload by filename extension first, then by mime type,
// then by magic bytes.
func GuessKind(filename, mime string, data []byte) FileKind {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		if k := MapExtToKind(filename[i:]); k != "" {
			return k
		}
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mime == "application/pdf":
		return PDF
	case strings.HasPrefix(mime, "image/"):
		return IMAGE
	case mime == "message/rfc822" || mime == "application/vnd.ms-outlook":
		return EMAIL
	}
	return sniffKind(data)
}

func sniffKind(data []byte) FileKind {
	head := data
	if len(head) > 12 {
		head = head[:12]
	}
	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return PDF
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")),
		bytes.HasPrefix(head, []byte("\xFF\xD8\xFF")),
		bytes.HasPrefix(head, []byte("II*\x00")),
		bytes.HasPrefix(head, []byte("MM\x00*")),
		bytes.HasPrefix(head, []byte("GIF87a")),
		bytes.HasPrefix(head, []byte("GIF89a")),
		bytes.HasPrefix(head, []byte("BM")):
		return IMAGE
	case len(head) >= 12 && bytes.HasPrefix(head, []byte("RIFF")) && string(head[8:12]) == "WEBP":
		return IMAGE
	case IsHEIFBrand(head):
		return IMAGE
	}
	return DOCUMENT
}

var heifBrands = map[string]struct{}{"heic": {}, "heix": {}, "hevc": {}, "heif": {}, "mif1": {}, "msf1": {}}

// IsHEIFBrand reports whether data starts with an ISO-BMFF ftyp box of a
// HEIC/HEIF brand.
func IsHEIFBrand(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	_, ok := heifBrands[string(data[8:12])]
	return ok
}
