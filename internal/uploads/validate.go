package uploads

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// allowed maps file extensions to the sniffed content type they must carry.
var allowed = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// inspect checks one file against the size limit and the allow-list. The
// declared Content-Type is ignored; only the bytes count.
func inspect(fh *multipart.FileHeader, maxBytes int64) (contentType, ext string, err error) {
	if fh.Size == 0 {
		return "", "", reject(ReasonMissingFile, "empty file")
	}
	if fh.Size > maxBytes {
		return "", "", reject(ReasonTooLarge, "file exceeds %d bytes", maxBytes)
	}
	ext = strings.ToLower(filepath.Ext(fh.Filename))
	want, ok := allowed[ext]
	if !ok {
		return "", "", reject(ReasonUnsupportedType, "extension %q", ext)
	}

	f, err := fh.Open()
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", "", err
	}
	if got := http.DetectContentType(head[:n]); got != want {
		return "", "", reject(ReasonUnsupportedType, "content is %s", got)
	}
	return want, ext, nil
}
