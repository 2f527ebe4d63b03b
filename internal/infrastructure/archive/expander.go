package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"path"

	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
)

// DIAN senders wrap invoice XML in ZIP attachments, sometimes nested one
// level deep. Expander flattens every archive into the plain files it holds;
// a non-archive attachment passes through untouched.
type Expander struct {
	// MaxDepth bounds nested archive expansion. Zero means the default.
	MaxDepth int
	// MaxFileSize caps a single expanded entry; zero means the default.
	MaxFileSize int64
}

const (
	defaultMaxDepth    = 3
	defaultMaxFileSize = 32 << 20 // 32 MiB
)

func NewExpander() *Expander {
	return &Expander{}
}

func (e *Expander) Expand(unit ports.Attachment) ([]ports.Attachment, error) {
	maxDepth := e.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return e.expand(unit, maxDepth)
}

func (e *Expander) expand(unit ports.Attachment, depth int) ([]ports.Attachment, error) {
	if !isZip(unit) {
		return []ports.Attachment{unit}, nil
	}
	if depth <= 0 {
		return nil, domain.WrapError(domain.ErrValidation, "expand archive",
			errNestingTooDeep(unit.Filename))
	}

	reader, err := zip.NewReader(bytes.NewReader(unit.Data), int64(len(unit.Data)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "open zip archive", err)
	}

	maxSize := e.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	var out []ports.Attachment
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(entry, maxSize)
		if err != nil {
			return nil, domain.WrapError(domain.ErrParse, "read zip entry "+entry.Name, err)
		}
		inner, err := e.expand(ports.Attachment{
			Filename: unit.Filename + "!" + path.Base(entry.Name),
			Data:     data,
		}, depth-1)
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
	}
	return out, nil
}

func readEntry(entry *zip.File, maxSize int64) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// LimitReader with one extra byte detects oversize without reading it all.
	data, err := io.ReadAll(io.LimitReader(rc, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, errEntryTooLarge(entry.Name)
	}
	return data, nil
}

// isZip checks the local-file-header magic rather than trusting the filename;
// mailers mislabel attachments often enough to matter, and a mislabeled .zip
// that is really XML should pass through to the parser untouched.
func isZip(unit ports.Attachment) bool {
	return bytes.HasPrefix(unit.Data, []byte("PK\x03\x04"))
}

type errNestingTooDeep string

func (e errNestingTooDeep) Error() string {
	return "archive nesting too deep: " + string(e)
}

type errEntryTooLarge string

func (e errEntryTooLarge) Error() string {
	return "zip entry exceeds size limit: " + string(e)
}
