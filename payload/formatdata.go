package payload

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/text/encoding/unicode"
)

// FormatData produces the bytes of one clipboard format for a
// FormatDataResponse.
type FormatData interface {
	FormatData() ([]byte, error)
}

// Bytes is raw format data passed through unchanged.
type Bytes []byte

// FormatData implements FormatData.
func (b Bytes) FormatData() ([]byte, error) {
	return []byte(b), nil
}

// Text is CF_UNICODETEXT data: UTF-16LE with a terminating NUL.
type Text string

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// FormatData implements FormatData.
func (t Text) FormatData() ([]byte, error) {
	encoded, err := utf16le.NewEncoder().Bytes([]byte(string(t)))
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	return append(encoded, 0, 0), nil
}

// DecodeText decodes CF_UNICODETEXT data, dropping the terminator and
// anything after it.
func DecodeText(data []byte) (string, error) {
	if len(data)%2 != 0 {
		return "", fmt.Errorf("decode text: odd length %d", len(data))
	}
	for i := 0; i+1 < len(data); i += 2 {
		if data[i] == 0 && data[i+1] == 0 {
			data = data[:i]
			break
		}
	}
	decoded, err := utf16le.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	return string(decoded), nil
}

// FileDescriptor describes one file of a file list. Its position in the
// list is the list index used by file contents requests.
type FileDescriptor struct {
	Name string `msgpack:"name"`
	Size uint64 `msgpack:"size"`
}

// FileDescriptors is FileGroupDescriptorW data: the ordered file list.
type FileDescriptors []FileDescriptor

// FormatData implements FormatData.
func (d FileDescriptors) FormatData() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode([]FileDescriptor(d)); err != nil {
		return nil, fmt.Errorf("encode file descriptors: %w", err)
	}
	return buf.Bytes(), nil
}

// WithoutPaths returns a copy with every name reduced to its base name.
// Used when the no-file-paths capability forbids leaking source paths.
func (d FileDescriptors) WithoutPaths() FileDescriptors {
	out := make(FileDescriptors, len(d))
	for i, fd := range d {
		out[i] = FileDescriptor{Name: path.Base(strings.ReplaceAll(fd.Name, "\\", "/")), Size: fd.Size}
	}
	return out
}

// DecodeFileDescriptors decodes FileGroupDescriptorW data.
func DecodeFileDescriptors(data []byte) (FileDescriptors, error) {
	var out []FileDescriptor
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode file descriptors: %w", err)
	}
	return FileDescriptors(out), nil
}
