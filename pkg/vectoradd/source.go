package vectoradd

import (
	"encoding/hex"
	"errors"
	"os"

	"golang.org/x/crypto/blake2b"
)

// ErrKernelSourceNotFound is wrapped by KernelSourceError.
var ErrKernelSourceNotFound = errors.New("vectoradd: kernel source not found")

// KernelSourceError reports a kernel source file that could not be read.
type KernelSourceError struct {
	Path string
	Err  error
}

func (e *KernelSourceError) Error() string {
	return "Cannot open file " + e.Path
}

func (e *KernelSourceError) Unwrap() []error {
	return []error{ErrKernelSourceNotFound, e.Err}
}

// KernelSource is kernel program text loaded from disk.
type KernelSource struct {
	Path string
	// Data holds exactly the bytes of the file, without a terminator.
	Data   []byte
	Digest [blake2b.Size256]byte
}

// DigestHex returns the BLAKE2b-256 digest of the source in hex.
func (s *KernelSource) DigestHex() string {
	return hex.EncodeToString(s.Digest[:])
}

// LoadKernelSource reads the whole file at path. Any open or read failure
// returns a *KernelSourceError.
func LoadKernelSource(path string) (*KernelSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KernelSourceError{Path: path, Err: err}
	}
	return &KernelSource{
		Path:   path,
		Data:   data,
		Digest: blake2b.Sum256(data),
	}, nil
}
