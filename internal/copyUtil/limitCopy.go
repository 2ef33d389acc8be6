package copyUtil

import (
	"errors"
	"io"
)

const (
	chunkSize = 1 * 1024 * 1024 // 1MB per chunk
	maxChunks = 50              // Up to 50MB per file copied this way
)

// CopyWithLimit copies src to dst in bounded chunks, used by the linker when
// materializing a local package by copy instead of symlink.
func CopyWithLimit(dst io.Writer, src io.Reader) error {
	var totalChunks int

	for {
		if totalChunks >= maxChunks {
			return errors.New("copy limit exceeded")
		}

		n, err := io.CopyN(dst, src, chunkSize)
		totalChunks++

		if err != nil {
			if errors.Is(err, io.EOF) {
				break // Copy complete
			}
			return err
		}

		if n < chunkSize {
			break // No more data left
		}
	}

	return nil
}
