package engine

import (
	"os"

	"github.com/alvarorichard/hlsfalcon/internal/crypto"
	"github.com/alvarorichard/hlsfalcon/internal/fsutil"
	"github.com/alvarorichard/hlsfalcon/internal/muxer"
	"github.com/alvarorichard/hlsfalcon/internal/segment"
)

// decryptSegments runs the decryption pass between fetch and mux: for
// every descriptor whose key is Encrypted, it reads the fetched file
// from tempDir, writes the plaintext to a sibling ".dec" file, and
// returns the muxer's ordered file list pointing at the decrypted file
// where one exists and the original fetched file otherwise. Kept as a
// distinct pass rather than folded into the fetcher or the muxer
// adapter so each stage stays independently testable.
func decryptSegments(tempDir string, descriptors []segment.Descriptor) ([]muxer.SegmentFile, error) {
	files := make([]muxer.SegmentFile, 0, len(descriptors))

	for _, d := range descriptors {
		path := segment.LocalPath(tempDir, d)
		if !d.Key.Encrypted {
			files = append(files, muxer.SegmentFile{Path: path})
			continue
		}

		ciphertext, err := os.ReadFile(path)
		if err != nil {
			return nil, &fileReadError{path: path, cause: err}
		}
		plaintext, err := crypto.Decrypt(ciphertext, d.Key.Key, d.Key.IV)
		if err != nil {
			return nil, err
		}

		decPath := path + ".dec"
		if err := os.WriteFile(decPath, plaintext, 0o600); err != nil {
			return nil, &fsutil.Error{Kind: fsutil.WriteFailed, Path: decPath, Cause: err}
		}
		files = append(files, muxer.SegmentFile{Path: decPath})
	}

	return files, nil
}

type fileReadError struct {
	path  string
	cause error
}

func (e *fileReadError) Error() string {
	return "engine: reading fetched segment " + e.path + ": " + e.cause.Error()
}

func (e *fileReadError) Unwrap() error { return e.cause }
