// Package scm extracts the scenario payload from map archives and computes
// the content hash of the original file in the same pass.
package scm

import "io"

// Extracted is the output of one extraction.
type Extracted struct {
	// Hash is the lowercase hex SHA-256 of the extension followed by the raw
	// archive bytes.
	Hash      string
	Extension string
	Scenario  []byte
}

type Extractor interface {
	Extract(src io.Reader, ext string) (*Extracted, error)
	ExtractFile(path, ext string) (*Extracted, error)
}
