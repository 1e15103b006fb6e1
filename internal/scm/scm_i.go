package scm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"scmap/internal/mapdata"
)

type ExtractorI struct{}

var _ Extractor = (*ExtractorI)(nil)

func NewExtractorI() *ExtractorI { return &ExtractorI{} }

func (e *ExtractorI) ExtractFile(path, ext string) (*Extracted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mapdata.Wrap(mapdata.KindFormat, "open map file", err)
	}
	defer f.Close()
	return e.Extract(f, ext)
}

// Extract streams src through the hasher into the archive buffer. The hash
// stage sees every byte exactly once, ahead of decompression.
func (e *ExtractorI) Extract(src io.Reader, ext string) (*Extracted, error) {
	ext = mapdata.NormalizeExtension(ext)
	if !mapdata.IsSupportedExtension(ext) {
		return nil, mapdata.Errorf(mapdata.KindFormat, "unsupported extension %q", ext)
	}

	h := sha256.New()
	h.Write([]byte(ext))

	pr, pw := io.Pipe()
	var archiveBytes bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(io.MultiWriter(h, pw), src)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		_, err := archiveBytes.ReadFrom(pr)
		pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, mapdata.Wrap(mapdata.KindFormat, "read map file", err)
	}

	a, err := openArchive(archiveBytes.Bytes())
	if err != nil {
		return nil, err
	}
	chk, err := a.readFile(ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("extract scenario: %w", err)
	}

	return &Extracted{
		Hash:      hex.EncodeToString(h.Sum(nil)),
		Extension: ext,
		Scenario:  chk,
	}, nil
}
