package worker

import (
	"scmap/internal/chk"
	"scmap/internal/mapdata"
	"scmap/internal/render"
	"scmap/internal/scm"
)

// ProcessorI extracts, parses and optionally renders one map file.
type ProcessorI struct {
	extractor   scm.Extractor
	newRenderer func(dataPath string) render.Renderer
}

var _ Processor = (*ProcessorI)(nil)

func NewProcessorI() *ProcessorI {
	return &ProcessorI{
		extractor: scm.NewExtractorI(),
		newRenderer: func(dataPath string) render.Renderer {
			return render.NewRendererI(dataPath)
		},
	}
}

func (p *ProcessorI) Process(path, ext, dataPath string) (*mapdata.Metadata, [][]byte, error) {
	ex, err := p.extractor.ExtractFile(path, ext)
	if err != nil {
		return nil, nil, err
	}
	s, err := chk.Parse(ex.Scenario)
	if err != nil {
		return nil, nil, err
	}
	md := s.Metadata(ex.Hash, ex.Extension)
	if dataPath == "" {
		return md, nil, nil
	}

	images, err := p.newRenderer(dataPath).Render(s, mapdata.ImageSizes)
	if err != nil {
		return nil, nil, mapdata.Wrap(mapdata.KindProcess, "render map", err)
	}
	return md, images, nil
}
