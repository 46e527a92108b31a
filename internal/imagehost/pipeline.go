package imagehost

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Stage is a step of Process, reported in order.
type Stage int

const (
	StageValidating Stage = iota
	StageCompressing
	StageUploading
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "Validating image..."
	case StageCompressing:
		return "Compressing image..."
	case StageUploading:
		return "Uploading..."
	case StageComplete:
		return "Upload complete!"
	default:
		return "Unknown stage"
	}
}

// ProgressFunc receives each stage as it starts.
type ProgressFunc func(Stage)

// Publisher stores a compressed image and returns its public URL.
type Publisher interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

type Pipeline struct {
	publisher Publisher
}

func NewPipeline(publisher Publisher) *Pipeline {
	return &Pipeline{publisher: publisher}
}

// Process validates, compresses and uploads f. Stages run one after another
// and onProgress, if set, is called synchronously before each. The sequence
// stops at the first failing stage.
func (p *Pipeline) Process(ctx context.Context, f File, onProgress ProgressFunc) (string, error) {
	report := func(s Stage) {
		if onProgress != nil {
			onProgress(s)
		}
	}

	report(StageValidating)
	if err := Validate(f); err != nil {
		log.Debug().Err(err).Str("file", f.Name).Msg("Image rejected")
		return "", err
	}

	report(StageCompressing)
	compressed, err := Compress(f.Data)
	if err != nil {
		log.Debug().Err(err).Str("file", f.Name).Msg("Image compression failed")
		return "", err
	}

	log.Info().
		Str("file", f.Name).
		Int64("original_kb", f.Size/1024).
		Int("compressed_kb", len(compressed)/1024).
		Msg("Image compressed")

	report(StageUploading)
	url, err := p.publisher.Upload(ctx, compressed)
	if err != nil {
		log.Warn().Err(err).Str("file", f.Name).Msg("Image upload failed")
		return "", err
	}

	report(StageComplete)
	return url, nil
}
