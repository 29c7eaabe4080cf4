package provider

import (
	"context"
	"image"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/lookout/pkg/nn"
)

// Probability that a synthetic call produces a detection
const SyntheticDetectionProbability = 0.4

// SyntheticProvider stands in for a model that could not be loaded.
// It reports a random supported object on roughly 40% of calls, so that the
// rest of the pipeline stays exercised.
type SyntheticProvider struct {
	labels []string
	lock   sync.Mutex
	rng    *rand.Rand
}

// If rng is nil, a randomly seeded generator is used
func NewSyntheticProvider(labels []string, rng *rand.Rand) *SyntheticProvider {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SyntheticProvider{
		labels: append([]string(nil), labels...),
		rng:    rng,
	}
}

func (s *SyntheticProvider) Name() string {
	return "synthetic"
}

func (s *SyntheticProvider) Detect(ctx context.Context, frame image.Image) ([]nn.RawDetection, error) {
	if !frameReady(frame) || len(s.labels) == 0 {
		return nil, nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.rng.Float64() >= SyntheticDetectionProbability {
		return []nn.RawDetection{}, nil
	}
	b := frame.Bounds()
	fw := float32(b.Dx())
	fh := float32(b.Dy())
	box := nn.MakeRect(
		s.rng.Float32()*math32.Max(0, fw-150),
		s.rng.Float32()*math32.Max(0, fh-150),
		100+s.rng.Float32()*100,
		100+s.rng.Float32()*100,
	)
	return []nn.RawDetection{
		{
			Class: s.labels[s.rng.IntN(len(s.labels))],
			Score: syntheticScore(s.rng.Float64()),
			Box:   box.Clamp(b.Dx(), b.Dy()),
		},
	}, nil
}

// syntheticScore maps u in [0,1) to a score in [0.65,1). The float32 rounding of
// values just below 1 would otherwise land on exactly 1.
func syntheticScore(u float64) float32 {
	score := float32(0.65 + u*0.35)
	if score >= 1 {
		score = math.Nextafter32(1, 0)
	}
	return score
}
