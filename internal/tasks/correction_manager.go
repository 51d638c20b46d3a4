package tasks

import (
	"context"
	"fmt"

	"motioncor/internal/config"
)

// CorrectionManager selects and executes processors.
type CorrectionManager struct {
	processors map[string]CorrectionProcessor
	order      []string
	config     *config.Correction
}

// NewCorrectionManager registers the built-in processors.
func NewCorrectionManager(cfg *config.Correction) *CorrectionManager {
	m := &CorrectionManager{processors: make(map[string]CorrectionProcessor), config: cfg}
	m.Register(HierarchicalProcessor{})
	m.Register(FramewiseProcessor{})
	m.Register(AverageProcessor{})
	return m
}

// Register a processor, replacing any with the same name.
func (m *CorrectionManager) Register(p CorrectionProcessor) {
	if p == nil {
		return
	}
	if _, exists := m.processors[p.Name()]; !exists {
		m.order = append(m.order, p.Name())
	}
	m.processors[p.Name()] = p
}

// Processors lists registered processor names in registration order.
func (m *CorrectionManager) Processors() []string {
	return append([]string(nil), m.order...)
}

// Correct runs the best processor for req.Mode.
func (m *CorrectionManager) Correct(ctx context.Context, req CorrectionRequest) (CorrectionResult, error) {
	proc := m.selectProcessor(req.Mode, req.Frames.Len())
	if proc == nil {
		return CorrectionResult{}, fmt.Errorf("no correction processor available for mode %v", req.Mode)
	}
	return proc.Correct(ctx, req)
}

// CorrectWith runs the named processor.
func (m *CorrectionManager) CorrectWith(ctx context.Context, name string, req CorrectionRequest) (CorrectionResult, error) {
	proc, ok := m.processors[name]
	if !ok {
		return CorrectionResult{}, fmt.Errorf("unknown correction processor %q", name)
	}
	if !proc.SupportsMode(req.Mode) {
		return CorrectionResult{}, fmt.Errorf("processor %s does not support mode %v", name, req.Mode)
	}
	return proc.Correct(ctx, req)
}

func (m *CorrectionManager) selectProcessor(mode CorrectionMode, frameCount int) CorrectionProcessor {
	if m.config != nil && m.config.DefaultProcessor != "" {
		if p, ok := m.processors[m.config.DefaultProcessor]; ok && p.SupportsMode(mode) {
			return p
		}
	}

	var (
		best      CorrectionProcessor
		bestScore float64
	)
	for _, name := range m.order {
		p := m.processors[name]
		if !p.SupportsMode(mode) {
			continue
		}
		score, err := p.EstimateQuality(frameCount)
		if err != nil {
			continue
		}
		if best == nil || score > bestScore {
			best = p
			bestScore = score
		}
	}
	return best
}
