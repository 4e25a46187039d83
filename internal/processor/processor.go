// Package processor reacts to bus events that ask for session analysis.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/MikeSquared-Agency/antiphon/internal/analysis"
	"github.com/MikeSquared-Agency/antiphon/internal/fingerprint"
	"github.com/MikeSquared-Agency/antiphon/internal/hermes"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
	"github.com/MikeSquared-Agency/antiphon/internal/session"
)

// Starter launches an analysis run. *analysis.Runner satisfies it.
type Starter interface {
	Start(ctx context.Context, target analysis.Target, refs []fingerprint.Reference) error
}

// Processor turns analysis requests from the bus into analysis runs.
type Processor struct {
	sessions *session.Manager
	runner   Starter
	logger   *slog.Logger
}

func New(sessions *session.Manager, runner Starter, logger *slog.Logger) *Processor {
	return &Processor{sessions: sessions, runner: runner, logger: logger}
}

// HandleAnalysisRequested is the NATS handler for swarm.antiphon.analysis.requested.
func (p *Processor) HandleAnalysisRequested(subject string, data []byte) {
	ctx := context.Background()

	var req hermes.AnalysisRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Error("failed to parse analysis request", "subject", subject, "error", err)
		return
	}

	refs, ok := p.references(req)
	if !ok {
		return
	}

	sess, err := p.sessions.Get(ctx, req.SessionID)
	if err != nil {
		p.logger.Error("analysis requested for unknown session", "session_id", req.SessionID, "error", err)
		return
	}

	if err := p.runner.Start(ctx, sess, refs); err != nil {
		p.logger.Warn("analysis not started", "session_id", req.SessionID, "error", err)
		return
	}
	p.logger.Info("analysis started from bus", "session_id", req.SessionID, "references", len(refs))
}

func (p *Processor) references(req hermes.AnalysisRequest) ([]fingerprint.Reference, bool) {
	refs := make([]fingerprint.Reference, 0, len(req.References))
	for _, r := range req.References {
		ref := fingerprint.Reference{
			Label: section.Label(r.Label),
			Range: section.Range{Start: r.Start, End: r.End},
		}
		if !ref.Label.Valid() {
			p.logger.Error("invalid reference label", "session_id", req.SessionID, "label", r.Label)
			return nil, false
		}
		if err := ref.Range.Validate(); err != nil {
			p.logger.Error("invalid reference range", "session_id", req.SessionID, "error", err)
			return nil, false
		}
		refs = append(refs, ref)
	}
	return refs, true
}
