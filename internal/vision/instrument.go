package vision

import (
	"context"
	"errors"

	"go.uber.org/zap"

	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	"github.com/babcialabs/babcia/internal/vision/domain"
)

// instrumentedProvider wraps a provider with call metrics and logging.
type instrumentedProvider struct {
	next       domain.Provider
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func instrument(next domain.Provider, log *zap.Logger, m *obsmetrics.Metrics) domain.Provider {
	return &instrumentedProvider{
		next:       next,
		log:        log.Named("vision").With(zap.String("provider", next.Name())),
		obsMetrics: m,
	}
}

func (p *instrumentedProvider) Name() string {
	return p.next.Name()
}

func (p *instrumentedProvider) GenerateTasks(ctx context.Context, req domain.GenerateTasksRequest) ([]domain.TaskSuggestion, error) {
	suggestions, err := p.next.GenerateTasks(ctx, req)
	p.record(ctx, "generate_tasks", err)
	if err != nil {
		p.log.Warn("task generation failed", zap.String("area_id", req.AreaID.String()), zap.Error(err))
		return nil, err
	}
	return suggestions, nil
}

func (p *instrumentedProvider) Judge(ctx context.Context, req domain.JudgeRequest) (domain.Judgement, error) {
	judgement, err := p.next.Judge(ctx, req)
	p.record(ctx, "judge", err)
	if err != nil {
		p.log.Warn("judgement failed", zap.String("bowl_id", req.BowlID.String()), zap.Error(err))
		return domain.Judgement{}, err
	}
	return judgement, nil
}

func (p *instrumentedProvider) record(ctx context.Context, op string, err error) {
	if p.obsMetrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, domain.ErrUnavailable):
		status = "unavailable"
	case err != nil:
		status = "error"
	}
	p.obsMetrics.RecordVisionCall(ctx, op, status)
}
