package pdf

import (
	"context"
	"io"
)

// Provider renders documents for download. The caller assembles the
// data from the dashboard read service; the renderer never touches the
// database.
type Provider interface {
	GenerateProgressReport(ctx context.Context, data ReportData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateProgressReport(ctx context.Context, data ReportData) (io.Reader, error) {
	return nil, nil
}
