package llm

import (
	"context"

	"go.uber.org/zap"
)

// TryGenerate calls p and returns "" on any failure after logging it. Most
// pipeline stages degrade to a default instead of propagating errors.
func TryGenerate(ctx context.Context, p Provider, req Request, logger *zap.Logger) string {
	if p == nil {
		return ""
	}
	resp, err := p.Generate(ctx, req)
	if err != nil {
		if logger != nil {
			logger.Warn("Provider call degraded to default",
				zap.String("provider", p.Name()),
				zap.String("component", req.Component),
				zap.Error(err),
			)
		}
		return ""
	}
	return resp.Content
}
