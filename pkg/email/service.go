package email

import (
	"context"

	"go.uber.org/zap"
)

// Service is the email intelligence gateway.
type Service struct {
	fetcher  Fetcher
	parser   *Parser
	analyzer *Analyzer
	logger   *zap.Logger
}

func NewService(fetcher Fetcher, parser *Parser, analyzer *Analyzer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{fetcher: fetcher, parser: parser, analyzer: analyzer, logger: logger}
}

// AnalyzeRecent analyses the latest limit messages. Mailbox failures are
// logged and produce an empty result; messages that cannot be parsed or
// analysed are skipped. Only context cancellation is returned as an error.
func (s *Service) AnalyzeRecent(ctx context.Context, limit int) ([]Analysis, error) {
	s.logger.Info("fetching latest emails", zap.Int("limit", limit))
	raws, err := s.fetcher.Fetch(ctx, limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("could not fetch emails", zap.Error(err))
		return nil, nil
	}

	analyses := make([]Analysis, 0, len(raws))
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return analyses, err
		}
		msg, err := s.parser.Parse(ctx, raw)
		if err != nil {
			s.logger.Warn("could not parse email", zap.Error(err))
			continue
		}
		s.logger.Info("analysing email", zap.String("subject", msg.Subject), zap.String("from", msg.Sender))
		if a, ok := s.analyzer.Analyze(ctx, msg); ok {
			analyses = append(analyses, a)
		}
	}
	return analyses, nil
}
