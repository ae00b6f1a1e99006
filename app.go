package main

import (
	"context"
	"fmt"

	"github.com/harrisonrobin/aide/pkg/assistant"
	"github.com/harrisonrobin/aide/pkg/auth"
	"github.com/harrisonrobin/aide/pkg/config"
	"github.com/harrisonrobin/aide/pkg/email"
	"github.com/harrisonrobin/aide/pkg/google"
	"github.com/harrisonrobin/aide/pkg/intent"
	"github.com/harrisonrobin/aide/pkg/llm"
	"github.com/harrisonrobin/aide/pkg/security"
	"github.com/harrisonrobin/aide/pkg/taskstore"
	"go.uber.org/zap"
)

type app struct {
	store   *taskstore.Store
	manager *assistant.Manager
}

// buildApp wires the assistant. The calendar and mailbox are optional: a
// missing token or address disables them with a warning.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := taskstore.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	gen, err := llm.NewGenerator(ctx, cfg.LLM, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create language model client: %w", err)
	}

	deps := assistant.Deps{
		Tasks:      store,
		Classifier: intent.NewClassifier(gen, logger),
		Generator:  gen,
		Logger:     logger,
		EmailLimit: cfg.Email.FetchLimit,
	}

	if cal := newCalendar(ctx, cfg, logger); cal != nil {
		deps.Calendar = cal
	}
	if svc := newEmailService(cfg, gen, logger); svc != nil {
		deps.Emails = svc
	}

	return &app{store: store, manager: assistant.New(deps)}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func newCalendar(ctx context.Context, cfg *config.Config, logger *zap.Logger) *google.CalendarClient {
	dir, err := config.GetXdgHome()
	if err != nil {
		logger.Warn("calendar disabled", zap.Error(err))
		return nil
	}
	authenticator := auth.New(dir, logger)
	if !authenticator.HasToken() {
		logger.Warn("calendar disabled: no Google token, run `aide auth` first")
		return nil
	}
	client, err := google.NewClient(ctx, authenticator, cfg.Calendar.Name, cfg.Calendar.TimeZone, logger)
	if err != nil {
		logger.Warn("calendar disabled", zap.Error(err))
		return nil
	}
	return client
}

func newEmailService(cfg *config.Config, gen llm.Generator, logger *zap.Logger) *email.Service {
	if cfg.Email.Address == "" {
		logger.Info("email disabled: no address configured")
		return nil
	}

	var tok llm.Tokenizer = llm.RuneTokenizer{}
	if bpe, err := llm.NewBPETokenizer(cfg.LLM.Encoding); err != nil {
		logger.Warn("BPE tokenizer unavailable, estimating tokens per character", zap.Error(err))
	} else {
		tok = bpe
	}

	scanner := security.NewVirusTotal(cfg.VirusTotal.APIKey, cfg.VirusTotal.PollAttempts, cfg.VirusTotal.PollInterval, logger)
	fetcher := &email.IMAPFetcher{
		Addr:     cfg.Email.IMAPAddr,
		Username: cfg.Email.Address,
		Password: cfg.Email.Password,
		Logger:   logger,
	}
	analyzer := email.NewAnalyzer(gen, tok, email.Budget{
		ContextTokens: cfg.LLM.ContextTokens,
		SafetyMargin:  cfg.LLM.SafetyMargin,
		ChunkTokens:   cfg.LLM.ChunkTokens,
	}, logger)
	return email.NewService(fetcher, email.NewParser(scanner, logger), analyzer, logger)
}
