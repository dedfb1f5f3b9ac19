package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/audio"
	"github.com/creastat/hotline/background"
	"github.com/creastat/hotline/calls"
	"github.com/creastat/hotline/config"
	"github.com/creastat/hotline/conversation"
	"github.com/creastat/hotline/escalation"
	"github.com/creastat/hotline/pipeline"
	"github.com/creastat/hotline/records"
	"github.com/creastat/hotline/retry"
	"github.com/creastat/hotline/risk"
	"github.com/creastat/hotline/safety"
	"github.com/creastat/hotline/session"
	"github.com/creastat/hotline/speech"
	"github.com/creastat/hotline/supabase"
	"github.com/creastat/hotline/telephony"
	"github.com/creastat/hotline/vectorstore"
	"github.com/creastat/hotline/vectorstore/chromem"
	"github.com/creastat/hotline/vectorstore/qdrant"
	chromemgo "github.com/philippgille/chromem-go"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms/openai"
)

// app is the wired service. close releases everything in reverse order of
// construction.
type app struct {
	server  *telephony.Server
	runner  *background.Runner
	closers []func() error
	logger  *slog.Logger
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// close drains the background queue, then closes stores.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain background tasks: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp constructs every component from cfg. Components without a
// configured backend get their no-op driver.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	if info, statErr := os.Stat(cfg.Audio.Fallback); statErr != nil || info.Size() == 0 {
		return nil, fmt.Errorf("fallback audio %s must be a non-empty file: %w", cfg.Audio.Fallback, hotline.ErrInvalidConfig)
	}
	store, err := audio.New(cfg.Audio.Root)
	if err != nil {
		return nil, err
	}

	ledger, err := openLedger(cfg.Records)
	if err != nil {
		return nil, err
	}
	a.onClose(ledger.Close)

	sessions, err := openSessions(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}
	a.onClose(sessions.Close)

	a.runner = background.New(background.Config{
		Workers:     cfg.Background.Workers,
		QueueSize:   cfg.Background.QueueSize,
		TaskTimeout: cfg.Background.TaskTimeout,
		Logger:      logger.With("component", "background"),
	})

	llm, err := openai.New(
		openai.WithToken(cfg.LLM.APIKey),
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithModel(cfg.LLM.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	memory, err := openMemory(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(memory.Close)

	var counter hotline.TokenCounter = hotline.EstimateCounter{}
	if cfg.LLM.Tokenizer == "tiktoken" {
		counter = hotline.NewTiktokenCounter("")
	}
	engine, err := conversation.NewEngine(conversation.Config{
		Completer:   conversation.NewLLMCompleterWithModel(llm, cfg.LLM.Temperature),
		Memory:      memory,
		Background:  a.runner,
		Counter:     counter,
		MemoryLimit: cfg.Memory.Limit,
		TokenBudget: cfg.LLM.TokenBudget,
		Logger:      logger.With("component", "conversation"),
	})
	if err != nil {
		return nil, err
	}

	var sp speech.Service = speech.Noop{}
	if cfg.Speech.Driver == "sarvam" {
		sp, err = speech.NewSarvam(speech.SarvamConfig{
			BaseURL:           cfg.Speech.BaseURL,
			APIKey:            cfg.Speech.APIKey,
			RequestsPerSecond: cfg.Speech.RequestsPerSecond,
			Logger:            logger.With("component", "speech"),
		})
		if err != nil {
			return nil, err
		}
	}

	var classifier risk.Classifier
	if cfg.Risk.ModelURL != "" {
		classifier, err = risk.NewModelClassifier(risk.ModelConfig{
			BaseURL: cfg.Risk.ModelURL,
			Timeout: cfg.Risk.Timeout,
			Logger:  logger.With("component", "risk"),
		})
		if err != nil {
			return nil, err
		}
	}
	assessor := risk.NewAssessor(classifier, sp, logger.With("component", "risk"))

	var dialer escalation.Dialer = escalation.LogOnlyDialer{Logger: logger.With("component", "escalation")}
	if cfg.Twilio.Dialable() {
		dialer, err = escalation.NewTwilioDialer(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("twilio credentials missing, emergency alerts are log only")
	}
	fanout := escalation.NewFanOut(escalation.FanOutConfig{
		Dialer:      dialer,
		Contacts:    cfg.Escalation.Contacts,
		Concurrency: cfg.Escalation.Concurrency,
		DialTimeout: cfg.Escalation.DialTimeout,
		Logger:      logger.With("component", "escalation"),
	})
	escalator := escalation.NewEscalator(sessions, ledger, fanout, a.runner, logger.With("component", "escalation"))

	var scorer safety.Scorer = safety.NewKeywordScorer()
	if cfg.Safety.Scorer == "llm" {
		scorer = safety.NewLLMScorer(llm)
	}
	validator := safety.NewValidator(scorer, a.runner, cfg.Safety.Threshold, logger.With("component", "safety"))

	segments, err := pipeline.New(pipeline.Config{
		Fetcher: telephony.NewRecordingFetcher(telephony.FetcherConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
		}),
		Ledger:    ledger,
		Sessions:  sessions,
		Audio:     store,
		Speech:    sp,
		Assessor:  assessor,
		Responder: engine,
		Escalator: escalator,
		Safety:    validator,
		Poll: retry.Policy{
			Interval:    cfg.Synthesis.PollInterval,
			MaxAttempts: cfg.Synthesis.PollMaxAttempts,
			Timeout:     cfg.Synthesis.PollTimeout,
		},
		FallbackAudio: cfg.Audio.Fallback,
		Logger:        logger.With("component", "pipeline"),
	})
	if err != nil {
		return nil, err
	}

	manager, err := calls.NewManager(calls.Config{
		Ledger:   ledger,
		Sessions: sessions,
		Pipeline: segments,
		Logger:   logger.With("component", "calls"),
	})
	if err != nil {
		return nil, err
	}

	authToken := ""
	if cfg.Twilio.ValidateSignatures {
		authToken = cfg.Twilio.AuthToken
	}
	a.server, err = telephony.NewServer(telephony.Config{
		Manager:       manager,
		Audio:         store,
		FallbackAudio: cfg.Audio.Fallback,
		PublicURL:     cfg.Server.PublicURL,
		AuthToken:     authToken,
		Record: telephony.RecordOptions{
			MaxLengthSeconds:      cfg.Twilio.MaxSegmentSeconds,
			SilenceTimeoutSeconds: cfg.Twilio.SilenceTimeoutSeconds,
		},
		SegmentTimeout: cfg.Server.SegmentTimeout,
		Logger:         logger.With("component", "telephony"),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func openLedger(cfg config.RecordsConfig) (records.Store, error) {
	if cfg.Driver == "supabase" {
		return supabase.New(supabase.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseKey, CacheTTL: cfg.CacheTTL})
	}
	return records.OpenSQLite(cfg.SQLitePath)
}

func openSessions(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	if cfg.Driver != "redis" {
		return session.NewStore(session.StoreTypeMemory)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return session.NewStore(session.StoreTypeRedis,
		session.WithRedisClient(client),
		session.WithRedisTTL(cfg.TTL),
		session.WithKeyPrefix(cfg.KeyPrefix),
	)
}

func openMemory(cfg *config.Config, logger *slog.Logger) (vectorstore.MemoryStore, error) {
	if cfg.Memory.Driver == "none" || cfg.Memory.Driver == "" {
		return vectorstore.Noop{}, nil
	}
	normalized := true
	embed := vectorstore.EmbedFunc(chromemgo.NewEmbeddingFuncOpenAICompat(
		cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.Memory.EmbeddingModel, &normalized))

	if cfg.Memory.Driver == "qdrant" {
		return qdrant.New(qdrant.Config{
			URL:            cfg.Memory.QdrantURL,
			CollectionName: cfg.Memory.Collection,
			APIKey:         cfg.Memory.QdrantAPIKey,
			Embed:          embed,
			MinScore:       cfg.Memory.MinScore,
		})
	}
	return chromem.New(cfg.Memory.Dir, embed, logger.With("component", "memory"))
}
