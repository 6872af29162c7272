package daemonrun

import (
	"context"
	"fmt"
	"log/slog"

	"stockpile/internal/config"
	"stockpile/internal/metrics"
	"stockpile/internal/notifications"
	"stockpile/internal/organizer"
	"stockpile/internal/retry"
	"stockpile/internal/services/llm"
	"stockpile/internal/services/whisperx"
	"stockpile/internal/services/ytdlp"
	"stockpile/internal/source"
	"stockpile/internal/stage"
)

// Runtime holds the collaborators shared by the daemon and one-shot CLI runs.
type Runtime struct {
	Pipeline *stage.Pipeline
	Sources  *source.Registry
	Local    *source.Local
	Cloud    *source.CloudDrive
	Notifier notifications.Notifier
	Metrics  *metrics.Metrics
}

// Build wires the production pipeline for cfg. mt may be nil.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, mt *metrics.Metrics) (*Runtime, error) {
	local := source.NewLocal(cfg.Paths.InputDir, cfg.Paths.OutputDir)
	rt := &Runtime{
		Local:    local,
		Notifier: notifications.NewNotifier(cfg),
		Metrics:  mt,
	}
	sources := []source.Source{local}
	if cfg.CloudDrive.Enabled {
		cloud, err := source.NewCloudDrive(ctx, cfg.CloudDrive, logger)
		if err != nil {
			return nil, fmt.Errorf("cloud drive: %w", err)
		}
		rt.Cloud = cloud
		sources = append(sources, cloud)
	}
	rt.Sources = source.NewRegistry(sources...)

	var remote source.Source
	if cfg.CloudOutputEnabled() && rt.Cloud != nil {
		remote = rt.Cloud
	}

	transcriber := whisperx.NewService(whisperx.Config{
		Model:       cfg.Transcription.Model,
		Language:    cfg.Transcription.Language,
		CUDAEnabled: cfg.Transcription.CUDAEnabled,
		Runner:      cfg.Transcription.Runner,
	}, cfg.Paths.StagingDir)
	chat := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	downloader := ytdlp.New(ytdlp.Config{
		Binary:             cfg.Downloader.Binary,
		Format:             cfg.Downloader.Format,
		MaxDurationSeconds: cfg.Search.MaxDurationSeconds,
	}, nil)

	engineOpts := []retry.Option{retry.WithLogger(logger)}
	if mt != nil {
		engineOpts = append(engineOpts, retry.WithObserver(mt))
	}

	pipeline, err := stage.NewPipeline(stage.Deps{
		Config:     cfg,
		Retry:      retry.New(engineOpts...),
		Policies:   retry.PresetsFromConfig(cfg.Retry),
		Logger:     logger,
		Fetcher:    rt.Sources,
		Transcribe: transcriber,
		Phrases:    chat,
		Search:     downloader,
		Score:      chat,
		Download:   downloader,
		Organizer:  organizer.New(cfg.Paths.OutputDir, logger),
		Publisher:  organizer.NewPublisher(local, remote, logger),
		Notifier:   rt.Notifier,
	})
	if err != nil {
		return nil, err
	}
	rt.Pipeline = pipeline
	return rt, nil
}
