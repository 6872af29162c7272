package organizer

import (
	"context"
	"log/slog"
	"path/filepath"

	"stockpile/internal/logging"
	"stockpile/internal/source"
)

// Publisher hands a finished project to its destination. With a remote
// source configured the folder is uploaded and a link returned; otherwise
// the local folder under the output root is the result and the link is empty.
type Publisher struct {
	local  source.Source
	remote source.Source
	logger *slog.Logger
}

// NewPublisher builds a publisher. remote may be nil.
func NewPublisher(local, remote source.Source, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{local: local, remote: remote, logger: logging.NewComponentLogger(logger, "publisher")}
}

// UploadAndOrganize publishes folder and returns the remote link, if any.
func (p *Publisher) UploadAndOrganize(ctx context.Context, folder string) (string, error) {
	name := filepath.Base(folder)
	if p.remote != nil {
		link, err := p.remote.Store(ctx, folder, name)
		if err != nil {
			return "", err
		}
		logging.WithContext(ctx, p.logger).Info("project published", logging.String("link", link))
		return link, nil
	}
	if p.local != nil {
		if _, err := p.local.Store(ctx, folder, name); err != nil {
			return "", err
		}
	}
	return "", nil
}
