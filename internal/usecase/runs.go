package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/you-humble/apsplot/internal/domain"
)

// Runs answers questions about past runs from the journal.
type Runs struct {
	journal   RunJournal
	artifacts ArtifactReader
}

func NewRuns(journal RunJournal, artifacts ArtifactReader) *Runs {
	return &Runs{journal: journal, artifacts: artifacts}
}

func (r *Runs) Get(ctx context.Context, id string) (domain.Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, domain.ErrRunNotFound
	}
	return r.journal.Run(ctx, id)
}

// Artifact opens the PDF written by a finished convert run.
func (r *Runs) Artifact(ctx context.Context, id string) (domain.Artifact, error) {
	run, err := r.Get(ctx, id)
	if err != nil {
		return domain.Artifact{}, err
	}
	if run.Kind != domain.RunConvert || run.Status != domain.RunDone || run.OutputName == "" {
		return domain.Artifact{}, fmt.Errorf("%w: run %s is %s %s", domain.ErrRunNotReady, run.ID, run.Kind, run.Status)
	}

	rc, size, err := r.artifacts.Open(ctx, run.OutputName)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("open %s: %w", run.OutputName, err)
	}
	return domain.Artifact{Name: run.OutputName, Size: size, Content: rc}, nil
}
