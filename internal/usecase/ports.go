package usecase

import (
	"context"
	"io"
	"time"

	"github.com/you-humble/apsplot/internal/domain"
)

type TokenSource interface {
	Bearer(ctx context.Context) (string, error)
}

// SessionFactory returns a fresh token holder for one run or request.
type SessionFactory func() TokenSource

type ObjectStore interface {
	CreateBucket(ctx context.Context, token, bucket, policy string) error
	Upload(ctx context.Context, token, bucket, object string, data []byte) (domain.ObjectDetails, error)
	CreatePlaceholder(ctx context.Context, token, bucket, object string) error
	SignedUpload(ctx context.Context, token, bucket, object string) (domain.UploadTarget, error)
	Finalize(ctx context.Context, token, bucket, object, uploadKey string, size int64) (domain.ObjectDetails, error)
	SignedURL(ctx context.Context, token, bucket, object, access string) (string, error)
	Download(ctx context.Context, signedURL string, w io.Writer) (int64, error)
}

type Translator interface {
	StartTranslation(ctx context.Context, token, urn string) error
	TranslationStatus(ctx context.Context, token, urn string) (domain.TranslationStatus, error)
}

type Automation interface {
	StartWorkItem(ctx context.Context, token string, wi domain.WorkItemRequest) (string, error)
	WorkItemStatus(ctx context.Context, token, id string) (domain.WorkItemStatus, error)
	FetchReport(ctx context.Context, reportURL string) (string, error)
}

// Cloud is everything the workflows need from the platform.
type Cloud interface {
	ObjectStore
	Translator
	Automation
}

type ArtifactStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Path(filename string) (string, error)
}

type ArtifactReader interface {
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
}

type RunJournal interface {
	Create(ctx context.Context, p domain.CreateRunParams) (domain.Run, error)
	Update(ctx context.Context, id string, u domain.RunUpdate) error
	Run(ctx context.Context, id string) (domain.Run, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

type PDFInspector interface {
	PageCount(path string) (int, error)
}

type clock func() time.Time
