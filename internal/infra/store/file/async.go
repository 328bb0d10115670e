package filestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/you-humble/apsplot/internal/infra/store/file/replicator"
)

// Remote is the mirror side of the async store.
type Remote interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// asyncStore writes locally and mirrors to the remote in the background.
type asyncStore struct {
	local      *localStore
	remote     Remote
	replicator *replicator.Replicator
}

func NewAsyncStore(
	ctx context.Context,
	local *localStore,
	remote Remote,
	queueSize,
	workerNum,
	maxRetries int,
) *asyncStore {
	repl := replicator.New(local, remote, queueSize, workerNum, maxRetries)
	repl.Start(ctx)

	return &asyncStore{
		local:      local,
		remote:     remote,
		replicator: repl,
	}
}

// Close waits for pending mirror jobs until ctx is done.
func (s *asyncStore) Close(ctx context.Context) error {
	return s.replicator.Stop(ctx)
}

func (s *asyncStore) Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error) {
	written, hash, err := s.local.Save(ctx, reader, filename, size)
	if err != nil {
		return 0, "", err
	}

	ok := s.replicator.Enqueue(replicator.Job{
		Filename: filename,
		Size:     written,
		Hash:     hash,
	})
	if !ok {
		slog.Error("asyncStore: replication queue full, artifact saved only locally",
			slog.String("filename", filename),
			slog.Int64("size", written),
		)
	}
	return written, hash, nil
}

func (s *asyncStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	rc, size, err := s.local.Open(ctx, filename)
	if err == nil {
		return rc, size, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, 0, err
	}
	return s.remote.Open(ctx, filename)
}

func (s *asyncStore) Path(filename string) (string, error) {
	return s.local.Path(filename)
}

func (s *asyncStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	eg, eCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.local.CleanupOlderThan(eCtx, maxAge)
	})
	eg.Go(func() error {
		return s.remote.CleanupOlderThan(eCtx, maxAge)
	})

	return eg.Wait()
}
