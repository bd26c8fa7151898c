package blobstore

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedStore wraps a BlobStore and throttles write throughput to a
// configured byte rate. Checkpoint uploads run beside the accumulation
// loop; the limiter keeps them from saturating disk or network bandwidth
// the sampler host needs.
type RateLimitedStore struct {
	inner   BlobStore
	limiter *rate.Limiter
}

// NewRateLimitedStore wraps inner with a write limit of bytesPerSec.
// The burst equals one second of budget. bytesPerSec must be positive;
// a non-positive budget would stall every write forever.
func NewRateLimitedStore(inner BlobStore, bytesPerSec int) (*RateLimitedStore, error) {
	if bytesPerSec < 1 {
		return nil, fmt.Errorf("write limit must be positive, got %d bytes/s", bytesPerSec)
	}
	return &RateLimitedStore{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
	}, nil
}

// Open opens a blob for reading. Reads are not throttled.
func (s *RateLimitedStore) Open(ctx context.Context, name string) (Blob, error) {
	return s.inner.Open(ctx, name)
}

// Create creates a blob whose writes are throttled.
func (s *RateLimitedStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &limitedWritableBlob{ctx: ctx, inner: w, limiter: s.limiter}, nil
}

// Put writes a blob atomically, waiting for rate budget first.
func (s *RateLimitedStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.waitN(ctx, len(data)); err != nil {
		return err
	}
	return s.inner.Put(ctx, name, data)
}

// Delete removes a blob.
func (s *RateLimitedStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// List returns the names of all blobs with the given prefix.
func (s *RateLimitedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// waitN reserves n bytes of budget, splitting requests larger than the
// limiter burst.
func (s *RateLimitedStore) waitN(ctx context.Context, n int) error {
	burst := s.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := s.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

type limitedWritableBlob struct {
	ctx     context.Context
	inner   WritableBlob
	limiter *rate.Limiter
}

func (b *limitedWritableBlob) Write(p []byte) (int, error) {
	burst := b.limiter.Burst()
	written := 0
	for written < len(p) {
		chunk := len(p) - written
		if chunk > burst {
			chunk = burst
		}
		if err := b.limiter.WaitN(b.ctx, chunk); err != nil {
			return written, err
		}
		n, err := b.inner.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (b *limitedWritableBlob) Close() error { return b.inner.Close() }
func (b *limitedWritableBlob) Abort() error { return b.inner.Abort() }
