package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/config"
	"github.com/watzon/docwebhooks/internal/requestlog"
)

// Archiver writes batches of request logs as JSON lines, one object per
// batch, keyed by date.
type Archiver struct {
	backend     Backend
	bucket      string
	compression Compression
	now         func() time.Time
}

func NewArchiver(backend Backend, bucket string, compression Compression) *Archiver {
	return &Archiver{
		backend:     backend,
		bucket:      bucket,
		compression: compression,
		now:         time.Now,
	}
}

// FromConfig builds an Archiver, or returns nil when archiving is disabled.
func FromConfig(ctx context.Context, cfg *config.ArchiveConfig) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	compression, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return NewArchiver(backend, cfg.Bucket, compression), nil
}

func (a *Archiver) key() string {
	now := a.now().UTC()
	name := fmt.Sprintf("%s-%s.jsonl%s", now.Format("20060102T150405Z"), uuid.New().String()[:8], a.compression.Extension())
	return path.Join("request-logs", now.Format("2006/01/02"), name)
}

// ArchiveRequestLogs stores entries and returns the object key.
func (a *Archiver) ArchiveRequestLogs(ctx context.Context, entries []*requestlog.Entry) (string, error) {
	var buf bytes.Buffer
	w, err := a.compression.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("creating %s writer: %w", a.compression, err)
	}

	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			w.Close()
			return "", fmt.Errorf("encoding request log %s: %w", e.ID, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("flushing archive: %w", err)
	}

	key := a.key()
	if err := a.backend.Put(ctx, a.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return "", fmt.Errorf("storing archive %s: %w", key, err)
	}

	log.Debug().
		Str("key", key).
		Int("entries", len(entries)).
		Int("bytes", buf.Len()).
		Msg("Request logs archived")

	return key, nil
}

// ReadRequestLogs loads an archive written by ArchiveRequestLogs.
func (a *Archiver) ReadRequestLogs(ctx context.Context, key string) ([]*requestlog.Entry, error) {
	rc, err := a.backend.Get(ctx, a.bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r, err := a.compression.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", key, err)
	}
	defer r.Close()

	var entries []*requestlog.Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e requestlog.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decoding archive %s: %w", key, err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", key, err)
	}
	return entries, nil
}
