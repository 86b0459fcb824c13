package recording

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/edgecomet/imposter/pkg/types"
)

// FileStore is a single-JSON-document Store, written with a
// temp-file-then-rename pattern so a crash mid-write never leaves a
// truncated recording file behind. Every Append persists write-through;
// Persist rewrites the same state again as an explicit flush point.
type FileStore struct {
	mu               sync.Mutex
	path             string
	algorithm        string
	minCompressBytes int
	records          map[string]*SignatureRecord
	logger           *zap.Logger
}

// NewFileStore opens (without yet loading) a file-backed store rooted at
// path, compressing recorded bodies at or above minCompressBytes using
// algorithm ("snappy", "lz4", or "" for none). An empty path keeps the
// store purely in memory: recordings serve replay for the process lifetime
// but survive nothing.
func NewFileStore(path, algorithm string, minCompressBytes int, logger *zap.Logger) *FileStore {
	return &FileStore{
		path:             path,
		algorithm:        algorithm,
		minCompressBytes: minCompressBytes,
		records:          make(map[string]*SignatureRecord),
		logger:           logger,
	}
}

func (fs *FileStore) Load(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.path == "" {
		return nil
	}
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			fs.logger.Debug("recording file absent, starting empty", zap.String("path", fs.path))
			return nil
		}
		return fmt.Errorf("recording: read %s: %w", fs.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var persisted []persistedRecord
	if err := json.Unmarshal(data, &persisted); err != nil {
		return fmt.Errorf("recording: parse %s: %w", fs.path, err)
	}

	records := make(map[string]*SignatureRecord, len(persisted))
	for _, p := range persisted {
		sig := fromPersistedSignature(p.Signature)
		rec := &SignatureRecord{Signature: sig}
		for _, pr := range p.Responses {
			raw, err := base64.StdEncoding.DecodeString(pr.BodyB64)
			if err != nil {
				return fmt.Errorf("recording: decode body for %s %s: %w", sig.Method, sig.Path, err)
			}
			body, err := Decompress(raw, pr.Compression)
			if err != nil {
				return fmt.Errorf("recording: %s %s: %w", sig.Method, sig.Path, err)
			}
			rec.Responses = append(rec.Responses, types.RecordedResponse{
				Status:        pr.Status,
				Headers:       pr.Headers,
				Body:          body,
				LatencyMS:     pr.LatencyMS,
				TimestampSecs: pr.TimestampSecs,
			})
		}
		records[signatureKey(sig)] = rec
	}
	fs.records = records
	fs.logger.Info("recording store loaded", zap.String("path", fs.path), zap.Int("signatures", len(records)))
	return nil
}

func (fs *FileStore) Exists(ctx context.Context, sig types.RequestSignature) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec, ok := fs.records[signatureKey(sig)]
	return ok && len(rec.Responses) > 0, nil
}

func (fs *FileStore) Get(ctx context.Context, sig types.RequestSignature) (types.RecordedResponse, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec, ok := fs.records[signatureKey(sig)]
	if !ok || len(rec.Responses) == 0 {
		return types.RecordedResponse{}, false, nil
	}
	return rec.Responses[0], true, nil
}

func (fs *FileStore) Append(ctx context.Context, sig types.RequestSignature, resp types.RecordedResponse) error {
	fs.mu.Lock()
	key := signatureKey(sig)
	rec, ok := fs.records[key]
	if !ok {
		rec = &SignatureRecord{Signature: sig}
		fs.records[key] = rec
	}
	rec.Responses = append(rec.Responses, resp)
	err := fs.persistLocked()
	fs.mu.Unlock()
	return err
}

func (fs *FileStore) All(ctx context.Context) ([]SignatureRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]SignatureRecord, 0, len(fs.records))
	for _, rec := range fs.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (fs *FileStore) Persist(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.persistLocked()
}

func (fs *FileStore) persistLocked() error {
	if fs.path == "" {
		return nil
	}
	out := make([]persistedRecord, 0, len(fs.records))
	for _, rec := range fs.records {
		pr := persistedRecord{Signature: toPersistedSignature(rec.Signature)}
		for _, resp := range rec.Responses {
			body, algo, err := Compress(resp.Body, fs.algorithm, fs.minCompressBytes)
			if err != nil {
				return fmt.Errorf("recording: compress %s %s: %w", rec.Signature.Method, rec.Signature.Path, err)
			}
			pr.Responses = append(pr.Responses, persistedResponse{
				Status:        resp.Status,
				Headers:       resp.Headers,
				BodyB64:       base64.StdEncoding.EncodeToString(body),
				Compression:   algo,
				LatencyMS:     resp.LatencyMS,
				TimestampSecs: resp.TimestampSecs,
			})
		}
		out = append(out, pr)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("recording: marshal: %w", err)
	}

	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("recording: mkdir %s: %w", dir, err)
		}
	}

	tempPath := fs.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("recording: write temp file: %w", err)
	}
	if err := os.Rename(tempPath, fs.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("recording: rename temp file: %w", err)
	}
	return nil
}
