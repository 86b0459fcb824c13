package recording

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	commonredis "github.com/edgecomet/imposter/internal/common/redis"
	"github.com/edgecomet/imposter/pkg/types"
)

// RedisStore is a Store backed by the shared internal/common/redis.Client,
// keeping one JSON value per signature under prefix+key. Read-modify-write
// on Append is not fully atomic across concurrent writers to the same
// signature; acceptable here because distinct signatures are the common
// case and a rare lost update only drops one recorded response, never
// corrupts state.
type RedisStore struct {
	client           *commonredis.Client
	prefix           string
	algorithm        string
	minCompressBytes int
}

func NewRedisStore(client *commonredis.Client, prefix, algorithm string, minCompressBytes int) *RedisStore {
	if prefix == "" {
		prefix = "imposter:recording:"
	}
	return &RedisStore{client: client, prefix: prefix, algorithm: algorithm, minCompressBytes: minCompressBytes}
}

func (rs *RedisStore) redisKey(sig types.RequestSignature) string {
	return rs.prefix + signatureKey(sig)
}

func (rs *RedisStore) Load(ctx context.Context) error {
	// Redis is the source of truth; nothing to warm into process memory.
	return nil
}

func (rs *RedisStore) Persist(ctx context.Context) error {
	// Every Append already writes through.
	return nil
}

func (rs *RedisStore) Exists(ctx context.Context, sig types.RequestSignature) (bool, error) {
	return rs.client.Exists(ctx, rs.redisKey(sig))
}

func (rs *RedisStore) Get(ctx context.Context, sig types.RequestSignature) (types.RecordedResponse, bool, error) {
	rec, ok, err := rs.loadRecord(ctx, sig)
	if err != nil || !ok || len(rec.Responses) == 0 {
		return types.RecordedResponse{}, false, err
	}
	return rec.Responses[0], true, nil
}

func (rs *RedisStore) Append(ctx context.Context, sig types.RequestSignature, resp types.RecordedResponse) error {
	rec, ok, err := rs.loadRecord(ctx, sig)
	if err != nil {
		return err
	}
	if !ok {
		rec = &SignatureRecord{Signature: sig}
	}
	rec.Responses = append(rec.Responses, resp)
	return rs.saveRecord(ctx, rec)
}

func (rs *RedisStore) All(ctx context.Context) ([]SignatureRecord, error) {
	keys, err := rs.client.Keys(ctx, rs.prefix+"*")
	if err != nil {
		return nil, err
	}
	out := make([]SignatureRecord, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := rs.client.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec, err := rs.decodeRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("recording: redis key %s: %w", key, err)
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (rs *RedisStore) loadRecord(ctx context.Context, sig types.RequestSignature) (*SignatureRecord, bool, error) {
	raw, ok, err := rs.client.Get(ctx, rs.redisKey(sig))
	if err != nil || !ok {
		return nil, ok, err
	}
	rec, err := rs.decodeRecord([]byte(raw))
	return rec, true, err
}

func (rs *RedisStore) saveRecord(ctx context.Context, rec *SignatureRecord) error {
	pr := persistedRecord{Signature: toPersistedSignature(rec.Signature)}
	for _, resp := range rec.Responses {
		body, algo, err := Compress(resp.Body, rs.algorithm, rs.minCompressBytes)
		if err != nil {
			return err
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
	data, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("recording: marshal redis record: %w", err)
	}
	return rs.client.Set(ctx, rs.redisKey(rec.Signature), string(data), 0)
}

func (rs *RedisStore) decodeRecord(raw []byte) (*SignatureRecord, error) {
	var pr persistedRecord
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, err
	}
	sig := fromPersistedSignature(pr.Signature)
	rec := &SignatureRecord{Signature: sig}
	for _, p := range pr.Responses {
		body, err := base64.StdEncoding.DecodeString(p.BodyB64)
		if err != nil {
			return nil, err
		}
		body, err = Decompress(body, p.Compression)
		if err != nil {
			return nil, err
		}
		rec.Responses = append(rec.Responses, types.RecordedResponse{
			Status:        p.Status,
			Headers:       p.Headers,
			Body:          body,
			LatencyMS:     p.LatencyMS,
			TimestampSecs: p.TimestampSecs,
		})
	}
	return rec, nil
}
