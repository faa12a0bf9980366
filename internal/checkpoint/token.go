package checkpoint

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Token errors.
var (
	ErrEmptyToken         = errors.New("resume token is empty")
	ErrMalformedToken     = errors.New("resume token is malformed")
	ErrUnsupportedVersion = errors.New("resume token version is not supported")
)

// Encode serializes a checkpoint into an opaque token safe for URLs and shells.
func Encode(cp *Checkpoint) (string, error) {
	if cp == nil {
		return "", errors.New("encode checkpoint: nil checkpoint")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode. Padded and standard-alphabet
// base64 tokens are accepted as well.
func Decode(token string) (*Checkpoint, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	data, err := decodeBase64(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	// Tokens written before versioning carry no version field.
	if cp.Version == 0 {
		cp.Version = Version
	}
	if cp.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, cp.Version)
	}
	if cp.Fingerprint == "" {
		return nil, fmt.Errorf("%w: missing scope hash", ErrMalformedToken)
	}
	cp.normalize()
	return &cp, nil
}

func decodeBase64(token string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(token)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Restore returns the checkpoint in token when it belongs to fingerprint.
// An empty, undecodable or foreign token yields a fresh checkpoint; the
// problem is logged, never returned. The bool reports whether state was resumed.
func Restore(token, fingerprint string, logger *zap.Logger) (*Checkpoint, bool) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(token) == "" {
		return New(fingerprint), false
	}
	cp, err := Decode(token)
	if err != nil {
		logger.Warn("ignoring resume token", zap.Error(err))
		return New(fingerprint), false
	}
	if cp.Fingerprint != fingerprint {
		logger.Warn("resume token scope mismatch, starting fresh",
			zap.String("token_scope", cp.Fingerprint), zap.String("job_scope", fingerprint))
		return New(fingerprint), false
	}
	logger.Info("resuming from checkpoint",
		zap.Int("seen_ids", len(cp.SeenIDs)), zap.Int("processed", cp.ProcessedCount))
	return cp, true
}
