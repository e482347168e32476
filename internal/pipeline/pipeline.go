// Copyright 2025 AgentLens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline transforms raw events into opaque storage blobs and back.
//
// Encode order is fixed: redaction, serialization, compression, encryption.
// Each stage fails independently; the codec tag on every blob records which
// stages actually ran, making the decode path self-describing.
package pipeline

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/log"
)

// Pipeline is a pure transform; it holds only immutable configuration and is
// safe for concurrent use.
type Pipeline struct {
	redactor         *Redactor
	enc              *encryptor
	compressionOn    bool
	compressionLevel int
	logger           *slog.Logger
}

// New builds a pipeline from the configuration. Encryption key material is
// resolved here so a bad key fails construction, not the first event.
func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	redactor, err := NewRedactor(cfg.RedactKeys, cfg.RedactPatterns)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		redactor:         redactor,
		compressionOn:    cfg.CompressionEnabled,
		compressionLevel: cfg.CompressionLevel,
		logger:           logger,
	}

	if cfg.EncryptionEnabled {
		key, err := cfg.ResolveEncryptionKey()
		if err != nil {
			return nil, err
		}
		p.enc, err = newEncryptor(key)
		if err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Encode transforms an event into an opaque blob plus its codec tag.
// A non-nil error means the event must be dropped: redaction, serialization
// and encryption failures never leave partially processed data behind.
// Compression failure alone degrades to an uncompressed blob.
func (p *Pipeline) Encode(ev *event.Event) ([]byte, string, error) {
	doc := ev.Document()
	codec := Codec{Compression: CompressionNone, Encryption: EncryptionNone}

	// Redaction runs over the payload only; the envelope carries no
	// caller-controlled secrets by contract.
	if payload, ok := doc["payload"]; ok {
		redacted, err := p.redactor.Redact(payload)
		if err != nil {
			return nil, "", fmt.Errorf("redact event %d: %w", ev.EventID, err)
		}
		doc["payload"] = redacted
	}
	codec.Redacted = p.redactor.Active()

	data, err := marshalCanonical(doc)
	if err != nil {
		return nil, "", fmt.Errorf("serialize event %d: %w", ev.EventID, err)
	}

	if p.compressionOn {
		compressed, err := p.compress(data)
		if err != nil {
			p.logger.Warn("compression failed, storing uncompressed",
				slog.Int64(log.EventIDKey, ev.EventID), log.Error(err))
		} else {
			data = compressed
			codec.Compression = CompressionGzip
		}
	}

	if p.enc != nil {
		encrypted, err := p.enc.encrypt(data)
		if err != nil {
			return nil, "", fmt.Errorf("encrypt event %d: %w", ev.EventID, err)
		}
		data = encrypted
		codec.Encryption = EncryptionAESGCM
	}

	return data, codec.String(), nil
}

// Decode reverses Encode using the stored codec tag: decrypt, decompress,
// deserialize. Unknown codec combinations are refused.
func (p *Pipeline) Decode(blob []byte, codecTag string) (*event.Event, error) {
	codec, err := ParseCodec(codecTag)
	if err != nil {
		return nil, err
	}

	data := blob
	if codec.Encryption == EncryptionAESGCM {
		if p.enc == nil {
			return nil, fmt.Errorf("blob is encrypted but no encryption key is configured")
		}
		if data, err = p.enc.decrypt(data); err != nil {
			return nil, err
		}
	}

	if codec.Compression == CompressionGzip {
		if data, err = decompress(data); err != nil {
			return nil, err
		}
	}

	return event.Parse(data)
}

func (p *Pipeline) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, p.compressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// marshalCanonical serializes the document compactly with stable key order
// (encoding/json sorts map keys). Values json cannot handle are rendered as
// {"__type__", "__repr__"} placeholders instead of failing the event.
func marshalCanonical(doc map[string]any) ([]byte, error) {
	return json.Marshal(sanitize(doc))
}

func sanitize(v any) any {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = sanitize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitize(item)
		}
		return out
	default:
		if _, err := json.Marshal(val); err != nil {
			return map[string]any{
				"__type__": fmt.Sprintf("%T", val),
				"__repr__": fmt.Sprintf("%v", val),
			}
		}
		return val
	}
}
