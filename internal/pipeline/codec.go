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

package pipeline

import (
	"fmt"
	"strings"
)

// Codec records which pipeline stages produced a stored blob. The string
// form is persisted per row and uniquely determines the decode path; readers
// must refuse combinations they do not understand.
type Codec struct {
	// Redacted reports whether redaction rules were applied.
	Redacted bool
	// Compression is CompressionGzip or CompressionNone.
	Compression string
	// Encryption is EncryptionAESGCM or EncryptionNone.
	Encryption string
}

// Codec stage tags.
const (
	payloadRedacted = "redacted"
	payloadRaw      = "raw"

	CompressionGzip = "gzip"
	CompressionNone = "none"

	EncryptionAESGCM = "aes-gcm"
	EncryptionNone   = "none"
)

// String renders the codec as the persisted tag, e.g. "redacted+gzip+aes-gcm".
func (c Codec) String() string {
	payload := payloadRaw
	if c.Redacted {
		payload = payloadRedacted
	}
	return payload + "+" + c.Compression + "+" + c.Encryption
}

// ParseCodec parses a persisted codec tag. Unknown stages or malformed tags
// are an error: silently misinterpreting bytes written by a newer version
// would corrupt reads.
func ParseCodec(tag string) (Codec, error) {
	parts := strings.Split(tag, "+")
	if len(parts) != 3 {
		return Codec{}, fmt.Errorf("unknown blob codec %q", tag)
	}
	var c Codec
	switch parts[0] {
	case payloadRedacted:
		c.Redacted = true
	case payloadRaw:
	default:
		return Codec{}, fmt.Errorf("unknown payload tag %q in codec %q", parts[0], tag)
	}
	switch parts[1] {
	case CompressionGzip, CompressionNone:
		c.Compression = parts[1]
	default:
		return Codec{}, fmt.Errorf("unknown compression tag %q in codec %q", parts[1], tag)
	}
	switch parts[2] {
	case EncryptionAESGCM, EncryptionNone:
		c.Encryption = parts[2]
	default:
		return Codec{}, fmt.Errorf("unknown encryption tag %q in codec %q", parts[2], tag)
	}
	return c, nil
}
