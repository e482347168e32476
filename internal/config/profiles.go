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

package config

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Profile is a named configuration preset.
type Profile string

const (
	// ProfileProduction samples sparsely, compresses and encrypts at rest.
	ProfileProduction Profile = "production"
	// ProfileDevelopment samples half of runs with compression only.
	ProfileDevelopment Profile = "development"
	// ProfileDebug records every run immediately, without compression or
	// encryption; redaction still applies.
	ProfileDebug Profile = "debug"
)

// ParseProfile parses a profile name.
func ParseProfile(name string) (Profile, error) {
	switch Profile(strings.ToLower(name)) {
	case ProfileProduction:
		return ProfileProduction, nil
	case ProfileDevelopment:
		return ProfileDevelopment, nil
	case ProfileDebug:
		return ProfileDebug, nil
	}
	return "", fmt.Errorf("unknown profile %q (want production, development or debug)", name)
}

func (p Profile) apply(c *Config) {
	switch p {
	case ProfileProduction:
		c.SampleRate = 0.01
		c.CompressionEnabled = true
		c.EncryptionEnabled = true
		c.LogLevel = "warn"
	case ProfileDevelopment:
		c.SampleRate = 0.5
		c.CompressionEnabled = true
		c.EncryptionEnabled = false
		c.LogLevel = "info"
	case ProfileDebug:
		c.SampleRate = 1.0
		c.CompressionEnabled = false
		c.EncryptionEnabled = false
		c.BatchSize = 1
		c.LogLevel = "debug"
	}
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase using SHA-256.
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}
