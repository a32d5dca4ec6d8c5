// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. Image, when set, is sent with the
// text as an inline image part.
type Message struct {
	Role      Role
	Content   string
	Image     []byte
	ImageMIME string
}

// DataURL returns the image encoded as a base64 data URL.
func (m Message) DataURL() string {
	mime := m.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(m.Image))
}

// LLMClient defines the standard interface for any vision/chat model backend.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// Float32 and Int build optional GenerationParams fields.
func Float32(v float32) *float32 { return &v }
func Int(v int) *int             { return &v }

// readSecret returns the trimmed contents of /run/secrets/<name>, or "".
func readSecret(name string) string {
	path := "/run/secrets/" + name
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	slog.Info("Read API key from secrets file", "path", path)
	return strings.TrimSpace(string(b))
}
