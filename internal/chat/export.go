// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/GoldenGlimmer/aichat/internal/util"
)

// exportedMessage is the JSON snapshot shape for one message.
type exportedMessage struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	ModelID   string   `json:"modelId"`
	Tokens    *int     `json:"tokens,omitempty"`
	Cost      *float64 `json:"cost,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// ExportText renders the conversation as a plain-text transcript.
func (o *Orchestrator) ExportText() string {
	var b strings.Builder
	for _, msg := range o.Messages() {
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.Role, msg.Content)
	}
	return b.String()
}

// ExportJSON renders the conversation as a JSON array.
func (o *Orchestrator) ExportJSON() ([]byte, error) {
	messages := o.Messages()
	out := make([]exportedMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, exportedMessage{
			Role:      string(msg.Role),
			Content:   msg.Content,
			ModelID:   msg.ModelID,
			Tokens:    msg.Tokens,
			Cost:      msg.Cost,
			Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

// WriteTextFile writes the plain-text transcript to path.
func (o *Orchestrator) WriteTextFile(path string) error {
	return util.AtomicWriteFile(path, []byte(o.ExportText()), 0644)
}

// WriteJSONFile writes the JSON snapshot to path.
func (o *Orchestrator) WriteJSONFile(path string) error {
	data, err := o.ExportJSON()
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0644)
}
