// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/GoldenGlimmer/aichat/internal/client"
	"github.com/GoldenGlimmer/aichat/internal/util"
)

// Reconciliation failures. Both classify as server errors: the response
// was a 200 but did not carry a usable completion.
var (
	errNoChoices      = errors.New("response contains no choices")
	errContentNotText = errors.New("response content is not text")
)

// maxErrorTextRunes caps server-reported error text rendered into the
// conversation; some aggregators echo entire request bodies back.
const maxErrorTextRunes = 500

// reconcile converts a loosely-typed completion response into an assistant
// message.
//
// An in-band error field is a valid server-reported outcome and becomes a
// visible "Error: ..." turn, not a failure. Token counts tolerate
// fractional and quoted encodings and default to zero. Cost uses the
// server-reported total when present, otherwise it is computed from the
// catalog prices of the model that produced the response; pricing-table
// gaps read as zero and never fail the turn.
func (o *Orchestrator) reconcile(resp *client.Completion, modelID string) (Message, error) {
	now := time.Now()

	if resp.Error != nil {
		text := util.TruncateRunes(resp.Error.Message, maxErrorTextRunes)
		return Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   util.NormalizeText("Error: " + text),
			ModelID:   modelID,
			CreatedAt: now,
		}, nil
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return Message{}, errNoChoices
	}

	var content string
	if err := json.Unmarshal(resp.Choices[0].Message.Content, &content); err != nil {
		return Message{}, errContentNotText
	}

	tokens := resp.Usage.TotalTokens.Int()
	cost := o.turnCost(resp.Usage, modelID)

	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   util.NormalizeText(content),
		ModelID:   modelID,
		Tokens:    &tokens,
		Cost:      &cost,
		CreatedAt: now,
	}, nil
}

// turnCost is the server-reported total cost when supplied, otherwise
// prompt and completion tokens priced by the catalog entry for modelID.
func (o *Orchestrator) turnCost(usage client.Usage, modelID string) float64 {
	if usage.TotalCost.Valid() {
		return usage.TotalCost.Float64()
	}

	var pricing client.Pricing
	o.mu.Lock()
	for _, m := range o.models {
		if m.ID == modelID {
			pricing = m.Pricing
			break
		}
	}
	o.mu.Unlock()

	return float64(usage.PromptTokens.Int())*pricing.PromptPrice() +
		float64(usage.CompletionTokens.Int())*pricing.CompletionPrice()
}
