package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/rowan/attache/internal/governance"
	"github.com/rowan/attache/internal/profile"
	"github.com/rowan/attache/internal/telemetry"
)

// HistoryStore is the slice of the message store the assistant needs.
type HistoryStore interface {
	AddMessage(chatID string, role string, content string) error
	GetHistory(chatID string, limit int) ([]llms.MessageContent, error)
}

// TextPolicy gates user text before it reaches the model.
type TextPolicy interface {
	CheckText(ctx context.Context, text string) governance.Verdict
}

const historyWindow = 5

// Assistant answers chat messages: it filters the text through policy,
// resolves the requested profile into a system prompt (plus persona
// memory), includes recent history, and asks the model for a reply.
type Assistant struct {
	Model    llms.Model
	Profiles *profile.Store
	Policy   TextPolicy
	History  HistoryStore
	Ledger   ExecutionLog
	Metrics  *telemetry.Metrics
}

func NewAssistant(model llms.Model, profiles *profile.Store, policy TextPolicy, history HistoryStore, ledger ExecutionLog, metrics *telemetry.Metrics) *Assistant {
	return &Assistant{
		Model:    model,
		Profiles: profiles,
		Policy:   policy,
		History:  history,
		Ledger:   ledger,
		Metrics:  metrics,
	}
}

// Reply produces the assistant's answer for one user message. A policy
// denial is not an error: the refusal message becomes the reply.
func (a *Assistant) Reply(ctx context.Context, chatID, text, profileName string) (string, string, error) {
	start := time.Now()

	prof := a.Profiles.Resolve(profileName)

	if a.Policy != nil {
		verdict := a.Policy.CheckText(ctx, text)
		if !verdict.Allow {
			a.logChat(200, start, map[string]any{
				"profile":     prof.Name,
				"policy_deny": verdict.ReasonCode,
			})
			return verdict.Message, prof.Name, nil
		}
	}

	systemPrompt := prof.SystemPrompt
	if persona := a.Profiles.PersonaBlock(); persona != "" {
		systemPrompt += "\n\nPersistent private memory:\n" + persona
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
	}

	if a.History != nil {
		history, err := a.History.GetHistory(chatID, historyWindow)
		if err != nil {
			log.Printf("Warning: failed to load chat history: %v", err)
		}
		messages = append(messages, history...)
	}

	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	})

	resp, err := a.Model.GenerateContent(ctx, messages)
	if err != nil {
		a.logChat(500, start, map[string]any{
			"profile": prof.Name,
			"error":   err.Error(),
		})
		if a.Metrics != nil {
			a.Metrics.RecordError(err.Error())
		}
		return "", prof.Name, fmt.Errorf("model call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("model returned no choices")
		a.logChat(500, start, map[string]any{
			"profile": prof.Name,
			"error":   err.Error(),
		})
		if a.Metrics != nil {
			a.Metrics.RecordError(err.Error())
		}
		return "", prof.Name, err
	}
	reply := resp.Choices[0].Content

	if a.History != nil {
		if err := a.History.AddMessage(chatID, "human", text); err != nil {
			log.Printf("Warning: failed to save user message: %v", err)
		}
		if err := a.History.AddMessage(chatID, "ai", reply); err != nil {
			log.Printf("Warning: failed to save reply: %v", err)
		}
	}

	latency := time.Since(start)
	a.logChat(200, start, map[string]any{"profile": prof.Name})
	if a.Metrics != nil {
		a.Metrics.RecordSuccess(float64(latency.Milliseconds()))
	}

	return reply, prof.Name, nil
}

func (a *Assistant) logChat(status int, start time.Time, payload map[string]any) {
	if a.Ledger == nil {
		return
	}
	a.Ledger.Log(telemetry.Entry{
		Endpoint:  "/chat",
		Status:    status,
		LatencyMS: time.Since(start).Milliseconds(),
		Payload:   payload,
	})
}
