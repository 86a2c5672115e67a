package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/repos"
	"github.com/artistbot/logostudy-backend/internal/types"
)

const (
	defaultReply            = "I'm here to assist!"
	generationOKSuffix      = " Here's your generated logo!"
	generationFailedSuffix  = " Sorry, I couldn't generate the logo."
	fallbackReplyMaxLen     = 500
	greetingWithSamples     = "Analyze my design style based on these images and greet me."
	greetingWithoutSamples  = "Provide a friendly welcome message for a new user."
	imageQualityInstruction = " Professional logo design, clean composition, crisp lines, suitable for real business branding, no photographic background."
)

// structuredOutputInstruction forces the model into the {reply, imagePrompt}
// JSON shape. imagePrompt must stay null unless the user explicitly asks for a
// generated logo.
const structuredOutputInstruction = `
IMPORTANT: Respond in valid JSON format. Only include "imagePrompt" when the user explicitly requests a logo, such as:
  - "Generate a logo for me"
  - "Create a logo"
  - "Make a logo"
DO NOT include "imagePrompt" for general discussions, ideation, or brainstorming about logo concepts.

Format:
{
  "reply": "Your response message",
  "imagePrompt": "Logo description or null"
}
`

// logoIntentKeywords triggers proactive generation for the general condition
// when the model itself did not ask for an image.
var logoIntentKeywords = []string{
	"logo", "design", "brand", "create", "make", "generate",
	"icon", "symbol", "emblem", "trademark", "identity",
}

type ConversationConfig struct {
	// MaxContextTurns caps the trailing window of prior turns sent to the
	// provider. Full history stays persisted regardless.
	MaxContextTurns   int
	MaxResponseTokens int
	Temperature       float64
}

func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		MaxContextTurns:   15,
		MaxResponseTokens: 800,
		Temperature:       0.7,
	}
}

type ConversationResult struct {
	Reply  string   `json:"reply"`
	Images []string `json:"images"`
}

// ConversationService runs one orchestration cycle per inbound turn: resolve
// condition, persist the user turn, build the provider prompt from the
// session window, parse the structured result, optionally generate an image,
// and persist the assistant turn.
type ConversationService interface {
	Greeting(ctx context.Context, responseID string, urlCondition string) (*ConversationResult, error)
	Chat(ctx context.Context, responseID string, urlCondition string, message string) (*ConversationResult, error)
	Reset(ctx context.Context, responseID string) error
}

type conversationService struct {
	db           *gorm.DB
	log          *logger.Logger
	cfg          ConversationConfig
	resolver     ResolverService
	sessions     SessionService
	participants repos.ParticipantRepo
	openai       OpenAIClient
}

func NewConversationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg ConversationConfig,
	resolver ResolverService,
	sessions SessionService,
	participantRepo repos.ParticipantRepo,
	openaiClient OpenAIClient,
) ConversationService {
	if cfg.MaxContextTurns <= 0 {
		cfg.MaxContextTurns = DefaultConversationConfig().MaxContextTurns
	}
	if cfg.MaxResponseTokens <= 0 {
		cfg.MaxResponseTokens = DefaultConversationConfig().MaxResponseTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultConversationConfig().Temperature
	}
	return &conversationService{
		db:           db,
		log:          baseLog.With("service", "ConversationService"),
		cfg:          cfg,
		resolver:     resolver,
		sessions:     sessions,
		participants: participantRepo,
		openai:       openaiClient,
	}
}

func (cs *conversationService) Greeting(ctx context.Context, responseID string, urlCondition string) (*ConversationResult, error) {
	cond, err := cs.resolver.Resolve(ctx, urlCondition, responseID)
	if err != nil {
		return nil, err
	}

	participant, err := cs.participants.GetByResponseID(ctx, nil, responseID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load participant %s", responseID)
	}
	var samples []types.ReferenceImage
	if participant != nil {
		samples = participant.WorkSamples
	}

	// A personalized participant without reference material cannot be styled;
	// fall back silently to the general treatment.
	if conditions.IsPersonalized(cond) && len(samples) == 0 {
		cs.log.ForRequest(ctx).Warn("Personalized participant has no reference images, greeting as general",
			"response_id", responseID,
			"condition", cond,
		)
		cond = conditions.General
	}

	messages := []ChatMessage{TextMessage(types.RoleSystem, conditions.SystemPrompt(cond))}
	if conditions.IsPersonalized(cond) {
		for i, sample := range samples {
			messages = append(messages, ImageMessage(types.RoleUser, fmt.Sprintf("Work sample %d:", i+1), sample.URL))
		}
		messages = append(messages, TextMessage(types.RoleUser, greetingWithSamples))
	} else {
		messages = append(messages, TextMessage(types.RoleUser, greetingWithoutSamples))
	}

	result, err := cs.openai.ChatCompletion(ctx, ChatCompletionRequest{
		Messages:    messages,
		MaxTokens:   cs.cfg.MaxResponseTokens,
		Temperature: cs.cfg.Temperature,
	})
	if err != nil {
		return nil, apperr.Provider(err, "greeting completion failed for %s", responseID)
	}

	if _, err := cs.sessions.AppendTurn(ctx, responseID, types.RoleAssistant, result.Content, TurnOptions{
		Condition:  cond,
		TokensUsed: result.TotalTokens,
	}); err != nil {
		return nil, err
	}

	return &ConversationResult{Reply: result.Content, Images: []string{}}, nil
}

func (cs *conversationService) Chat(ctx context.Context, responseID string, urlCondition string, message string) (*ConversationResult, error) {
	cond, err := cs.resolver.Resolve(ctx, urlCondition, responseID)
	if err != nil {
		return nil, err
	}

	// Snapshot the context before the user turn lands so the prompt window
	// holds prior turns only; the new message is appended to the prompt
	// explicitly below.
	priorContext, err := cs.sessions.GetContext(ctx, responseID)
	if err != nil {
		return nil, err
	}

	if _, err := cs.sessions.AppendTurn(ctx, responseID, types.RoleUser, message, TurnOptions{Condition: cond}); err != nil {
		return nil, err
	}

	messages, err := cs.buildPrompt(ctx, responseID, cond, priorContext, message)
	if err != nil {
		return nil, err
	}

	reply, imagePrompt, tokensUsed, structured := cs.completeTurn(ctx, responseID, messages)

	// Deliberate asymmetry: the unguided condition generates proactively when
	// the message carries logo intent, even without a model directive. Only a
	// well-formed model response can decline generation; degraded replies never
	// trigger it.
	if structured && imagePrompt == nil && cond == conditions.General && containsLogoIntent(message) {
		synthesized := "Design a logo based on this request: " + message
		imagePrompt = &synthesized
		cs.log.ForRequest(ctx).Info("Synthesized image directive from logo-intent keywords", "response_id", responseID)
	}

	images := []string{}
	if imagePrompt != nil {
		url, genErr := cs.openai.GenerateImage(ctx, *imagePrompt+imageQualityInstruction)
		if genErr != nil {
			cs.log.ForRequest(ctx).Error("Logo generation failed", "response_id", responseID, "error", genErr)
			reply += generationFailedSuffix
		} else {
			reply += generationOKSuffix
			images = append(images, url)
		}
	}

	if _, err := cs.sessions.AppendTurn(ctx, responseID, types.RoleAssistant, reply, TurnOptions{
		Condition:   cond,
		Images:      images,
		ImagePrompt: imagePrompt,
		TokensUsed:  tokensUsed,
	}); err != nil {
		return nil, err
	}

	return &ConversationResult{Reply: reply, Images: images}, nil
}

func (cs *conversationService) Reset(ctx context.Context, responseID string) error {
	_, err := cs.sessions.EndSession(ctx, responseID)
	return err
}

func (cs *conversationService) buildPrompt(ctx context.Context, responseID string, cond conditions.Condition, priorContext *ChatContext, message string) ([]ChatMessage, error) {
	systemPrompt := conditions.SystemPrompt(cond)
	if priorContext != nil {
		systemPrompt = priorContext.SystemPrompt
	}
	messages := []ChatMessage{TextMessage(types.RoleSystem, systemPrompt+"\n"+structuredOutputInstruction)}

	if priorContext == nil && conditions.IsPersonalized(cond) {
		// First turn of a personalized conversation: lead with the reference
		// images so the style context precedes everything else.
		participant, err := cs.participants.GetByResponseID(ctx, nil, responseID)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to load participant %s", responseID)
		}
		if participant != nil {
			for i, sample := range participant.WorkSamples {
				messages = append(messages, ImageMessage(types.RoleUser, fmt.Sprintf("Work sample %d:", i+1), sample.URL))
			}
		}
	}

	if priorContext != nil {
		window := trailingWindow(priorContext.Turns, cs.cfg.MaxContextTurns)
		for _, turn := range window {
			messages = append(messages, TextMessage(turn.Role, turn.Content))
		}
	}

	return append(messages, TextMessage(types.RoleUser, message)), nil
}

// completeTurn calls the provider and applies the recovery policy: provider
// and parse failures degrade to a usable reply instead of failing the turn.
// The returned structured flag is false on either degradation, so callers can
// tell a model that declined generation from one that never answered properly.
func (cs *conversationService) completeTurn(ctx context.Context, responseID string, messages []ChatMessage) (string, *string, int, bool) {
	result, err := cs.openai.ChatCompletion(ctx, ChatCompletionRequest{
		Messages:    messages,
		MaxTokens:   cs.cfg.MaxResponseTokens,
		Temperature: cs.cfg.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		cs.log.ForRequest(ctx).Error("Chat completion failed, degrading to default reply", "response_id", responseID, "error", err)
		return defaultReply, nil, 0, false
	}

	reply, imagePrompt, structured := parseAssistantPayload(cs.log.ForRequest(ctx), responseID, result.Content)
	return reply, imagePrompt, result.TotalTokens, structured
}

// parseAssistantPayload validates the model output against the structured
// shape. Malformed output never propagates: the raw text (truncated) becomes
// the reply, the directive stays nil and the structured flag is false.
func parseAssistantPayload(log *logger.Logger, responseID string, raw string) (string, *string, bool) {
	var payload struct {
		Reply       string  `json:"reply"`
		ImagePrompt *string `json:"imagePrompt"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Warn("Model output was not valid structured JSON, using raw text fallback",
			"response_id", responseID,
			"error", err,
		)
		reply := truncate(strings.TrimSpace(raw), fallbackReplyMaxLen)
		if reply == "" {
			reply = defaultReply
		}
		return reply, nil, false
	}

	reply := payload.Reply
	if strings.TrimSpace(reply) == "" {
		reply = defaultReply
	}
	if payload.ImagePrompt != nil && strings.TrimSpace(*payload.ImagePrompt) == "" {
		payload.ImagePrompt = nil
	}
	return reply, payload.ImagePrompt, true
}

func trailingWindow(turns []types.ChatTurn, max int) []types.ChatTurn {
	window := make([]types.ChatTurn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == types.RoleSystem {
			continue
		}
		window = append(window, turn)
	}
	if len(window) > max {
		window = window[len(window)-max:]
	}
	return window
}

func containsLogoIntent(message string) bool {
	lowered := strings.ToLower(message)
	for _, keyword := range logoIntentKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
