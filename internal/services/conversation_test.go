package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/requestdata"
	"github.com/artistbot/logostudy-backend/internal/types"
)

type conversationFixture struct {
	participants *fakeParticipantRepo
	sessions     *fakeSessionRepo
	openai       *fakeOpenAI
	svc          ConversationService
}

func newConversationFixture(t *testing.T) *conversationFixture {
	t.Helper()
	participants := newFakeParticipantRepo()
	counters := newFakeCounterRepo()
	sessions := newFakeSessionRepo()
	openai := &fakeOpenAI{}
	log := newTestLogger(t)

	balancer := NewBalancerService(nil, log, counters)
	resolver := NewResolverService(nil, log, participants, balancer)
	sessionSvc := NewSessionService(nil, log, sessions)

	return &conversationFixture{
		participants: participants,
		sessions:     sessions,
		openai:       openai,
		svc: NewConversationService(nil, log, DefaultConversationConfig(),
			resolver, sessionSvc, participants, openai),
	}
}

func messageTexts(t *testing.T, req *ChatCompletionRequest) []string {
	t.Helper()
	if req == nil {
		t.Fatal("no chat completion request captured")
	}
	out := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		if s, ok := m.Content.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, "<parts>")
		}
	}
	return out
}

func TestGreetingGeneralOpensSessionWithWelcomePrompt(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatReplies = []string{"Welcome! Let's design something great."}

	res, err := fx.svc.Greeting(context.Background(), "p1", "general")
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if res.Reply != "Welcome! Let's design something great." {
		t.Fatalf("reply = %q", res.Reply)
	}
	if len(res.Images) != 0 {
		t.Fatalf("greeting returned images: %v", res.Images)
	}

	texts := messageTexts(t, fx.openai.lastChatReq)
	if len(texts) != 2 {
		t.Fatalf("prompt message count = %d, want system + user", len(texts))
	}
	if texts[1] != greetingWithoutSamples {
		t.Fatalf("user message = %q", texts[1])
	}
	if fx.openai.lastChatReq.JSONMode {
		t.Fatal("greeting must not use JSON mode")
	}

	session := fx.sessions.activeFor(t, "p1")
	if session == nil || session.Condition != conditions.General {
		t.Fatalf("session = %+v, want active general session", session)
	}
	last := session.Turns[len(session.Turns)-1]
	if last.Role != types.RoleAssistant || last.TokensUsed != 42 {
		t.Fatalf("assistant turn = %+v", last)
	}
}

func TestGreetingPersonalizedSendsWorkSamples(t *testing.T) {
	fx := newConversationFixture(t)
	fx.participants.seed(t, "p2", "https://storage.example/p2/work_sample_1.png", "https://storage.example/p2/work_sample_2.png")
	fx.openai.chatReplies = []string{"Your style is bold and geometric."}

	_, err := fx.svc.Greeting(context.Background(), "p2", "personalized")
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}

	req := fx.openai.lastChatReq
	// system + two image messages + the analyze directive
	if len(req.Messages) != 4 {
		t.Fatalf("prompt message count = %d, want 4", len(req.Messages))
	}
	parts, ok := req.Messages[1].Content.([]ContentPart)
	if !ok || len(parts) != 2 {
		t.Fatalf("second message is not a text+image pair: %+v", req.Messages[1].Content)
	}
	if last, ok := req.Messages[3].Content.(string); !ok || last != greetingWithSamples {
		t.Fatalf("final message = %v", req.Messages[3].Content)
	}

	session := fx.sessions.activeFor(t, "p2")
	if !conditions.IsPersonalized(session.Condition) {
		t.Fatalf("session condition = %q, want personalized", session.Condition)
	}
}

func TestGreetingPersonalizedWithoutSamplesFallsBackToGeneral(t *testing.T) {
	fx := newConversationFixture(t)
	fx.participants.seed(t, "p3") // no work samples
	fx.openai.chatReplies = []string{"Hello there!"}

	_, err := fx.svc.Greeting(context.Background(), "p3", "personalized")
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}

	texts := messageTexts(t, fx.openai.lastChatReq)
	if texts[0] != conditions.SystemPrompt(conditions.General) {
		t.Fatalf("system prompt = %q, want general treatment", texts[0])
	}
	if fx.sessions.activeFor(t, "p3").Condition != conditions.General {
		t.Fatal("session not created under the general condition")
	}
}

func TestGreetingProviderFailureSurfacesError(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatErr = errors.New("rate limited")

	if _, err := fx.svc.Greeting(context.Background(), "p4", "general"); err == nil {
		t.Fatal("expected provider error")
	}
	if fx.sessions.activeFor(t, "p4") != nil {
		t.Fatal("no session should be created when the greeting fails")
	}
}

func TestChatReturnsModelReplyWithoutImage(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatReplies = []string{`{"reply": "Warm palettes suit food brands.", "imagePrompt": null}`}

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "tell me about color theory")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Reply != "Warm palettes suit food brands." {
		t.Fatalf("reply = %q", res.Reply)
	}
	if len(res.Images) != 0 {
		t.Fatalf("images = %v, want none", res.Images)
	}
	if fx.openai.imageCalls != 0 {
		t.Fatalf("image calls = %d, want 0", fx.openai.imageCalls)
	}
	if !fx.openai.lastChatReq.JSONMode {
		t.Fatal("chat must request JSON mode")
	}

	session := fx.sessions.activeFor(t, "p1")
	// system + user + assistant
	if len(session.Turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(session.Turns))
	}
}

func TestChatGeneratesImageOnModelDirective(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatReplies = []string{`{"reply": "Here is a concept.", "imagePrompt": "a minimalist fox logo"}`}

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "please sketch that idea")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.HasSuffix(res.Reply, generationOKSuffix) {
		t.Fatalf("reply missing success suffix: %q", res.Reply)
	}
	if len(res.Images) != 1 {
		t.Fatalf("images = %v, want one", res.Images)
	}
	if !strings.HasPrefix(fx.openai.lastPrompt, "a minimalist fox logo") {
		t.Fatalf("image prompt = %q", fx.openai.lastPrompt)
	}
	if !strings.HasSuffix(fx.openai.lastPrompt, imageQualityInstruction) {
		t.Fatalf("quality instruction not appended: %q", fx.openai.lastPrompt)
	}

	session := fx.sessions.activeFor(t, "p1")
	last := session.Turns[len(session.Turns)-1]
	if last.ImagePrompt == nil || len(last.Images) == 0 {
		t.Fatalf("assistant turn missing generation metadata: %+v", last)
	}
}

func TestChatGeneralConditionInfersLogoIntentFromKeywords(t *testing.T) {
	fx := newConversationFixture(t)
	// The model declined to generate, but the message asks for a logo.
	fx.openai.chatReplies = []string{`{"reply": "Sure, let's talk ideas.", "imagePrompt": null}`}

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "can you make a logo for my bakery")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if fx.openai.imageCalls != 1 {
		t.Fatalf("image calls = %d, want proactive generation", fx.openai.imageCalls)
	}
	if !strings.Contains(fx.openai.lastPrompt, "Design a logo based on this request: can you make a logo for my bakery") {
		t.Fatalf("synthesized prompt = %q", fx.openai.lastPrompt)
	}
	if len(res.Images) != 1 {
		t.Fatalf("images = %v", res.Images)
	}
}

func TestChatPersonalizedConditionDoesNotInferIntent(t *testing.T) {
	fx := newConversationFixture(t)
	fx.participants.seed(t, "p2", "https://storage.example/p2/work_sample_1.png")
	fx.openai.chatReplies = []string{`{"reply": "Let's explore directions first.", "imagePrompt": null}`}

	_, err := fx.svc.Chat(context.Background(), "p2", "personalized", "make me a logo")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if fx.openai.imageCalls != 0 {
		t.Fatalf("image calls = %d, personalized conditions must wait for the model directive", fx.openai.imageCalls)
	}
}

func TestChatFirstPersonalizedTurnLeadsWithWorkSamples(t *testing.T) {
	fx := newConversationFixture(t)
	fx.participants.seed(t, "p2", "https://storage.example/p2/work_sample_1.png")
	fx.openai.chatReplies = []string{`{"reply": "Noted.", "imagePrompt": null}`}

	if _, err := fx.svc.Chat(context.Background(), "p2", "personalized", "hello"); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	req := fx.openai.lastChatReq
	if _, ok := req.Messages[1].Content.([]ContentPart); !ok {
		t.Fatalf("first turn did not lead with reference images: %+v", req.Messages[1].Content)
	}

	// The second turn has an active session: no re-injection of samples.
	fx.openai.chatReplies = []string{`{"reply": "Still noted.", "imagePrompt": null}`}
	if _, err := fx.svc.Chat(context.Background(), "p2", "personalized", "what about serif fonts"); err != nil {
		t.Fatalf("second chat: %v", err)
	}
	for _, m := range fx.openai.lastChatReq.Messages {
		if _, ok := m.Content.([]ContentPart); ok {
			t.Fatal("reference images re-injected into an ongoing session")
		}
	}
}

func TestChatMalformedModelOutputDegradesToRawText(t *testing.T) {
	fx := newConversationFixture(t)
	raw := "Plain prose instead of the structured shape."
	fx.openai.chatReplies = []string{raw}

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "tell me about color theory")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Reply != raw {
		t.Fatalf("reply = %q, want raw fallback", res.Reply)
	}
	if fx.openai.imageCalls != 0 {
		t.Fatal("malformed output must never trigger generation")
	}
}

func TestChatMalformedOutputNeverTriggersKeywordInference(t *testing.T) {
	fx := newConversationFixture(t)
	raw := "Plain prose instead of the structured shape."
	fx.openai.chatReplies = []string{raw}

	// Keyword-bearing message under the general condition: inference must stay
	// off because the model never produced a well-formed response.
	res, err := fx.svc.Chat(context.Background(), "p1", "general", "make a logo for my bakery")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if fx.openai.imageCalls != 0 {
		t.Fatalf("image calls = %d, want 0 after malformed output", fx.openai.imageCalls)
	}
	if res.Reply != raw {
		t.Fatalf("reply = %q, want the raw fallback untouched", res.Reply)
	}
	if len(res.Images) != 0 {
		t.Fatalf("images = %v, want none", res.Images)
	}
}

func TestChatProviderFailureNeverTriggersKeywordInference(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatErr = errors.New("upstream 500")

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "make a logo for my bakery")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if fx.openai.imageCalls != 0 {
		t.Fatalf("image calls = %d, want 0 after provider failure", fx.openai.imageCalls)
	}
	if res.Reply != defaultReply {
		t.Fatalf("reply = %q, want %q", res.Reply, defaultReply)
	}
}

func TestChatMalformedOutputIsTruncated(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatReplies = []string{strings.Repeat("x", fallbackReplyMaxLen+200)}

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "tell me about color theory")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(res.Reply) != fallbackReplyMaxLen {
		t.Fatalf("fallback reply length = %d, want %d", len(res.Reply), fallbackReplyMaxLen)
	}
}

func TestChatFallbackTruncationKeepsRuneBoundary(t *testing.T) {
	fx := newConversationFixture(t)
	// The first multi-byte rune straddles the truncation boundary.
	raw := strings.Repeat("a", fallbackReplyMaxLen-1) + "日本語"
	fx.openai.chatReplies = []string{raw}

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "tell me about color theory")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !utf8.ValidString(res.Reply) {
		t.Fatalf("fallback reply is not valid UTF-8: %q", res.Reply)
	}
	if res.Reply != strings.Repeat("a", fallbackReplyMaxLen-1) {
		t.Fatalf("fallback reply length = %d, want the cut to back off the split rune", len(res.Reply))
	}
}

func TestChatProviderFailureDegradesToDefaultReply(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatErr = errors.New("upstream 500")

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "tell me about color theory")
	if err != nil {
		t.Fatalf("chat must not fail on provider errors: %v", err)
	}
	if res.Reply != defaultReply {
		t.Fatalf("reply = %q, want %q", res.Reply, defaultReply)
	}

	// Both turns are still persisted.
	session := fx.sessions.activeFor(t, "p1")
	if len(session.Turns) != 3 {
		t.Fatalf("turns = %d, want system + user + assistant", len(session.Turns))
	}
}

func TestChatImageFailureApologizesAndKeepsReply(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatReplies = []string{`{"reply": "Here it comes.", "imagePrompt": "a fox"}`}
	fx.openai.imageErr = errors.New("content policy")

	res, err := fx.svc.Chat(context.Background(), "p1", "general", "please sketch that idea")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Reply != "Here it comes."+generationFailedSuffix {
		t.Fatalf("reply = %q", res.Reply)
	}
	if len(res.Images) != 0 {
		t.Fatalf("images = %v, want none", res.Images)
	}
}

func TestChatWindowCapsPriorTurnsAndDropsSystemTurn(t *testing.T) {
	fx := newConversationFixture(t)

	for i := 0; i < 12; i++ {
		fx.openai.chatReplies = []string{`{"reply": "ok", "imagePrompt": null}`}
		if _, err := fx.svc.Chat(context.Background(), "p1", "general", "tell me about color theory"); err != nil {
			t.Fatalf("chat %d: %v", i, err)
		}
	}

	req := fx.openai.lastChatReq
	// system prompt + at most MaxContextTurns prior turns + the new message
	max := DefaultConversationConfig().MaxContextTurns
	if len(req.Messages) != max+2 {
		t.Fatalf("prompt message count = %d, want %d", len(req.Messages), max+2)
	}
	for i, m := range req.Messages {
		if i == 0 {
			continue
		}
		if m.Role == types.RoleSystem {
			t.Fatalf("system turn leaked into the window at index %d", i)
		}
	}

	// Full history stays persisted regardless of the window.
	session := fx.sessions.activeFor(t, "p1")
	if len(session.Turns) != 1+12*2 {
		t.Fatalf("persisted turns = %d, want %d", len(session.Turns), 1+12*2)
	}
}

func TestChatProviderFailureLogsCorrelationID(t *testing.T) {
	participants := newFakeParticipantRepo()
	counters := newFakeCounterRepo()
	sessions := newFakeSessionRepo()
	openai := &fakeOpenAI{chatErr: errors.New("upstream 500")}

	core, logs := observer.New(zap.WarnLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	balancer := NewBalancerService(nil, log, counters)
	resolver := NewResolverService(nil, log, participants, balancer)
	sessionSvc := NewSessionService(nil, log, sessions)
	svc := NewConversationService(nil, log, DefaultConversationConfig(), resolver, sessionSvc, participants, openai)

	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{RequestID: "req-123"})
	if _, err := svc.Chat(ctx, "p1", "general", "hello there"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	var annotated bool
	for _, entry := range logs.All() {
		if entry.ContextMap()["request_id"] == "req-123" {
			annotated = true
		}
	}
	if !annotated {
		t.Fatal("error log missing the request correlation id")
	}
}

func TestResetEndsActiveSessionAndIsIdempotent(t *testing.T) {
	fx := newConversationFixture(t)
	fx.openai.chatReplies = []string{`{"reply": "hi", "imagePrompt": null}`}
	if _, err := fx.svc.Chat(context.Background(), "p1", "general", "hello there"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	if err := fx.svc.Reset(context.Background(), "p1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if fx.sessions.activeFor(t, "p1") != nil {
		t.Fatal("session still active after reset")
	}
	if err := fx.svc.Reset(context.Background(), "p1"); err != nil {
		t.Fatalf("second reset: %v", err)
	}
}
