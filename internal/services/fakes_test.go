package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/types"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}
	return log
}

// ---- participant repo fake ----

type fakeParticipantRepo struct {
	mu      sync.Mutex
	byID    map[string]*types.Participant
	failAll bool
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{byID: map[string]*types.Participant{}}
}

func (f *fakeParticipantRepo) Create(ctx context.Context, tx *gorm.DB, p *types.Participant) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store down")
	}
	if _, exists := f.byID[p.ResponseID]; exists {
		return nil, errors.New("duplicate response id")
	}
	f.byID[p.ResponseID] = p
	return p, nil
}

func (f *fakeParticipantRepo) GetByResponseID(ctx context.Context, tx *gorm.DB, responseID string) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store down")
	}
	p, ok := f.byID[responseID]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (f *fakeParticipantRepo) UpdateExperience(ctx context.Context, tx *gorm.DB, responseID string, experience string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byID[responseID]; ok {
		p.ArtistExperience = experience
	}
	return nil
}

func (f *fakeParticipantRepo) AddWorkSamples(ctx context.Context, tx *gorm.DB, samples []*types.ReferenceImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range samples {
		for _, p := range f.byID {
			if p.ID == s.ParticipantID {
				p.WorkSamples = append(p.WorkSamples, *s)
			}
		}
	}
	return nil
}

func (f *fakeParticipantRepo) AssignConditionIfUnset(ctx context.Context, tx *gorm.DB, responseID string, condition conditions.Condition) (conditions.Condition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", errors.New("store down")
	}
	p, ok := f.byID[responseID]
	if !ok {
		return "", gorm.ErrRecordNotFound
	}
	if p.AssignedCondition != nil {
		return *p.AssignedCondition, nil
	}
	p.AssignedCondition = &condition
	return condition, nil
}

func (f *fakeParticipantRepo) SetFinalLogo(ctx context.Context, tx *gorm.DB, responseID string, logo types.FinalLogo) (*types.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[responseID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	p.FinalLogo = &logo
	clone := *p
	return &clone, nil
}

func (f *fakeParticipantRepo) seed(t *testing.T, responseID string, sampleURLs ...string) *types.Participant {
	t.Helper()
	now := time.Now().UTC()
	p := &types.Participant{ID: uuid.New(), ResponseID: responseID, CreatedAt: now, UpdatedAt: now}
	for i, url := range sampleURLs {
		p.WorkSamples = append(p.WorkSamples, types.ReferenceImage{
			ID: uuid.New(), ParticipantID: p.ID, Position: i + 1,
			FileName: fmt.Sprintf("work_sample_%d.png", i+1), URL: url, UploadedAt: now,
		})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[responseID] = p
	return p
}

// ---- counter repo fake ----

type fakeCounterRepo struct {
	mu            sync.Mutex
	counts        map[conditions.Condition]int64
	failGet       bool
	failIncrement bool
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{counts: map[conditions.Condition]int64{}}
}

func (f *fakeCounterRepo) GetCounts(ctx context.Context, tx *gorm.DB, variants []conditions.Condition) (map[conditions.Condition]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errors.New("counter store down")
	}
	out := map[conditions.Condition]int64{}
	for _, v := range variants {
		if c, ok := f.counts[v]; ok {
			out[v] = c
		}
	}
	return out, nil
}

func (f *fakeCounterRepo) Increment(ctx context.Context, tx *gorm.DB, variant conditions.Condition) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIncrement {
		return 0, errors.New("counter store down")
	}
	f.counts[variant]++
	return f.counts[variant], nil
}

func (f *fakeCounterRepo) EnsureExists(ctx context.Context, tx *gorm.DB, variant conditions.Condition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.counts[variant]; !ok {
		f.counts[variant] = 0
	}
	return nil
}

// ---- chat session repo fake ----

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions []*types.ChatSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{}
}

func (f *fakeSessionRepo) GetActive(ctx context.Context, tx *gorm.DB, responseID string) (*types.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ResponseID == responseID && s.IsActive {
			clone := *s
			clone.Turns = append([]types.ChatTurn(nil), s.Turns...)
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ResponseID == session.ResponseID && s.IsActive {
			return errors.New("unique violation: active session exists")
		}
	}
	clone := *session
	f.sessions = append(f.sessions, &clone)
	return nil
}

func (f *fakeSessionRepo) AppendTurn(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, turn *types.ChatTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == sessionID {
			turn.SessionID = sessionID
			turn.Seq = len(s.Turns)
			s.Turns = append(s.Turns, *turn)
			s.TotalTokensUsed += turn.TokensUsed
			return nil
		}
	}
	return errors.New("session not found")
}

func (f *fakeSessionRepo) EndActive(ctx context.Context, tx *gorm.DB, responseID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ResponseID == responseID && s.IsActive {
			now := time.Now().UTC()
			s.IsActive = false
			s.SessionEnd = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSessionRepo) ListByResponseID(ctx context.Context, tx *gorm.DB, responseID string) ([]*types.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ChatSession
	for _, s := range f.sessions {
		if s.ResponseID == responseID {
			clone := *s
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionStart.After(out[j].SessionStart) })
	return out, nil
}

func (f *fakeSessionRepo) activeFor(t *testing.T, responseID string) *types.ChatSession {
	t.Helper()
	s, err := f.GetActive(context.Background(), nil, responseID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	return s
}

// ---- openai client fake ----

type fakeOpenAI struct {
	mu sync.Mutex

	chatReplies []string
	chatErr     error
	lastChatReq *ChatCompletionRequest
	chatCalls   int

	imageURL   string
	imageErr   error
	imageCalls int
	lastPrompt string
}

func (f *fakeOpenAI) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	reqCopy := req
	f.lastChatReq = &reqCopy
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	reply := "{}"
	if len(f.chatReplies) > 0 {
		reply = f.chatReplies[0]
		if len(f.chatReplies) > 1 {
			f.chatReplies = f.chatReplies[1:]
		}
	}
	return &ChatCompletionResult{Content: reply, TotalTokens: 42}, nil
}

func (f *fakeOpenAI) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	f.lastPrompt = prompt
	if f.imageErr != nil {
		return "", f.imageErr
	}
	if f.imageURL == "" {
		return "https://images.example/generated.png", nil
	}
	return f.imageURL, nil
}

// ---- bucket fake ----

type fakeBucket struct {
	mu      sync.Mutex
	uploads map[string][]byte
	failAll bool
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{uploads: map[string][]byte{}}
}

func (f *fakeBucket) UploadFile(ctx context.Context, key string, contentType string, file io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("bucket down")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeBucket) DeleteFile(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, key)
	return nil
}

func (f *fakeBucket) GetPublicURL(key string) string {
	return "https://storage.example/" + key
}

func (f *fakeBucket) StorageURI(key string) string {
	return "gs://test-bucket/" + key
}

// ---- sample fetcher fake ----

type fakeFetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	ctypes  map[string]string
	failing map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: map[string][]byte{}, ctypes: map[string]string{}, failing: map[string]bool{}}
}

func (f *fakeFetcher) add(url string, data []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = data
	f.ctypes[url] = contentType
}

func (f *fakeFetcher) fail(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[url] = true
}

func (f *fakeFetcher) Fetch(ctx context.Context, responseID string, sourceURL string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[sourceURL] {
		return nil, "", errors.New("upstream returned status 403")
	}
	data, ok := f.files[sourceURL]
	if !ok {
		return nil, "", errors.New("unknown file")
	}
	return data, f.ctypes[sourceURL], nil
}
