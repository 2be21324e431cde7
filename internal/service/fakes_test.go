package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/timmy/flashtag/internal/domain"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/repository"
	"github.com/timmy/flashtag/internal/storage"
)

// newTestLogger returns a debug logger whose entries are captured by the hook.
func newTestLogger() (*logger.Logger, *test.Hook) {
	l := logger.New(&logger.Config{Level: "debug", Format: "json", Output: io.Discard, ServiceName: "test"})
	hook := test.NewLocal(l.Entry.Logger)
	return l, hook
}

func hasLog(hook *test.Hook, level logrus.Level, substr string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

type scriptedExecutor struct {
	mu        sync.Mutex
	responses []*VisionResponse
	errs      []error
	requests  []VisionRequest
}

func (e *scriptedExecutor) Execute(_ context.Context, req VisionRequest) (*VisionResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.requests)
	e.requests = append(e.requests, req)
	if n < len(e.errs) && e.errs[n] != nil {
		return nil, e.errs[n]
	}
	if n >= len(e.responses) {
		return nil, errors.New("unexpected vision request")
	}
	return e.responses[n], nil
}

func visionReply(content string, prompt, completion int) *VisionResponse {
	return &VisionResponse{
		Raw:     []byte(`{"id":"chatcmpl-1","object":"chat.completion"}`),
		Content: content,
		Usage:   Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
	}
}

type memoryStore struct {
	mu        sync.Mutex
	rows      map[string]*domain.ImageRecord
	updates   map[string]*domain.ImageAnalysis
	vectors   map[string][]float32
	findErr   error
	createErr error
	updateErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rows:    map[string]*domain.ImageRecord{},
		updates: map[string]*domain.ImageAnalysis{},
		vectors: map[string][]float32{},
	}
}

func (s *memoryStore) FindAnalyzedByName(_ context.Context, name string) (*domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, r := range s.rows {
		if r.ImageName == name && r.IsAnalyzed() {
			return r, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) Create(_ context.Context, record *domain.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *record
	s.rows[record.ID] = &cp
	return nil
}

func (s *memoryStore) UpdateAnalysis(_ context.Context, id string, a *domain.ImageAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	row, ok := s.rows[id]
	if !ok {
		return errors.New("record not found")
	}
	row.Description = a.Description
	conf := a.Confidence
	row.Confidence = &conf
	row.Tags = a.Tags
	s.updates[id] = a
	if len(a.Embedding) > 0 {
		s.vectors[id] = a.Embedding
	}
	return nil
}

func (s *memoryStore) ListPending(_ context.Context, cutoff time.Time, limit int) ([]domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ImageRecord
	for _, r := range s.rows {
		if r.Description == "" && r.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memoryStore) ListUnembedded(_ context.Context, limit int) ([]domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ImageRecord
	for id, r := range s.rows {
		if _, ok := s.vectors[id]; !ok && r.Description != "" && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateEmbedding(_ context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return errors.New("record not found")
	}
	s.vectors[id] = embedding
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// memoryObjects is an ObjectStorage whose Move fails moveFailures times first.
type memoryObjects struct {
	mu           sync.Mutex
	baseURL      string
	objects      map[string][]byte
	moveFailures int
	moveCalls    int
	listEmpty    bool
}

func newMemoryObjects(baseURL string, keys ...string) *memoryObjects {
	m := &memoryObjects{baseURL: baseURL, objects: map[string][]byte{}}
	for _, k := range keys {
		m.objects[k] = []byte("img")
	}
	return m
}

func (m *memoryObjects) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Move(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveCalls++
	if m.moveCalls <= m.moveFailures {
		return errors.New("storage temporarily unavailable")
	}
	data, ok := m.objects[src]
	if !ok {
		return errors.New("no such key")
	}
	m.objects[dst] = data
	delete(m.objects, src)
	return nil
}

func (m *memoryObjects) List(_ context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listEmpty {
		return nil, nil
	}
	var out []storage.ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) && len(out) < limit {
			out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(v)), LastModified: time.Now()})
		}
	}
	return out, nil
}

func (m *memoryObjects) GetURL(key string) string {
	return m.baseURL + "/" + key
}

func (m *memoryObjects) PresignURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return m.GetURL(key) + "?signed=1", nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

type stubEmbedder struct {
	mu     sync.Mutex
	vector []float32
	err    error
	texts  []string
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

type recordingIndex struct {
	mu       sync.Mutex
	payloads []*repository.ImagePayload
	err      error
}

func (i *recordingIndex) Upsert(_ context.Context, _ []float32, payload *repository.ImagePayload) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.payloads = append(i.payloads, payload)
	return i.err
}

func noSleep(context.Context, time.Duration) error { return nil }
