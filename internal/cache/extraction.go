package cache

import (
	"encoding/json"
	"time"
)

// Transcription is what the vision capability returned for one image,
// before any local post-processing.
type Transcription struct {
	Text          string    `json:"text"`
	RawConfidence float64   `json:"raw_confidence"`
	Model         string    `json:"model"`
	CachedAt      time.Time `json:"cached_at"`
}

// TranscriptionStore is a typed view over a Cache
type TranscriptionStore struct {
	cache Cache
	ttl   time.Duration
}

// NewTranscriptionStore wraps c; ttl 0 uses each layer's default
func NewTranscriptionStore(c Cache, ttl time.Duration) *TranscriptionStore {
	if c == nil {
		c = Nop{}
	}
	return &TranscriptionStore{cache: c, ttl: ttl}
}

// Lookup returns the cached transcription for key
func (s *TranscriptionStore) Lookup(key string) (Transcription, bool) {
	data, ok := s.cache.Get(key)
	if !ok {
		return Transcription{}, false
	}
	var t Transcription
	if err := json.Unmarshal(data, &t); err != nil {
		_ = s.cache.Delete(key)
		return Transcription{}, false
	}
	return t, true
}

// Store saves t under key
func (s *TranscriptionStore) Store(key string, t Transcription) error {
	if t.CachedAt.IsZero() {
		t.CachedAt = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.cache.Set(key, data, s.ttl)
}
