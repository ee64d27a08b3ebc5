package service

import (
	"fmt"
	"sync"

	"siapxml/internal/domain"
	"siapxml/internal/xmlout"
)

// Session holds what an operator selected for one working session: the
// legacy sources, schemas already listed and the remittance header. It is
// created per CLI invocation or per MCP server lifetime.
type Session struct {
	mu      sync.RWMutex
	sources map[domain.SourceSystem]domain.LegacyConnectionParams
	schemas map[domain.SourceSystem]map[string][]string
	header  xmlout.Header
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		sources: make(map[domain.SourceSystem]domain.LegacyConnectionParams),
		schemas: make(map[domain.SourceSystem]map[string][]string),
	}
}

// SetSource selects the database of a source system and forgets its
// cached schema.
func (s *Session) SetSource(src domain.SourceSystem, p domain.LegacyConnectionParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src] = p.Normalize()
	delete(s.schemas, src)
}

// Source returns the selected connection of src.
func (s *Session) Source(src domain.SourceSystem) (domain.LegacyConnectionParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.sources[src]
	if !ok || p.Path == "" {
		return domain.LegacyConnectionParams{}, fmt.Errorf("no database selected for source %s", src)
	}
	return p, nil
}

// Sources lists the selected source systems.
func (s *Session) Sources() map[domain.SourceSystem]domain.LegacyConnectionParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.SourceSystem]domain.LegacyConnectionParams, len(s.sources))
	for k, v := range s.sources {
		out[k] = v
	}
	return out
}

// Schema returns the cached schema of src.
func (s *Session) Schema(src domain.SourceSystem) (map[string][]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.schemas[src]
	return m, ok
}

// SetSchema caches the schema of src.
func (s *Session) SetSchema(src domain.SourceSystem, schema map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[src] = schema
}

// Header returns the remittance header.
func (s *Session) Header() xmlout.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header
}

// SetHeader replaces the remittance header.
func (s *Session) SetHeader(h xmlout.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = h
}
