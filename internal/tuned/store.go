package tuned

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/looptune/looptune/internal/session"
	"github.com/looptune/looptune/pkg/utils"
)

// Status is the lifecycle state of a daemon-managed session.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = [...]string{"pending", "running", "completed", "failed", "cancelled"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus maps a status name, in any case, to a Status.
func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), true
		}
	}
	return 0, false
}

// SessionInput is what a client submits: the annotated program and
// optional overrides.
type SessionInput struct {
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
	// Spec is an HCL tuning spec replacing the program's embedded one.
	Spec string `json:"spec,omitempty"`
	// Config is a YAML session config overlaid on the daemon's defaults.
	Config string `json:"config,omitempty"`

	CallbackURL    string `json:"callback_url,omitempty"`
	CallbackSecret string `json:"callback_secret,omitempty"`
}

// SessionRecord is a snapshot of one session. Records handed out by the
// store are copies; Report is immutable once set.
type SessionRecord struct {
	ID              string
	Status          Status
	CreatedAtUnixMs int64
	StartedAtUnixMs int64
	EndedAtUnixMs   int64
	Error           string
	Evaluated       int
	Input           SessionInput
	Report          *session.Report
}

// SessionStore keeps every session submitted to the daemon in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*SessionRecord),
	}
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

func (s *SessionStore) Create(id string, input SessionInput) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = utils.GenerateSessionID()
	}
	if _, exists := s.sessions[id]; exists {
		return nil, fmt.Errorf("session already exists: %s", id)
	}

	rec := &SessionRecord{
		ID:              id,
		Status:          StatusPending,
		CreatedAtUnixMs: nowUnixMs(),
		Input:           input,
	}
	s.sessions[id] = rec
	cp := *rec
	return &cp, nil
}

func (s *SessionStore) Get(id string) (*SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// List returns up to limit sessions, newest first, after skipping offset.
// A nil filter matches every status.
func (s *SessionStore) List(limit, offset int, filter *Status) []*SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	all := make([]*SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if filter != nil && rec.Status != *filter {
			continue
		}
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAtUnixMs != all[j].CreatedAtUnixMs {
			return all[i].CreatedAtUnixMs > all[j].CreatedAtUnixMs
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []*SessionRecord{}
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// SetStatus moves a session to status and stamps the matching timestamp.
// A terminal session keeps its status.
func (s *SessionStore) SetStatus(id string, status Status, errMsg string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if rec.Status.Terminal() {
		cp := *rec
		return &cp, nil
	}

	rec.Status = status
	if errMsg != "" {
		rec.Error = errMsg
	}
	switch {
	case status == StatusRunning:
		if rec.StartedAtUnixMs == 0 {
			rec.StartedAtUnixMs = nowUnixMs()
		}
	case status.Terminal():
		rec.EndedAtUnixMs = nowUnixMs()
	}

	cp := *rec
	return &cp, nil
}

// SetReport attaches the final report of a session.
func (s *SessionStore) SetReport(id string, rep *session.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	rec.Report = rep
	return nil
}

// Progress counts one more evaluated variant.
func (s *SessionStore) Progress(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[id]; ok {
		rec.Evaluated++
	}
}
