package review

import (
	"sync"
	"time"

	"reviewhub/pkg/config"

	gocache "github.com/patrickmn/go-cache"
)

type Screenshot struct {
	Filename string
	Data     []byte
}

func (s Screenshot) Empty() bool {
	return len(s.Data) == 0
}

// MaxDraftsPerSession bounds how many orders one user can hold drafts for.
const MaxDraftsPerSession = 5

// Draft is an unsent submission kept per order until it goes through.
type Draft struct {
	Screenshot Screenshot
	ReviewText string
	UpdatedAt  time.Time
}

func (d Draft) Complete() bool {
	return !d.Screenshot.Empty() && d.ReviewText != ""
}

// Session is the per-user state the controller keeps between requests.
type Session struct {
	UserID string

	mu     sync.Mutex
	drafts map[string]Draft
	board  *Board
}

func newSession(userID string) *Session {
	return &Session{UserID: userID, drafts: make(map[string]Draft)}
}

// SaveDraft merges the non-empty parts of d into the order's draft. A draft
// for a new order is refused once MaxDraftsPerSession are held.
func (s *Session) SaveDraft(orderID string, d Draft) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.drafts[orderID]
	if !ok && len(s.drafts) >= MaxDraftsPerSession {
		return Draft{}, ErrDraftLimit
	}
	if !d.Screenshot.Empty() {
		cur.Screenshot = d.Screenshot
	}
	if d.ReviewText != "" {
		cur.ReviewText = d.ReviewText
	}
	cur.UpdatedAt = d.UpdatedAt
	s.drafts[orderID] = cur
	return cur, nil
}

func (s *Session) Draft(orderID string) (Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[orderID]
	return d, ok
}

func (s *Session) ClearDraft(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, orderID)
}

func (s *Session) setBoard(b Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board = &b
}

// LastBoard returns a copy of the last successfully fetched board.
func (s *Session) LastBoard() (Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.board == nil {
		return Board{}, false
	}
	return *s.board, true
}

// Sessions holds one Session per signed-in user and drops idle ones after the TTL.
type Sessions struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

func NewSessions(cfg *config.Config) *Sessions {
	ttl := cfg.Review.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{cache: gocache.New(ttl, ttl)}
}

// Get returns the user's session, creating it on first use, and extends its TTL.
func (r *Sessions) Get(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.cache.Get(userID); ok {
		s := v.(*Session)
		r.cache.SetDefault(userID, s)
		return s
	}

	s := newSession(userID)
	r.cache.SetDefault(userID, s)
	return s
}

func (r *Sessions) Len() int {
	return r.cache.ItemCount()
}
