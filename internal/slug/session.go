package slug

import "strconv"

// Session hands out unique slugs for one render pass. The first heading
// with a given base gets the bare base, the second base-1, the third
// base-2 and so on. A Session is not safe for concurrent use; the owner
// serialises renders.
type Session struct {
	counts map[string]int
	issued map[string]struct{}
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		counts: make(map[string]int),
		issued: make(map[string]struct{}),
	}
}

// Reset forgets every slug handed out so far.
func (s *Session) Reset() {
	clear(s.counts)
	clear(s.issued)
}

// Generate returns the next unique slug for text.
func (s *Session) Generate(text string) string {
	base := Normalize(text)
	for {
		n := s.counts[base]
		s.counts[base] = n + 1

		candidate := base
		if n > 0 {
			candidate = base + "-" + strconv.Itoa(n)
		}
		// An explicit "Intro 1" heading may already own "intro-1".
		if _, taken := s.issued[candidate]; taken {
			continue
		}
		s.issued[candidate] = struct{}{}
		return candidate
	}
}

// Reserve marks id as taken, so generated slugs skip it. Explicit
// heading ids are reserved before any slug of the pass is generated.
func (s *Session) Reserve(id string) {
	if id != "" {
		s.issued[id] = struct{}{}
	}
}

// Len reports how many slugs the session has issued.
func (s *Session) Len() int {
	return len(s.issued)
}
