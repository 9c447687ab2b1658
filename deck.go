package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// NewDeck returns an empty deck. Zero slides is a legal state.
func NewDeck(title string) *Deck {
	if title == "" {
		title = DefaultDeckTitle
	}
	return &Deck{Title: title, Slides: []Slide{}, Scripts: []BehaviorScript{}}
}

// Clone returns a deep copy; mutations never touch the receiver.
func (d *Deck) Clone() *Deck {
	if d == nil {
		return nil
	}
	out := &Deck{
		Title:   d.Title,
		Style:   d.Style,
		Slides:  make([]Slide, len(d.Slides)),
		Scripts: make([]BehaviorScript, len(d.Scripts)),
	}
	for i, s := range d.Slides {
		out.Slides[i] = s.clone()
	}
	for i, s := range d.Scripts {
		out.Scripts[i] = BehaviorScript{ID: s.ID, Code: s.Code, Targets: slices.Clone(s.Targets)}
	}
	return out
}

func (s Slide) clone() Slide {
	c := s
	c.Elements = slices.Clone(s.Elements)
	if s.Verification.Score != nil {
		score := *s.Verification.Score
		c.Verification.Score = &score
	}
	return c
}

// reindex makes every Position equal its index.
func (d *Deck) reindex() {
	for i := range d.Slides {
		d.Slides[i].Position = i
	}
}

// inRange reports whether position addresses an existing slide.
func (d *Deck) inRange(position int) bool {
	return position >= 0 && position < len(d.Slides)
}

// elementIDs returns the ids of every visual element except those on skip.
func (d *Deck) elementIDs(skip int) map[string]bool {
	ids := map[string]bool{}
	for _, s := range d.Slides {
		if s.Position == skip {
			continue
		}
		for _, el := range s.Elements {
			ids[el.ID] = true
		}
	}
	return ids
}

// withVerification returns a copy whose slide statuses reflect book.
// Slides share nothing mutable with the receiver.
func (d *Deck) withVerification(book *ScoreBook) *Deck {
	out := d.Clone()
	for i := range out.Slides {
		out.Slides[i].Verification = book.Verification(out.Slides[i].ContentHash)
	}
	return out
}

// View projects the deck for the transport layer.
func (d *Deck) View(session string) DeckView {
	view := DeckView{
		Session:    session,
		Title:      d.Title,
		SlideCount: len(d.Slides),
		Slides:     make([]SlideView, 0, len(d.Slides)),
		Style:      d.Style,
		Scripts:    slices.Clone(d.Scripts),
	}
	for i, s := range d.Slides {
		ids := make([]string, 0, len(s.Elements))
		for _, el := range s.Elements {
			ids = append(ids, el.ID)
		}
		view.Slides = append(view.Slides, SlideView{
			Number:      i + 1,
			Position:    i,
			Title:       slideTitle(s.HTML),
			HTML:        s.HTML,
			Elements:    ids,
			ContentHash: s.ContentHash,
			Status:      s.Verification.State,
			Score:       s.Verification.Score,
		})
	}
	return view
}

// MarshalDeck serializes a deck for a save point.
func MarshalDeck(d *Deck) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deck: %w", err)
	}
	return data, nil
}

// UnmarshalDeck restores a deck serialized by MarshalDeck.
func UnmarshalDeck(data []byte) (*Deck, error) {
	var d Deck
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deck: %w", err)
	}
	if d.Slides == nil {
		d.Slides = []Slide{}
	}
	if d.Scripts == nil {
		d.Scripts = []BehaviorScript{}
	}
	return &d, nil
}

// ScoreBook is a session's content-hash to score map plus the hashes
// whose scoring is in flight. Scores are independent per hash.
type ScoreBook struct {
	mu      sync.RWMutex
	scores  map[string]float64
	pending map[string]struct{}
}

func NewScoreBook(scores map[string]float64) *ScoreBook {
	b := &ScoreBook{scores: map[string]float64{}, pending: map[string]struct{}{}}
	maps.Copy(b.scores, scores)
	return b
}

func (b *ScoreBook) Score(hash string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.scores[hash]
	return s, ok
}

// Set records a score and clears the pending mark.
func (b *ScoreBook) Set(hash string, score float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scores[hash] = score
	delete(b.pending, hash)
}

// MarkPending flags hash as being scored. It returns false when the hash
// is already scored or already pending.
func (b *ScoreBook) MarkPending(hash string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.scores[hash]; ok {
		return false
	}
	if _, ok := b.pending[hash]; ok {
		return false
	}
	b.pending[hash] = struct{}{}
	return true
}

func (b *ScoreBook) ClearPending(hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, hash)
}

// Verification derives the status of content with the given hash.
func (b *ScoreBook) Verification(hash string) Verification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.scores[hash]; ok {
		return Verification{State: StatusScored, Score: &s}
	}
	if _, ok := b.pending[hash]; ok {
		return Verification{State: StatusPending}
	}
	return Verification{State: StatusUnscored}
}

// Snapshot copies the score map.
func (b *ScoreBook) Snapshot() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.scores)
}
