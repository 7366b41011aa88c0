// ABOUTME: In-memory Channel implementation for tests
// ABOUTME: Records every outbound call and can simulate unreachable recipients

package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Sent is one recorded outbound call.
type Sent struct {
	To      ActorID
	Op      string // "text", "media", "batch", "delete"
	Text    Text
	Media   []Media
	Ref     MessageRef
	Deleted MessageRef
}

// Recorder is a Channel that stores everything it is asked to send.
type Recorder struct {
	mu      sync.Mutex
	sent    []Sent
	blocked map[ActorID]bool
	seq     int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{blocked: make(map[ActorID]bool)}
}

// Block makes every send to the actor fail with ErrUndeliverable.
func (r *Recorder) Block(actor ActorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[actor] = true
}

func (r *Recorder) record(s Sent) (MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocked[s.To] {
		return "", fmt.Errorf("send to %s: %w", s.To, ErrUndeliverable)
	}
	r.seq++
	s.Ref = MessageRef(fmt.Sprintf("m%d", r.seq))
	r.sent = append(r.sent, s)
	return s.Ref, nil
}

// SendText records a text message.
func (r *Recorder) SendText(ctx context.Context, to ActorID, msg Text) (MessageRef, error) {
	return r.record(Sent{To: to, Op: "text", Text: msg})
}

// SendMedia records a single attachment.
func (r *Recorder) SendMedia(ctx context.Context, to ActorID, media Media, caption Text) (MessageRef, error) {
	return r.record(Sent{To: to, Op: "media", Text: caption, Media: []Media{media}})
}

// SendMediaBatch records an album as one call.
func (r *Recorder) SendMediaBatch(ctx context.Context, to ActorID, media []Media, caption Text) ([]MessageRef, error) {
	ref, err := r.record(Sent{To: to, Op: "batch", Text: caption, Media: append([]Media(nil), media...)})
	if err != nil {
		return nil, err
	}
	return []MessageRef{ref}, nil
}

// DeleteMessage records a deletion.
func (r *Recorder) DeleteMessage(ctx context.Context, to ActorID, ref MessageRef) error {
	_, err := r.record(Sent{To: to, Op: "delete", Deleted: ref})
	return err
}

// All returns a copy of every recorded call.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// To returns the calls addressed to one actor, deletions excluded.
func (r *Recorder) To(actor ActorID) []Sent {
	var out []Sent
	for _, s := range r.All() {
		if s.To == actor && s.Op != "delete" {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the last non-delete call addressed to the actor.
func (r *Recorder) Last(actor ActorID) (Sent, bool) {
	sent := r.To(actor)
	if len(sent) == 0 {
		return Sent{}, false
	}
	return sent[len(sent)-1], true
}

// Deleted returns the refs deleted in the actor's chat.
func (r *Recorder) Deleted(actor ActorID) []MessageRef {
	var out []MessageRef
	for _, s := range r.All() {
		if s.To == actor && s.Op == "delete" {
			out = append(out, s.Deleted)
		}
	}
	return out
}

// Contains reports whether any text or caption sent to the actor contains
// the substring.
func (r *Recorder) Contains(actor ActorID, substr string) bool {
	for _, s := range r.To(actor) {
		if strings.Contains(s.Text.Body, substr) {
			return true
		}
	}
	return false
}

// Reset forgets recorded calls. Blocked actors stay blocked.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
