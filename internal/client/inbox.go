package client

import (
	"sort"
	"sync"

	"github.com/vovakirdan/quill-server/internal/proto"
)

// Inbox keeps one copy of each message per server id, whichever path it
// arrived on. Deleted ids stay tombstoned so a stale fetch cannot bring them
// back.
type Inbox struct {
	self int64

	mu      sync.Mutex
	seen    map[int64]struct{}
	deleted map[int64]struct{}
	threads map[int64][]proto.Message
}

// NewInbox creates an inbox for user self.
func NewInbox(self int64) *Inbox {
	return &Inbox{
		self:    self,
		seen:    make(map[int64]struct{}),
		deleted: make(map[int64]struct{}),
		threads: make(map[int64][]proto.Message),
	}
}

// Add records m and reports whether it was new.
func (b *Inbox) Add(m proto.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(m)
}

// Merge records a batch, typically a REST page, and returns how many were new.
func (b *Inbox) Merge(msgs []proto.Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if b.addLocked(m) {
			added++
		}
	}
	return added
}

func (b *Inbox) addLocked(m proto.Message) bool {
	if m.ID == 0 {
		return false
	}
	if _, ok := b.seen[m.ID]; ok {
		return false
	}
	if _, ok := b.deleted[m.ID]; ok {
		return false
	}
	b.seen[m.ID] = struct{}{}

	peer := b.peerOf(m)
	thread := append(b.threads[peer], m)
	sort.SliceStable(thread, func(i, j int) bool {
		if thread[i].CreatedAt.Equal(thread[j].CreatedAt) {
			return thread[i].ID < thread[j].ID
		}
		return thread[i].CreatedAt.Before(thread[j].CreatedAt)
	})
	b.threads[peer] = thread
	return true
}

// Remove drops a message after a delete notice.
func (b *Inbox) Remove(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deleted[id] = struct{}{}
	if _, ok := b.seen[id]; !ok {
		return
	}
	delete(b.seen, id)
	for peer, thread := range b.threads {
		for i, m := range thread {
			if m.ID == id {
				b.threads[peer] = append(thread[:i:i], thread[i+1:]...)
				return
			}
		}
	}
}

// DropConversation forgets everything exchanged with peer.
func (b *Inbox) DropConversation(peer int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, m := range b.threads[peer] {
		delete(b.seen, m.ID)
		b.deleted[m.ID] = struct{}{}
	}
	delete(b.threads, peer)
}

// Thread returns a copy of the conversation with peer, oldest first.
func (b *Inbox) Thread(peer int64) []proto.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]proto.Message, len(b.threads[peer]))
	copy(out, b.threads[peer])
	return out
}

func (b *Inbox) peerOf(m proto.Message) int64 {
	if m.SenderID == b.self {
		return m.ReceiverID
	}
	return m.SenderID
}
