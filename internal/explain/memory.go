// Package explain holds the conversation about the current analysis result.
//
// A transcript belongs to one credential and one subject file. Entering the
// explain view with a different credential discards it; entering after a
// different subject was analyzed resets it to a greeting that names the new
// file. Entering with no current result resumes the stored transcript. The
// raw credential is never kept, only its fingerprint.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/verivox/internal/api"
	"github.com/fyrsmithlabs/verivox/internal/logging"
	"github.com/fyrsmithlabs/verivox/internal/scan"
	"github.com/fyrsmithlabs/verivox/internal/session"
	"go.uber.org/zap"
)

// Sender identifies who wrote an entry.
type Sender string

const (
	User      Sender = "user"
	Assistant Sender = "assistant"
)

// Entry is one message of a transcript.
type Entry struct {
	Sender Sender
	Text   string
}

// Canned assistant texts.
const (
	DefaultGreeting = "Hello! I am VeriVox Intelligence. How can I explain the forensic results?"
	ClearedNotice   = "Chat history cleared."
	BusyReply       = "System Busy. Please try again."
)

// SubjectGreeting returns the greeting for a newly loaded result.
func SubjectGreeting(file string) string {
	return fmt.Sprintf("Analysis for %q loaded. Ask me anything!", file)
}

// Chatter calls the explain endpoint.
type Chatter interface {
	ExplainChat(ctx context.Context, message string, forensicData json.RawMessage) (*api.ChatResponse, error)
}

// Memory is the transcript cache, keyed by (credential fingerprint,
// subject file name).
type Memory struct {
	chat   Chatter
	logger *logging.Logger

	mu       sync.Mutex
	present  bool
	owner    string
	subject  string
	forensic json.RawMessage
	entries  []Entry
	gen      uint64
}

// NewMemory creates an empty memory.
func NewMemory(chat Chatter, logger *logging.Logger) *Memory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Memory{chat: chat, logger: logger.Named("explain")}
}

// Enter applies the entry rules for the explain view and returns the
// transcript to show. result may be nil when nothing has been analyzed.
func (m *Memory) Enter(id session.Identity, result *scan.Result) []Entry {
	owner := id.Fingerprint()
	subject := ""
	var forensic json.RawMessage
	if result != nil {
		subject = result.SubjectFileName
		forensic = result.Raw
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner == "" {
		m.dropLocked()
		return nil
	}

	switch {
	case m.present && m.owner != owner:
		m.logger.Debug(context.Background(), "transcript discarded for new credential",
			zap.String("session.fp", session.ShortFingerprint(id.Credential)))
		m.dropLocked()
		m.startLocked(owner, subject)
	case !m.present:
		m.startLocked(owner, subject)
	case result == nil:
		// Nothing new was analyzed; the stored conversation and the
		// result it is about stay as they are.
		return m.snapshotLocked()
	case m.subject != subject:
		m.startLocked(owner, subject)
	}
	m.forensic = forensic
	return m.snapshotLocked()
}

func (m *Memory) startLocked(owner, subject string) {
	greeting := DefaultGreeting
	if subject != "" {
		greeting = SubjectGreeting(subject)
	}
	m.present = true
	m.owner = owner
	m.subject = subject
	m.entries = []Entry{{Sender: Assistant, Text: greeting}}
	m.gen++
}

func (m *Memory) dropLocked() {
	m.present = false
	m.owner = ""
	m.subject = ""
	m.forensic = nil
	m.entries = nil
	m.gen++
}

func (m *Memory) snapshotLocked() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Transcript returns the current entries.
func (m *Memory) Transcript() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subject returns the file the transcript is about, if any.
func (m *Memory) Subject() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subject
}

// Exchange is a user message awaiting its reply.
type Exchange struct {
	m        *Memory
	gen      uint64
	message  string
	forensic json.RawMessage
}

// Begin appends a user entry and returns the pending exchange. Empty or
// whitespace-only messages, and messages sent before Enter, are ignored.
func (m *Memory) Begin(message string) (*Exchange, bool) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return nil, false
	}
	m.entries = append(m.entries, Entry{Sender: User, Text: message})
	return &Exchange{m: m, gen: m.gen, message: message, forensic: m.forensic}, true
}

// Complete calls the backend and appends the reply, or BusyReply on any
// failure. The reply is dropped if the transcript was cleared, reset or
// discarded in the meantime. The returned entry is what was appended.
func (x *Exchange) Complete(ctx context.Context) Entry {
	reply := Entry{Sender: Assistant, Text: BusyReply}

	resp, err := x.m.chat.ExplainChat(ctx, x.message, x.forensic)
	switch {
	case err != nil:
		x.m.logger.Warn(ctx, "explain chat failed",
			zap.String("category", string(api.CategoryOf(err))),
			zap.Error(err))
	case resp == nil:
		x.m.logger.Warn(ctx, "explain chat returned no reply")
	default:
		reply.Text = RenderHTML(resp.Reply)
		if reply.Text == "" {
			reply.Text = BusyReply
		}
	}

	x.m.mu.Lock()
	defer x.m.mu.Unlock()
	if x.m.gen != x.gen || !x.m.present {
		x.m.logger.Debug(ctx, "explain reply discarded")
		return reply
	}
	x.m.entries = append(x.m.entries, reply)
	return reply
}

// Send is Begin followed by Complete. It returns the transcript after the
// exchange.
func (m *Memory) Send(ctx context.Context, message string) []Entry {
	x, ok := m.Begin(message)
	if ok {
		x.Complete(ctx)
	}
	return m.Transcript()
}

// Clear replaces the transcript with a single notice, keeping its owner
// and subject.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return
	}
	m.entries = []Entry{{Sender: Assistant, Text: ClearedNotice}}
	m.gen++
}

// Drop discards the transcript entirely.
func (m *Memory) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked()
}

// Follow drops the transcript whenever store signs out.
func (m *Memory) Follow(store *session.Store) func() {
	return store.Subscribe(func(ev session.Event) {
		if ev.Kind == session.LoggedOut {
			m.Drop()
		}
	})
}
