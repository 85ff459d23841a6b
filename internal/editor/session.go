package editor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Saver persists session output. The app layer implements it on top of
// the note store. Save writes content and title together so the
// debounced pipeline has a single write path.
type Saver interface {
	Save(ctx context.Context, noteID, ownerID, content, title string) error
	Publish(ctx context.Context, noteID, ownerID, content, title string) error
}

// Config holds the timing knobs for a session. Tests shrink these to
// keep runs fast.
type Config struct {
	FadeDelay    time.Duration
	DecayTick    time.Duration
	SaveDebounce time.Duration
}

// SaveStatus describes where the persistence pipeline currently is.
type SaveStatus string

const (
	SaveIdle     SaveStatus = "idle"
	SaveInFlight SaveStatus = "saving"
	SaveSaved    SaveStatus = "saved"
	SaveError    SaveStatus = "error"
)

var (
	// ErrNotePublished is returned for write operations on a published note.
	ErrNotePublished = errors.New("note is published and read-only")
	// ErrSaveInFlight is returned when publish is attempted while a save
	// is pending or running.
	ErrSaveInFlight = errors.New("a save is in flight")
	// ErrConfirmRequired is returned when publish is attempted without
	// explicit confirmation.
	ErrConfirmRequired = errors.New("publish requires confirmation")
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("editor session is closed")
)

// saveTimeout bounds background persistence calls, which run outside
// any request context.
const saveTimeout = 10 * time.Second

// Session is the live editing state of one open note. A decay goroutine
// sweeps block timestamps every tick; edits re-arm a debounce timer
// that flushes the combined content to the saver. All state is guarded
// by mu.
type Session struct {
	noteID  string
	ownerID string
	saver   Saver
	cfg     Config
	now     func() time.Time

	mu         sync.Mutex
	tracker    *Tracker
	base       string
	title      string // last successfully persisted title
	titleDraft string // what the user is typing into the title field
	titleNext  string // title the next save will carry
	published  bool
	publishing bool
	closed     bool

	status    SaveStatus
	lastSaved string
	latestSeq uint64
	inFlight  bool
	pending   *time.Timer
	lastErr   error

	ticker *time.Ticker
	done   chan struct{}
}

// NewSession opens a session over a note's persisted state and starts
// its decay loop.
func NewSession(noteID, ownerID, title, content string, published bool, saver Saver, cfg Config) *Session {
	s := &Session{
		noteID:     noteID,
		ownerID:    ownerID,
		saver:      saver,
		cfg:        cfg,
		now:        time.Now,
		tracker:    NewTracker(),
		base:       content,
		title:      title,
		titleDraft: title,
		titleNext:  title,
		published:  published,
		status:     SaveSaved,
		lastSaved:  content,
		done:       make(chan struct{}),
	}

	s.ticker = time.NewTicker(cfg.DecayTick)
	go s.decayLoop()

	return s
}

func (s *Session) decayLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.mu.Lock()
			if !s.closed {
				s.tracker.Sweep(s.now(), s.cfg.FadeDelay)
			}
			s.mu.Unlock()
		}
	}
}

// ApplyEdits reconciles the block list against a client submission and
// arms the save debounce. A burst of calls results in a single save of
// the final state once the burst goes quiet.
func (s *Session) ApplyEdits(edits []BlockEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.published {
		return ErrNotePublished
	}
	if s.publishing {
		return ErrSaveInFlight
	}

	s.tracker.Apply(edits, s.now())
	s.scheduleSaveLocked()
	return nil
}

// scheduleSaveLocked re-arms the debounce timer. Must hold mu.
func (s *Session) scheduleSaveLocked() {
	if s.pending != nil {
		s.pending.Stop()
	}
	s.status = SaveInFlight
	s.pending = time.AfterFunc(s.cfg.SaveDebounce, s.flush)
}

// flush runs on the debounce timer goroutine. It snapshots the combined
// content and the title under the lock, performs the save outside it,
// then applies the result only if no newer flush started in the
// meantime.
func (s *Session) flush() {
	s.mu.Lock()
	if s.closed || s.published {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.latestSeq++
	seq := s.latestSeq
	content := s.combinedLocked()
	title := s.titleNext
	s.status = SaveInFlight
	s.inFlight = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	err := s.saver.Save(ctx, s.noteID, s.ownerID, content, title)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.latestSeq {
		// A newer save started after this one; its outcome wins.
		return
	}
	s.inFlight = false

	if err != nil {
		s.status = SaveError
		s.lastErr = err
		// Roll the committed-but-unsaved title back to its baseline.
		if s.titleDraft == title {
			s.titleDraft = s.title
		}
		s.titleNext = s.title
		return
	}

	s.lastSaved = content
	s.title = title
	s.lastErr = nil
	if s.pending == nil {
		s.status = SaveSaved
	}
}

// combinedLocked synthesizes the full note content. Must hold mu.
func (s *Session) combinedLocked() string {
	return Synthesize(s.base, s.tracker.Texts())
}

// Content returns the current combined note content.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combinedLocked()
}

// SetTitleDraft stages a title change without persisting it.
func (s *Session) SetTitleDraft(draft string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.published {
		return ErrNotePublished
	}
	s.titleDraft = draft
	return nil
}

// CommitTitle routes the staged title into the debounced save, the
// same path body edits take. The baseline is adopted once the save
// lands.
func (s *Session) CommitTitle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.published {
		return ErrNotePublished
	}
	s.titleNext = s.titleDraft
	s.scheduleSaveLocked()
	return nil
}

// CancelTitleEdit discards the staged title and restores the last
// committed one.
func (s *Session) CancelTitleEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titleDraft = s.title
}

// Publish makes the note permanently read-only after a final save of
// the combined content. It refuses while a debounced or running save
// could still change the content, and it requires the caller to have
// confirmed.
func (s *Session) Publish(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrConfirmRequired
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.published {
		s.mu.Unlock()
		return ErrNotePublished
	}
	if s.pending != nil || s.inFlight || s.publishing {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	s.publishing = true
	content := s.combinedLocked()
	title := s.title
	s.mu.Unlock()

	err := s.saver.Publish(ctx, s.noteID, s.ownerID, content, title)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishing = false
	if err != nil {
		return err
	}
	s.published = true
	s.lastSaved = content
	s.status = SaveSaved
	return nil
}

// View is the renderable snapshot of a session.
type View struct {
	NoteID     string      `json:"noteId"`
	Title      string      `json:"title"`
	TitleDraft string      `json:"titleDraft"`
	Blocks     []BlockView `json:"blocks"`
	Content    string      `json:"content"`
	SaveStatus SaveStatus  `json:"saveStatus"`
	Published  bool        `json:"published"`
	SaveError  string      `json:"saveError,omitempty"`
}

// Snapshot returns the current renderable state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		NoteID:     s.noteID,
		Title:      s.title,
		TitleDraft: s.titleDraft,
		Blocks:     s.tracker.Views(),
		Content:    s.combinedLocked(),
		SaveStatus: s.status,
		Published:  s.published,
	}
	if s.lastErr != nil {
		v.SaveError = s.lastErr.Error()
	}
	return v
}

// Published reports whether the note has been published.
func (s *Session) Published() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// Close stops the decay loop and, if a save was still pending, flushes
// the combined content synchronously so typed text is not lost.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.ticker.Stop()
	close(s.done)

	var content, title string
	dirty := false
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
		if !s.published {
			content = s.combinedLocked()
			title = s.titleNext
			dirty = content != s.lastSaved || title != s.title
		}
	}
	s.mu.Unlock()

	if !dirty {
		return nil
	}
	if err := s.saver.Save(ctx, s.noteID, s.ownerID, content, title); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastSaved = content
	s.title = title
	s.status = SaveSaved
	s.mu.Unlock()
	return nil
}
