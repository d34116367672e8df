package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultTimeLimit    = 60 * time.Second
	DefaultTickInterval = 200 * time.Millisecond
)

// Options configures a Controller. Capture, Speaker, Gateway and Notifier are required.
type Options struct {
	AttemptID string
	// Part is the preferred assessment part, written back through Parts when
	// the session starts. Empty leaves the stored preference alone.
	Part      string
	Questions []Question

	// TimeLimit resolves the recording limit of a question. When nil, the
	// question's own TimeLimit or DefaultTimeLimit applies.
	TimeLimit    func(Question) time.Duration
	TickInterval time.Duration
	StopTimeout  time.Duration

	Clock    Clock
	Capture  Capture
	Speaker  Speaker
	Gateway  Gateway
	Notifier Notifier
	Parts    PartStore
}

// event is a trigger travelling through the loop. Async results carry the
// generation of the question they were started for.
type event struct {
	trig     Trigger
	async    bool
	gen      uint64
	artifact *Artifact
	// play is the playback sequence an element event belongs to
	play uint64
}

// Controller is the recording session: it serializes every trigger through a
// single loop goroutine and owns all per-question media resources.
type Controller struct {
	opts      Options
	questions []Question

	events  chan event
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	// loop-owned
	ctx       context.Context
	state     State
	index     int
	gen       uint64
	submitted map[int]bool
	finalized string
	artifact  *Artifact
	incoming  *Artifact
	queue     []Trigger
	tracker   *PlaybackTracker
	subs      *Subscriptions
	elements  map[Source]Element
	playing   map[Source]uint64
	playSeq   uint64
	ticker    Ticker
	tickC     <-chan time.Time

	mu       sync.RWMutex
	snap     Snapshot
	watchers map[int]chan Snapshot
	nextID   int
}

// New validates the question set and builds a controller. Questions are
// ordered by number.
func New(opts Options) (*Controller, error) {
	if len(opts.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	if opts.Capture == nil || opts.Speaker == nil || opts.Gateway == nil || opts.Notifier == nil {
		return nil, fmt.Errorf("capture, speaker, gateway and notifier are required")
	}

	questions := make([]Question, len(opts.Questions))
	copy(questions, opts.Questions)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Number < questions[j].Number })
	for i := 1; i < len(questions); i++ {
		if questions[i].Number == questions[i-1].Number {
			return nil, fmt.Errorf("duplicate question number %d", questions[i].Number)
		}
	}

	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}

	c := &Controller{
		opts:      opts,
		questions: questions,
		events:    make(chan event, 64),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		submitted: make(map[int]bool),
		tracker:   NewPlaybackTracker(),
		subs:      NewSubscriptions(),
		elements:  make(map[Source]Element),
		playing:   make(map[Source]uint64),
		watchers:  make(map[int]chan Snapshot),
	}
	c.snap = Snapshot{AttemptID: opts.AttemptID, Phase: PhaseIdle, Total: len(questions), Submitted: []int{}}
	return c, nil
}

// Run loads the first question and processes triggers until ctx is cancelled
// or Close is called. All resources are released before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	c.ctx = ctx

	if c.opts.Parts != nil && c.opts.Part != "" {
		if err := c.opts.Parts.SavePreferredPart(c.opts.Part); err != nil {
			slog.Warn("Failed to save preferred part", "part", c.opts.Part, "error", err)
		}
	}

	c.load(0)
	c.drain()
	c.publish()

	failures := c.opts.Capture.Failures()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-c.closing:
			c.shutdown()
			return nil
		case ev := <-c.events:
			c.handle(ev)
		case now := <-c.tickC:
			c.apply(Tick{Now: now})
		case err, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			c.apply(CaptureFailed{Err: err})
		}
		c.drain()
		c.publish()
	}
}

// Close stops the loop and waits for teardown. Safe to call more than once.
func (c *Controller) Close() {
	c.once.Do(func() { close(c.closing) })
	<-c.done
}

// Done is closed once the loop has exited
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) StartRecording()       { c.post(event{trig: StartRequested{}}) }
func (c *Controller) StopRecording()        { c.post(event{trig: StopRequested{}}) }
func (c *Controller) CancelRecording()      { c.post(event{trig: CancelRequested{}}) }
func (c *Controller) Submit()               { c.post(event{trig: SubmitRequested{}}) }
func (c *Controller) Retry()                { c.post(event{trig: RetryRequested{}}) }
func (c *Controller) ReRecord()             { c.post(event{trig: ReRecordRequested{}}) }
func (c *Controller) Authorize()            { c.post(event{trig: AuthorizeRequested{}}) }
func (c *Controller) PlayIntro()            { c.post(event{trig: PlayIntroRequested{}}) }
func (c *Controller) PlayQuestionAudio()    { c.post(event{trig: PlayQuestionRequested{}}) }
func (c *Controller) ToggleAnswerPlayback() { c.post(event{trig: ToggleAnswerRequested{}}) }

// Snapshot returns the state most recently published by the loop
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Updates returns a channel receiving the latest snapshot after every change.
// Slow readers only see the newest value. The returned func detaches.
func (c *Controller) Updates() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	ch <- c.snap
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// postAsync delivers the result of an async operation started for gen
func (c *Controller) postAsync(gen uint64, trig Trigger, artifact *Artifact) {
	c.postEvent(event{trig: trig, async: true, gen: gen, artifact: artifact})
}

func (c *Controller) postEvent(ev event) {
	select {
	case <-c.done:
		ev.artifact.Release()
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.done:
		ev.artifact.Release()
	}
}

func (c *Controller) handle(ev event) {
	if ev.async && ev.gen != c.gen {
		slog.Debug("Dropping late result for a previous question", "trigger", fmt.Sprintf("%T", ev.trig), "gen", ev.gen, "current_gen", c.gen)
		ev.artifact.Release()
		return
	}
	if ev.play != 0 && !c.isPlaying(ev.trig, ev.play) {
		return
	}

	trig := ev.trig
	switch t := trig.(type) {
	case StopRequested:
		t.At = c.opts.Clock.Now()
		trig = t
	case CaptureStarted:
		t.At = c.opts.Clock.Now()
		trig = t
	}

	c.incoming = ev.artifact
	c.apply(trig)
	if c.incoming != nil {
		c.incoming.Release()
		c.incoming = nil
	}
}

// drain applies triggers queued by effects during the previous step
func (c *Controller) drain() {
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.apply(next)
	}
}

func (c *Controller) apply(trig Trigger) {
	prev := c.state
	next, effects := Transition(c.state, trig)
	c.state = next

	if prev.Phase != next.Phase {
		slog.Debug("Session phase transition",
			"question", next.Question.Number,
			"from", prev.Phase,
			"to", next.Phase,
			"trigger", fmt.Sprintf("%T", trig))
	}

	n := next.Question.Number
	if next.Playback.IntroPlayed {
		c.tracker.RecordIntroPlayed(n)
	}
	if next.Playback.QuestionPlayed {
		c.tracker.RecordQuestionPlayed(n)
	}

	for _, e := range effects {
		c.execute(e)
	}
}

func (c *Controller) execute(e Effect) {
	switch e := e.(type) {
	case StartCapture:
		gen := c.gen
		go func() {
			if err := c.opts.Capture.Start(c.ctx); err != nil {
				c.postAsync(gen, CaptureStartFailed{PermissionDenied: errors.Is(err, ErrPermissionDenied), Err: err}, nil)
				return
			}
			c.postAsync(gen, CaptureStarted{}, nil)
		}()

	case StopCapture:
		gen := c.gen
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
			defer cancel()
			artifact, err := c.opts.Capture.Stop(ctx)
			if err != nil {
				c.postAsync(gen, CaptureStopFailed{Err: err}, nil)
				return
			}
			c.postAsync(gen, CaptureSaved{}, artifact)
		}()

	case StartTicker:
		c.stopTicker()
		c.ticker = c.opts.Clock.NewTicker(c.opts.TickInterval)
		c.tickC = c.ticker.C()

	case StopTicker:
		c.stopTicker()

	case Play:
		c.play(e.Source)

	case Pause:
		c.unbind(e.Source, true)

	case SubmitAnswer:
		gen, attempt, number, artifact := c.gen, c.opts.AttemptID, c.state.Question.Number, c.artifact
		go func() {
			res := c.opts.Gateway.SubmitAnswer(c.ctx, attempt, number, artifact)
			if res.OK {
				c.postAsync(gen, SubmitSucceeded{}, nil)
				return
			}
			c.postAsync(gen, SubmitFailed{Kind: res.Kind, Message: res.Message}, nil)
		}()

	case FinishAttempt:
		gen, attempt := c.gen, c.opts.AttemptID
		go func() {
			res := c.opts.Gateway.FinishAttempt(c.ctx, attempt)
			if res.OK {
				c.postAsync(gen, FinishSucceeded{FinalizedAttemptID: res.Value.AttemptID}, nil)
				return
			}
			c.postAsync(gen, FinishFailed{Kind: res.Kind, Message: res.Message}, nil)
		}()

	case Authorize:
		gen := c.gen
		go func() {
			if err := c.opts.Capture.Probe(c.ctx); err != nil {
				c.postAsync(gen, AuthorizeFailed{Err: err}, nil)
				return
			}
			c.postAsync(gen, AuthorizeSucceeded{}, nil)
		}()

	case AdoptArtifact:
		c.releaseArtifact()
		c.artifact = c.incoming
		c.incoming = nil
		if c.artifact != nil {
			c.artifact.Duration = e.Duration
		}

	case DiscardArtifact:
		if c.incoming != nil {
			c.incoming.Release()
			c.incoming = nil
		}

	case ReleaseArtifact:
		c.unbind(SourceAnswer, true)
		c.releaseArtifact()

	case MarkSubmitted:
		c.submitted[c.state.Question.Number] = true

	case Advance:
		if c.index+1 >= len(c.questions) {
			return
		}
		c.teardownQuestion()
		c.load(c.index + 1)

	case Complete:
		c.finalized = e.FinalizedAttemptID
		slog.Info("Attempt finalized", "attempt", c.opts.AttemptID, "finalized_attempt", e.FinalizedAttemptID)

	case Toast:
		c.opts.Notifier.Toast(e.Level, e.Message)

	case Emit:
		c.opts.Notifier.Emit(Telemetry{
			Name:     e.Name,
			Attempt:  c.opts.AttemptID,
			Question: c.state.Question.Number,
			Reason:   e.Reason,
		})
	}
}

// load makes question i current and queues its Load trigger
func (c *Controller) load(i int) {
	c.index = i
	c.gen++
	q := c.questions[i]
	c.queue = append(c.queue, Load{
		Question:   q,
		Playback:   c.tracker.Reset(q),
		IsLast:     i == len(c.questions)-1,
		HasAttempt: c.opts.AttemptID != "",
		Limit:      c.limitFor(q),
	})
}

func (c *Controller) limitFor(q Question) time.Duration {
	if c.opts.TimeLimit != nil {
		if d := c.opts.TimeLimit(q); d > 0 {
			return d
		}
	}
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	return DefaultTimeLimit
}

func (c *Controller) play(src Source) {
	url := c.urlFor(src)
	if url == "" {
		c.queue = append(c.queue, PlaybackFailed{Source: src, Err: fmt.Errorf("%w: no %s audio", ErrPlaybackRejected, src)})
		return
	}

	c.unbind(src, true)
	el, err := c.opts.Speaker.Open(url)
	if err != nil {
		c.queue = append(c.queue, PlaybackFailed{Source: src, Err: err})
		return
	}
	c.elements[src] = el

	c.playSeq++
	c.playing[src] = c.playSeq

	gen, seq := c.gen, c.playSeq
	c.subs.Track(src, el.Subscribe(func(ev PlaybackEvent) {
		var trig Trigger
		switch ev.Kind {
		case EventEnded:
			trig = PlaybackEnded{Source: src}
		case EventPause:
			trig = PlaybackPaused{Source: src}
		case EventError:
			trig = PlaybackFailed{Source: src, Err: ev.Err}
		default:
			return
		}
		c.postEvent(event{trig: trig, async: true, gen: gen, play: seq})
	}))

	if err := el.Play(c.ctx); err != nil {
		slog.Debug("Playback rejected", "source", src, "url", url, "error", err)
		c.unbind(src, false)
		c.queue = append(c.queue, PlaybackFailed{Source: src, Err: err})
	}
}

// isPlaying reports whether an element event belongs to the element currently bound for its source
func (c *Controller) isPlaying(trig Trigger, seq uint64) bool {
	var src Source
	switch t := trig.(type) {
	case PlaybackEnded:
		src = t.Source
	case PlaybackPaused:
		src = t.Source
	case PlaybackFailed:
		src = t.Source
	default:
		return true
	}
	return c.playing[src] == seq
}

func (c *Controller) urlFor(src Source) string {
	switch src {
	case SourceIntro:
		return c.state.Question.IntroAudioURL
	case SourceQuestion:
		return c.state.Question.PromptAudioURL
	case SourceAnswer:
		if c.artifact != nil {
			return c.artifact.Path
		}
	}
	return ""
}

// unbind detaches listeners for src before pausing, so the element's own
// pause event never reaches the loop.
func (c *Controller) unbind(src Source, pause bool) {
	c.subs.Release(src)
	delete(c.playing, src)
	el, ok := c.elements[src]
	if !ok {
		return
	}
	delete(c.elements, src)
	if pause {
		el.Pause()
	}
	if err := el.Close(); err != nil {
		slog.Debug("Failed to close playback element", "source", src, "error", err)
	}
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.tickC = nil
}

func (c *Controller) releaseArtifact() {
	if c.artifact != nil {
		c.artifact.Release()
		c.artifact = nil
	}
}

// teardownQuestion releases every per-question resource
func (c *Controller) teardownQuestion() {
	c.stopTicker()
	for _, src := range []Source{SourceIntro, SourceQuestion, SourceAnswer} {
		c.unbind(src, true)
	}
	c.subs.ReleaseAll()
	c.releaseArtifact()
	if c.incoming != nil {
		c.incoming.Release()
		c.incoming = nil
	}
	c.queue = nil
}

func (c *Controller) shutdown() {
	recording := (c.state.Phase == PhaseRecording && c.state.Pending == OpNone) || c.state.Pending == OpStarting
	c.teardownQuestion()
	if recording {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
		if artifact, err := c.opts.Capture.Stop(ctx); err == nil {
			artifact.Release()
		}
		cancel()
	}
	if err := c.opts.Capture.Close(); err != nil {
		slog.Debug("Failed to close capture", "error", err)
	}
	c.gen++
	slog.Debug("Session controller stopped", "attempt", c.opts.AttemptID)
}

// publish computes the snapshot from loop-owned state and notifies watchers
func (c *Controller) publish() {
	s := c.state
	q := s.Question
	snap := Snapshot{
		AttemptID:          c.opts.AttemptID,
		Phase:              s.Phase,
		Stage:              s.Stage,
		Question:           &q,
		Index:              c.index,
		Total:              len(c.questions),
		ElapsedMs:          s.Elapsed.Milliseconds(),
		LimitMs:            s.Limit.Milliseconds(),
		HeldBy:             s.Lock.HeldBy,
		Capture:            c.opts.Capture.Status(),
		Busy:               s.Pending != OpNone,
		ErrorMessage:       s.ErrorMessage,
		FinalizedAttemptID: c.finalized,
		Done:               s.Done,
		Submitted:          make([]int, 0, len(c.submitted)),
	}
	if s.Limit > 0 {
		snap.RecordingProgress = float64(s.Elapsed) / float64(s.Limit)
		if snap.RecordingProgress > 1 {
			snap.RecordingProgress = 1
		}
	}
	if s.HasArtifact {
		snap.ArtifactDurationMs = s.ArtifactDuration.Milliseconds()
	}

	idle := s.Pending == OpNone
	playablePhase := playable(s)
	snap.CanStart = idle && !s.Done && s.Phase == PhaseIdle &&
		((s.Stage == StageQuestion && s.Lock.Free()) || (s.Stage == StageIntro && s.Lock.Allows(SourceIntro)))
	snap.CanSubmit = idle && s.HasAttempt && s.HasArtifact && (s.Phase == PhaseReview || s.Phase == PhaseError)
	snap.CanRetry = snap.CanSubmit && s.Phase == PhaseError
	snap.CanPlayIntro = playablePhase && q.HasIntro() && s.Lock.Free()
	snap.CanReplayQuestionAudio = playablePhase && q.PromptAudioURL != "" && c.tracker.CanReplayQuestionAudio(q.Number, s.Lock)
	snap.CanToggleAnswer = idle && s.HasArtifact && (s.Phase == PhaseReview || s.Phase == PhaseError) && s.Lock.Allows(SourceAnswer)

	for n := range c.submitted {
		snap.Submitted = append(snap.Submitted, n)
	}
	sort.Ints(snap.Submitted)

	c.mu.Lock()
	c.snap = snap
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	c.mu.Unlock()
}
