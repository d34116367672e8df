package sessiontest

import (
	"context"
	"sync"

	"github.com/audiolibrelab/speakcapture/internal/session"
)

// Submission is one SubmitAnswer call seen by FakeGateway
type Submission struct {
	AttemptID string
	Question  int
	Data      []byte
}

// FakeGateway answers from scripted result queues; an empty queue succeeds
type FakeGateway struct {
	FinalizedID string

	mu          sync.Mutex
	submits     []session.Result[struct{}]
	finishes    []session.Result[session.Finalized]
	submitGate  chan struct{}
	submissions []Submission
	finishCalls int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{FinalizedID: "final-1"}
}

func (g *FakeGateway) QueueSubmit(r session.Result[struct{}]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, r)
}

func (g *FakeGateway) QueueFinish(r session.Result[session.Finalized]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finishes = append(g.finishes, r)
}

// HoldSubmit makes SubmitAnswer block until the returned func is called
func (g *FakeGateway) HoldSubmit() (release func()) {
	gate := make(chan struct{})
	g.mu.Lock()
	g.submitGate = gate
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (g *FakeGateway) SubmitAnswer(ctx context.Context, attemptID string, questionNumber int, artifact *session.Artifact) session.Result[struct{}] {
	g.mu.Lock()
	gate := g.submitGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	s := Submission{AttemptID: attemptID, Question: questionNumber}
	if artifact != nil {
		s.Data = append([]byte(nil), artifact.Data...)
	}
	g.submissions = append(g.submissions, s)
	if len(g.submits) == 0 {
		return session.Ok(struct{}{})
	}
	r := g.submits[0]
	g.submits = g.submits[1:]
	return r
}

func (g *FakeGateway) FinishAttempt(ctx context.Context, attemptID string) session.Result[session.Finalized] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finishCalls++
	if len(g.finishes) == 0 {
		return session.Ok(session.Finalized{AttemptID: g.FinalizedID})
	}
	r := g.finishes[0]
	g.finishes = g.finishes[1:]
	return r
}

func (g *FakeGateway) Submissions() []Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Submission(nil), g.submissions...)
}

func (g *FakeGateway) FinishCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finishCalls
}
