// Package mock drives the relay with synthetic tool activity so the
// visualization can be demoed without real producers.
package mock

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ai-hq/server/internal/event"
	"github.com/ai-hq/server/internal/relay"
)

// Submitter accepts raw submissions, as the /event endpoint does.
type Submitter interface {
	Submit(raw []byte) (relay.Outcome, error)
}

type mockSession struct {
	id      string
	title   string
	tools   []string
	every   int // act on every n-th tick
	flaky   bool
	toolIdx int
	inTool  bool
}

var commonTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob", "Task", "LSP"}

type Generator struct {
	submitter Submitter
	interval  time.Duration
	logger    *slog.Logger
	sessions  []*mockSession
}

func NewGenerator(s Submitter, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Generator{
		submitter: s,
		interval:  interval,
		logger:    slog.Default(),
		sessions: []*mockSession{
			{id: "mock0refactor", title: "myproject", every: 1,
				tools: []string{"Read", "Grep", "Edit", "Write", "Bash", "Edit"}},
			{id: "mock0webtests", title: "webapp", every: 2,
				tools: []string{"Read", "Write", "Bash", "Bash"}},
			{id: "mock0apidebug", title: "api-server", every: 3, flaky: true,
				tools: []string{"Read", "Grep", "Grep", "Read", "Bash", "LSP"}},
			{id: "mock0analyze", title: "analytics", every: 4,
				tools: commonTools},
		},
	}
}

func (g *Generator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			g.step(tick)
		}
	}
}

// step advances every session due on this tick. Each due session alternates
// tool_start and tool_end; flaky sessions also send a stray session_end now
// and then, which the relay is expected to swallow.
func (g *Generator) step(tick int) {
	for _, ms := range g.sessions {
		if tick%ms.every != 0 {
			continue
		}

		e := event.Event{SessionID: ms.id, Title: ms.title}
		tool := ms.tools[ms.toolIdx%len(ms.tools)]
		if ms.inTool {
			e.Type = event.TypeToolEnd
			e.Tool = tool
			ms.toolIdx++
		} else {
			e.Type = event.TypeToolStart
			e.Tool = tool
		}
		ms.inTool = !ms.inTool
		g.submit(e)

		if ms.flaky && tick%(ms.every*5) == 0 {
			g.submit(event.Event{Type: event.TypeSessionEnd, SessionID: ms.id, Title: ms.title})
		}
	}
}

func (g *Generator) submit(e event.Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		g.logger.Error("mock marshal error", "error", err)
		return
	}
	if _, err := g.submitter.Submit(raw); err != nil {
		g.logger.Warn("mock submission rejected", "error", err)
	}
}
