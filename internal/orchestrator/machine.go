package orchestrator

import (
	"time"

	"github.com/felixgeelhaar/statekit"
	"go.uber.org/zap"
)

// Query states.
const (
	stateEmbedding    statekit.StateID = "embedding"
	stateRetrieving   statekit.StateID = "retrieving"
	stateSynthesizing statekit.StateID = "synthesizing"
	stateRetrying     statekit.StateID = "retrying"
	stateDone         statekit.StateID = "done"
	stateFailed       statekit.StateID = "failed"
)

// Query events.
const (
	eventEmbedded    statekit.EventType = "EMBEDDED"
	eventRetrieved   statekit.EventType = "RETRIEVED"
	eventSynthesized statekit.EventType = "SYNTHESIZED"
	eventRetry       statekit.EventType = "RETRY"
	eventRestart     statekit.EventType = "RESTART"
	eventFail        statekit.EventType = "FAIL"
)

// queryRun is the machine context of one query.
type queryRun struct {
	id         string
	stage      statekit.StateID
	stageStart time.Time
	timings    map[string]time.Duration
	restarts   int
	logger     *zap.Logger
}

func newQueryRun(id string, logger *zap.Logger) *queryRun {
	return &queryRun{id: id, timings: make(map[string]time.Duration), logger: logger}
}

// enter closes the timing of the current stage and starts the next one.
func (r *queryRun) enter(stage statekit.StateID) {
	now := time.Now()
	if r.stage != "" {
		r.timings[string(r.stage)] += now.Sub(r.stageStart)
	}
	r.stage = stage
	r.stageStart = now
	if r.logger != nil {
		r.logger.Debug("query stage", zap.String("query_id", r.id), zap.String("stage", string(stage)))
	}
}

// stageTimingsMs returns the accumulated time per stage in milliseconds.
func (r *queryRun) stageTimingsMs() map[string]int64 {
	out := make(map[string]int64, len(r.timings))
	for stage, d := range r.timings {
		out[stage] = d.Milliseconds()
	}
	return out
}

func enterStage(stage statekit.StateID) func(**queryRun, statekit.Event) {
	return func(run **queryRun, _ statekit.Event) {
		if run == nil || *run == nil || (*run).timings == nil {
			return
		}
		(*run).enter(stage)
	}
}

func countRestart(run **queryRun, _ statekit.Event) {
	if run == nil || *run == nil {
		return
	}
	(*run).restarts++
}

// newQueryMachine builds the per-query statechart:
// embedding -> retrieving -> synthesizing -> done, with any stage able to move to
// retrying (and back to embedding) or to failed.
func newQueryMachine() (*statekit.MachineConfig[*queryRun], error) {
	return statekit.NewMachine[*queryRun]("query").
		WithInitial(stateEmbedding).
		WithContext(&queryRun{}).
		WithAction("enterEmbedding", enterStage(stateEmbedding)).
		WithAction("enterRetrieving", enterStage(stateRetrieving)).
		WithAction("enterSynthesizing", enterStage(stateSynthesizing)).
		WithAction("enterRetrying", enterStage(stateRetrying)).
		WithAction("enterDone", enterStage(stateDone)).
		WithAction("enterFailed", enterStage(stateFailed)).
		WithAction("countRestart", countRestart).
		State(stateEmbedding).
		OnEntry("enterEmbedding").
		On(eventEmbedded).Target(stateRetrieving).
		On(eventRetry).Target(stateRetrying).
		On(eventFail).Target(stateFailed).
		Done().
		State(stateRetrieving).
		OnEntry("enterRetrieving").
		On(eventRetrieved).Target(stateSynthesizing).
		On(eventRetry).Target(stateRetrying).
		On(eventFail).Target(stateFailed).
		Done().
		State(stateSynthesizing).
		OnEntry("enterSynthesizing").
		On(eventSynthesized).Target(stateDone).
		On(eventRetry).Target(stateRetrying).
		On(eventFail).Target(stateFailed).
		Done().
		State(stateRetrying).
		OnEntry("enterRetrying").
		On(eventRestart).Target(stateEmbedding).Do("countRestart").
		On(eventFail).Target(stateFailed).
		Done().
		State(stateDone).
		Final().
		OnEntry("enterDone").
		Done().
		State(stateFailed).
		Final().
		OnEntry("enterFailed").
		Done().
		Build()
}
