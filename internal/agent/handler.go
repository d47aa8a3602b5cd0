// Package agent implements the request pipeline: lane admission,
// retrieval, budget guard, routing, engine streaming, and the tool
// execution loop with its approval gate.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/warden/internal/bus"
	"github.com/nextlevelbuilder/warden/internal/config"
	"github.com/nextlevelbuilder/warden/internal/contextguard"
	"github.com/nextlevelbuilder/warden/internal/cron"
	"github.com/nextlevelbuilder/warden/internal/engine"
	"github.com/nextlevelbuilder/warden/internal/heartbeat"
	"github.com/nextlevelbuilder/warden/internal/memory"
	"github.com/nextlevelbuilder/warden/internal/router"
	"github.com/nextlevelbuilder/warden/internal/scheduler"
	"github.com/nextlevelbuilder/warden/internal/tools"
	"github.com/nextlevelbuilder/warden/internal/transcript"
	"github.com/nextlevelbuilder/warden/pkg/protocol"
)

const (
	// maxToolIterations bounds how many engine->tool round trips one
	// request may make.
	maxToolIterations = 20

	// historyCap bounds the per-client conversation kept in memory.
	historyCap = 40

	laneWarnAfter = 5 * time.Second
)

// Handler runs chat requests end to end.
type Handler struct {
	cfg      *config.Config
	engines  *engine.Set
	registry *tools.Registry
	gate     *tools.Gate
	lanes    *scheduler.Lanes
	heavy    *scheduler.HeavyQueue
	hb       *heartbeat.Manager
	events   bus.Publisher
	core     *memory.CoreMemory
	archive  *memory.Archival
	rag      *memory.AutoRAG
	persona  *memory.Persona
	log      *transcript.Log
	cron     *cron.Scheduler
	tracer   trace.Tracer

	mu       sync.Mutex
	history  map[string][]engine.Message
	inFlight map[string]bool
}

// Deps collects the handler's collaborators.
type Deps struct {
	Config   *config.Config
	Engines  *engine.Set
	Registry *tools.Registry
	Gate     *tools.Gate
	Lanes    *scheduler.Lanes
	Heavy    *scheduler.HeavyQueue
	Heart    *heartbeat.Manager
	Events   bus.Publisher
	Core     *memory.CoreMemory
	Archive  *memory.Archival
	AutoRAG  *memory.AutoRAG
	Persona  *memory.Persona
	Log      *transcript.Log
	Cron     *cron.Scheduler
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:      d.Config,
		engines:  d.Engines,
		registry: d.Registry,
		gate:     d.Gate,
		lanes:    d.Lanes,
		heavy:    d.Heavy,
		hb:       d.Heart,
		events:   d.Events,
		core:     d.Core,
		archive:  d.Archive,
		rag:      d.AutoRAG,
		persona:  d.Persona,
		log:      d.Log,
		cron:     d.Cron,
		tracer:   otel.Tracer("warden/agent"),
		history:  make(map[string][]engine.Message),
		inFlight: make(map[string]bool),
	}
}

// SubmitChat admits a request to its lane in call order and returns a
// wait that blocks until it has run to completion. The gateway calls
// this inline from the read pump, so two rapid frames from one client
// execute in arrival order; only the wait leaves the pump.
func (h *Handler) SubmitChat(clientID string, p protocol.ChatRequestPayload) (wait func()) {
	if p.RequestID == "" {
		p.RequestID = uuid.NewString()[:8]
	}

	// Re-entry guard: a client resending the same requestId while it
	// is still running gets the duplicate dropped.
	h.mu.Lock()
	if h.inFlight[p.RequestID] {
		h.mu.Unlock()
		slog.Warn("duplicate request dropped", "request", p.RequestID)
		return func() {}
	}
	h.inFlight[p.RequestID] = true
	h.mu.Unlock()

	role := tools.RoleFor(clientID)
	lane := scheduler.SessionLane(clientID)
	if role == tools.RoleSystem || role == tools.RoleScheduled {
		lane = scheduler.MainLane
	}

	laneWait := h.lanes.Submit(lane, func(ctx context.Context) {
		defer func() {
			h.mu.Lock()
			delete(h.inFlight, p.RequestID)
			h.mu.Unlock()
		}()
		h.process(ctx, clientID, role, p.RequestID, p.Content)
	}, laneWarnAfter)

	return func() { laneWait(context.Background()) }
}

// HandleChat is SubmitChat plus the wait, for callers that want the
// request run to completion before returning (cron fires, the owner
// channel).
func (h *Handler) HandleChat(clientID string, p protocol.ChatRequestPayload) {
	h.SubmitChat(clientID, p)()
}

// HandleApproval applies a client decision to the gate and tells the
// other clients the prompt is settled.
func (h *Handler) HandleApproval(clientID string, p protocol.ApprovalResponsePayload) {
	if h.gate.Resolve(p.ApprovalID, tools.Decision(p.Decision), clientID) {
		h.events.Broadcast(protocol.New(protocol.TypeApprovalResolved, protocol.ApprovalResolvedPayload{
			ApprovalID: p.ApprovalID,
			Decision:   p.Decision,
			ResolvedBy: clientID,
		}))
	}
}

// HandleSystemCommand serves the small management surface.
func (h *Handler) HandleSystemCommand(_ string, p protocol.SystemCommandPayload) (interface{}, error) {
	switch p.Command {
	case "status":
		return h.hb.Snapshot(), nil
	case "config.get":
		return h.cfg.MaskedCopy(), nil
	case "memory.categories":
		if h.archive == nil {
			return []memory.CategoryEntry{}, nil
		}
		return h.archive.Map().Categories(), nil
	case "cron.list":
		if h.cron == nil {
			return []cron.Job{}, nil
		}
		return h.cron.List(), nil
	case "cron.remove":
		if h.cron == nil {
			return nil, fmt.Errorf("scheduler not available")
		}
		id, _ := p.Args["id"].(string)
		if err := h.cron.Remove(id); err != nil {
			return nil, err
		}
		return map[string]string{"removed": id}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", p.Command)
	}
}

func (h *Handler) process(ctx context.Context, clientID string, role tools.Role, requestID, content string) {
	ctx, span := h.tracer.Start(ctx, "chat.request")
	defer span.End()

	h.hb.Transition(heartbeat.StateThinking)
	defer h.hb.Transition(heartbeat.StateIdle)

	h.log.User(content, requestID)

	hint, stripped := router.ParseHint(content)
	augmented := h.rag.Augment(ctx, stripped)

	prior := h.priorContents(clientID, 4)
	score := router.Score(stripped, prior)
	engines, _, _ := h.cfg.Snapshot()
	avail := router.Availability{
		Live:   engines.Live.IsEnabled() && h.engines.Live != nil,
		Worker: engines.Worker.IsEnabled() && h.engines.Worker != nil,
		Cloud:  engines.Cloud.IsEnabled() && h.engines.Cloud != nil,
	}
	target := router.Decide(score, role, hint, avail)
	slog.Info("request routed", "request", requestID, "score", score, "target", target)

	if target == router.TargetHeavy {
		h.delegateHeavy(clientID, requestID, augmented)
		return
	}

	eng := h.engines.ByKind(engine.Kind(target))
	if eng == nil {
		h.fail(requestID, "unknown", "no engine available for this request")
		return
	}

	msgs := append(h.snapshotHistory(clientID), engine.Message{Role: "user", Content: augmented})
	h.runEngineLoop(ctx, eng, clientID, role, requestID, msgs)
}

// delegateHeavy hands the request to the worker queue and acks the
// client immediately; the result arrives later as an out-of-band
// broadcast.
func (h *Handler) delegateHeavy(clientID, requestID, prompt string) {
	task := &scheduler.Task{
		Type:        scheduler.TaskDeepAnalysis,
		Description: "delegated chat request " + requestID,
		Prompt:      prompt,
	}
	task.OnComplete = func(result string) {
		h.log.System("background task " + task.ID + " completed")
		h.events.Broadcast(protocol.New(protocol.TypeWorkerTaskCompleted, protocol.WorkerTaskPayload{
			TaskID:   task.ID,
			TaskType: task.Type,
			Result:   result,
		}))
	}
	task.OnFailure = func(err error) {
		h.events.Broadcast(protocol.New(protocol.TypeWorkerTaskFailed, protocol.WorkerTaskPayload{
			TaskID:   task.ID,
			TaskType: task.Type,
			Error:    err.Error(),
		}))
	}
	taskID := h.heavy.Enqueue(task)
	h.events.Broadcast(protocol.New(protocol.TypeLog, protocol.LogPayload{
		Level:   "info",
		Message: "Delegated to Worker Engine (background task " + taskID + ")",
	}))

	ack := fmt.Sprintf("delegated to Worker Engine, background task %s", taskID)
	h.events.Broadcast(protocol.New(protocol.TypeChatStreamChunk, protocol.ChunkPayload{RequestID: requestID, Text: ack}))
	h.events.Broadcast(protocol.New(protocol.TypeChatStreamDone, protocol.DonePayload{RequestID: requestID, Tier: "worker"}))
	h.log.Assistant(ack, requestID, "worker", "", 0, 0)
}

// runEngineLoop streams the engine and feeds tool results back until a
// final text answer, an error, or the iteration cap.
func (h *Handler) runEngineLoop(ctx context.Context, eng engine.Engine, clientID string, role tools.Role, requestID string, msgs []engine.Message) {
	desc := eng.Descriptor()
	systemPrompt := buildSystemPrompt(h.personaText(), h.core.Read(), string(role))
	toolDefs := h.registry.EffectiveFor(role)
	detector := tools.NewDetector()

	compacted := false
	var assistantText string

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		// Pre-flight budget check; one compaction attempt, then block.
		verdict := contextguard.Check(desc.Model, systemPrompt, msgs)
		if verdict.Action == contextguard.ActionBlock || verdict.Action == contextguard.ActionCompact {
			if compacted {
				if verdict.Action == contextguard.ActionBlock {
					h.fail(requestID, "context-overflow", "context window exhausted even after compaction")
					return
				}
			} else {
				pu, pm := contextguard.Pressure(verdict)
				msgs = contextguard.Compact(ctx, msgs, pu, pm, h.summarizer())
				compacted = true
				verdict = contextguard.Check(desc.Model, systemPrompt, msgs)
				if verdict.Action == contextguard.ActionBlock {
					h.fail(requestID, "context-overflow", "context window exhausted even after compaction")
					return
				}
			}
		}

		events, err := eng.Stream(ctx, engine.Request{System: systemPrompt, Messages: msgs, Tools: toolDefs})
		if err != nil {
			h.fail(requestID, string(engine.ErrUnknown), err.Error())
			return
		}

		var calls []engine.ToolCall
		var done *engine.Event
		var streamErr *engine.Event

		for ev := range events {
			switch ev.Type {
			case engine.EventChunk:
				assistantText += ev.Text
				h.events.Broadcast(protocol.New(protocol.TypeChatStreamChunk, protocol.ChunkPayload{RequestID: requestID, Text: ev.Text}))
			case engine.EventToolCall:
				calls = append(calls, ev.Call)
			case engine.EventDone:
				ev := ev
				done = &ev
			case engine.EventError:
				ev := ev
				streamErr = &ev
			}
		}

		if streamErr != nil {
			if streamErr.Kind == engine.ErrContextOverflow && !compacted {
				// One retry after compaction; anything else is fatal.
				verdict := contextguard.Check(desc.Model, systemPrompt, msgs)
				pu, pm := contextguard.Pressure(verdict)
				msgs = contextguard.Compact(ctx, msgs, pu, pm, h.summarizer())
				compacted = true
				// Partial output from the failed stream is not part of
				// the retried turn.
				assistantText = ""
				continue
			}
			h.log.Error(streamErr.Message, requestID)
			h.fail(requestID, string(streamErr.Kind), streamErr.Message)
			return
		}

		if len(calls) == 0 {
			// Final answer.
			tier, model, in, out := string(desc.Kind), desc.Model, 0, 0
			if done != nil {
				in, out = done.TokensIn, done.TokensOut
			}
			h.events.Broadcast(protocol.New(protocol.TypeChatStreamDone, protocol.DonePayload{
				RequestID: requestID, Tier: tier, Model: model, TokensIn: in, TokensOut: out,
			}))
			h.log.Assistant(assistantText, requestID, tier, model, in, out)

			msgs = append(msgs, engine.Message{Role: "assistant", Content: assistantText})
			h.storeHistory(clientID, msgs)
			return
		}

		// Tool round: run every requested call, then loop.
		msgs = append(msgs, engine.Message{Role: "assistant", Content: assistantText, ToolCalls: calls})
		assistantText = ""
		for _, call := range calls {
			result := h.runTool(ctx, clientID, role, requestID, detector, call)
			msgs = append(msgs, engine.Message{Role: "tool", Content: result.ForLLM, ToolCallID: call.ID})
		}
	}

	h.fail(requestID, "unknown", fmt.Sprintf("request exceeded %d tool iterations", maxToolIterations))
}

// runTool is the per-call pipeline: policy, loop detection, approval,
// execution, accounting.
func (h *Handler) runTool(ctx context.Context, clientID string, role tools.Role, requestID string, detector *tools.Detector, call engine.ToolCall) *tools.Result {
	ctx, span := h.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	h.events.Broadcast(protocol.New(protocol.TypeChatToolCall, protocol.ToolCallPayload{
		RequestID: requestID, Name: call.Name, CallID: call.ID,
	}))
	h.hb.Transition(heartbeat.StateExecuting)
	defer h.hb.Transition(heartbeat.StateThinking)

	argsJSON, _ := json.Marshal(call.Args)
	h.log.ToolCall(call.Name, string(argsJSON), requestID)

	start := time.Now()
	result := h.executeGated(ctx, clientID, role, detector, call)

	resultHash := tools.HashResult(result.ForLLM)
	detector.Record(call.Name, tools.ArgsHash(call.Name, call.Args), resultHash)

	h.log.ToolResult(call.Name, result.ForLLM, requestID, !result.IsError, time.Since(start).Milliseconds())
	h.events.Broadcast(protocol.New(protocol.TypeChatToolResult, protocol.ToolResultPayload{
		RequestID: requestID, Name: call.Name, CallID: call.ID,
		IsError: result.IsError, DurationMs: time.Since(start).Milliseconds(),
	}))
	return result
}

func (h *Handler) executeGated(ctx context.Context, clientID string, role tools.Role, detector *tools.Detector, call engine.ToolCall) *tools.Result {
	tool, ok := h.registry.Get(call.Name)
	if !ok {
		return tools.ErrorResult(fmt.Sprintf("unknown tool %q", call.Name))
	}
	if !tools.EvaluatePolicy(tool, role) {
		return tools.ErrorResult(tools.PolicyError)
	}

	verdict := detector.Check(call.Name, tools.ArgsHash(call.Name, call.Args))
	if verdict.Abort {
		return tools.ErrorResult("loop detected: " + verdict.Reason + "; stop repeating this call and change approach")
	}

	if tool.NeedsApproval() && !h.approved(ctx, tool, call) {
		return tools.ErrorResult(tools.DeniedError)
	}

	_, _, godMode := h.cfg.Snapshot()
	ec := &tools.ExecContext{
		ClientID:   clientID,
		SenderRole: role,
		Broadcast:  h.events,
		GodMode:    godMode,
	}
	result := tool.Execute(ctx, call.Args, ec)
	if result == nil {
		result = tools.ErrorResult("tool returned no result")
	}
	if verdict.Warn {
		result.ForLLM = "[warning: " + verdict.Reason + "]\n" + result.ForLLM
	}
	return result
}

// approved runs the human-in-the-loop gate. godMode waves destructive
// tools through; intrusive ones always ask.
func (h *Handler) approved(ctx context.Context, tool *tools.Tool, call engine.ToolCall) bool {
	if _, _, godMode := h.cfg.Snapshot(); godMode && tool.Destructive && !tool.Intrusive {
		return true
	}
	if h.gate.AllowedAlways(tool.Name) {
		return true
	}

	reason := "destructive"
	if tool.Intrusive {
		reason = "intrusive"
	}
	rec := h.gate.Register(h.gate.Create(tool.Name, tool.Description, reason, call.Args, tools.DefaultApprovalTimeout, ""))
	h.events.Broadcast(protocol.New(protocol.TypeApprovalRequest, protocol.ApprovalRequestPayload{
		ApprovalID:  rec.ID,
		ToolName:    rec.ToolName,
		Description: rec.Description,
		Reason:      rec.Reason,
		Args:        rec.Args,
		ExpiresAtMs: rec.ExpiresAt.UnixMilli(),
	}))

	h.hb.Transition(heartbeat.StateBlocked)
	decision := h.gate.AwaitDecision(ctx, rec.ID)
	h.hb.Transition(heartbeat.StateExecuting)

	switch decision {
	case tools.DecisionAllowOnce:
		// Atomic consume: a replayed approval id cannot run twice.
		return h.gate.ConsumeAllowOnce(rec.ID)
	case tools.DecisionAllowAlways:
		return true
	default:
		return false
	}
}

// summarizer adapts the cheapest available engine to the compactor.
func (h *Handler) summarizer() contextguard.Summarizer {
	eng := h.engines.Live
	if eng == nil {
		eng = h.engines.Cloud
	}
	if eng == nil {
		return nil
	}
	return func(ctx context.Context, text string) (string, error) {
		events, err := eng.Stream(ctx, engine.Request{
			Messages: []engine.Message{{Role: "user", Content: text}},
		})
		if err != nil {
			return "", err
		}
		var out string
		for ev := range events {
			switch ev.Type {
			case engine.EventChunk:
				out += ev.Text
			case engine.EventError:
				return "", fmt.Errorf("%s", ev.Message)
			}
		}
		return out, nil
	}
}

func (h *Handler) fail(requestID, kind, message string) {
	h.events.Broadcast(protocol.New(protocol.TypeChatError, protocol.ErrorPayload{
		RequestID: requestID,
		Kind:      kind,
		Message:   message,
	}))
}

func (h *Handler) personaText() string {
	if h.persona == nil {
		return ""
	}
	return h.persona.Read()
}

func (h *Handler) snapshotHistory(clientID string) []engine.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.Message(nil), h.history[clientID]...)
}

func (h *Handler) storeHistory(clientID string, msgs []engine.Message) {
	if len(msgs) > historyCap {
		msgs = msgs[len(msgs)-historyCap:]
	}
	h.mu.Lock()
	h.history[clientID] = msgs
	h.mu.Unlock()
}

// priorContents returns the last n user/assistant texts for scoring.
func (h *Handler) priorContents(clientID string, n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	hist := h.history[clientID]
	var out []string
	for i := len(hist) - 1; i >= 0 && len(out) < n; i-- {
		if hist[i].Content != "" {
			out = append(out, hist[i].Content)
		}
	}
	return out
}
