// Package daemon assembles the Warden process: configuration, vault,
// memory, engines, tool catalogue, scheduler, gateway, and the agent
// handler, with one lifecycle for all of them.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/warden/internal/agent"
	"github.com/nextlevelbuilder/warden/internal/bus"
	"github.com/nextlevelbuilder/warden/internal/channels"
	"github.com/nextlevelbuilder/warden/internal/config"
	"github.com/nextlevelbuilder/warden/internal/cron"
	"github.com/nextlevelbuilder/warden/internal/engine"
	"github.com/nextlevelbuilder/warden/internal/forge"
	"github.com/nextlevelbuilder/warden/internal/gateway"
	"github.com/nextlevelbuilder/warden/internal/heartbeat"
	"github.com/nextlevelbuilder/warden/internal/memory"
	"github.com/nextlevelbuilder/warden/internal/scheduler"
	"github.com/nextlevelbuilder/warden/internal/tools"
	"github.com/nextlevelbuilder/warden/internal/transcript"
	"github.com/nextlevelbuilder/warden/internal/vault"
	"github.com/nextlevelbuilder/warden/pkg/protocol"
)

const (
	defaultEmbeddingModel    = "nomic-embed-text"
	defaultEmbeddingEndpoint = "http://localhost:11434/v1"

	shutdownTimeout = 10 * time.Second
)

// Options configures one daemon run.
type Options struct {
	ConfigPath string
	// Transport, when non-nil, is the external messaging bridge wired
	// behind the owner firewall.
	Transport channels.Transport
	Version   string
}

// Run starts the daemon and blocks until ctx is cancelled or the
// gateway fails. All components are torn down before it returns.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if !cfg.Initialised() {
		return fmt.Errorf("no engine configured: edit %s or set WARDEN_LIVE_MODEL", opts.ConfigPath)
	}

	stateDir := config.StateDir(cfg)
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}

	v, err := vault.Open(stateDir)
	if err != nil {
		return err
	}
	if err := v.AcquirePID(); err != nil {
		return err
	}
	defer v.ReleasePID()

	// Every decryptable credential is a redaction target; transcripts
	// must never leak a key even if a tool echoes one.
	var secrets []string
	for name, cred := range cfg.Credentials {
		plain, err := v.Decrypt(cred)
		if err != nil {
			slog.Warn("credential not decryptable", "name", name, "error", err)
			continue
		}
		secrets = append(secrets, plain)
	}

	log, err := transcript.Open(stateDir, transcript.NewRedactor(secrets))
	if err != nil {
		return err
	}
	defer log.Close()

	engines, err := engine.Resolve(cfg, v)
	if err != nil {
		return err
	}

	core := memory.NewCore(stateDir)
	archive, err := memory.OpenArchival(stateDir, buildEmbedder(cfg, v))
	if err != nil {
		return fmt.Errorf("archival memory: %w", err)
	}
	defer archive.Close()

	events := bus.New()
	gate := tools.NewGate()
	registry := tools.NewRegistry()
	lanes := scheduler.NewLanes()
	heavy := scheduler.NewHeavyQueue(agent.NewHeavyExecutor(engines, core), 1)

	onCoreOverflow := func() {
		task := &scheduler.Task{Type: scheduler.TaskDistillMemory, Description: "core memory distillation"}
		task.OnComplete = func(result string) {
			if err := core.Replace(result); err != nil {
				slog.Error("distilled core memory write failed", "error", err)
				return
			}
			log.System("core memory distilled to fit size limit")
		}
		task.OnFailure = func(err error) {
			slog.Warn("core memory distillation failed", "error", err)
		}
		heavy.Enqueue(task)
	}

	tools.RegisterMemoryTools(registry, archive, core, onCoreOverflow)
	registry.Register(tools.NewShellTool())
	persona := memory.NewPersona(stateDir)
	registry.Register(tools.NewSetPersonaTool(persona))
	tools.RegisterExtensionTools(registry, cfg.Extensions)

	runner, err := forge.NewSubprocessRunner(stateDir)
	if err != nil {
		return err
	}
	forgeMgr, err := tools.NewForgeManager(stateDir, runner, registry)
	if err != nil {
		return err
	}
	registry.Register(tools.NewForgeTool(forgeMgr))

	// Handler and gateway reference each other through late-bound
	// closures: the cron scheduler and heartbeat probes capture
	// variables assigned below.
	var handler *agent.Handler
	var gw *gateway.Server

	cronSched, err := cron.New(stateDir, func(jobID, prompt string) {
		handler.HandleChat("scheduled-"+jobID, protocol.ChatRequestPayload{Content: prompt})
	})
	if err != nil {
		return err
	}
	registry.Register(tools.NewCronTool(cronSched))

	var ownerGate *channels.OwnerGate
	if opts.Transport != nil {
		_, owner, _ := cfg.Snapshot()
		ownerGate = channels.NewOwnerGate(opts.Transport, owner, func(clientID, content string) {
			handler.HandleChat(clientID, protocol.ChatRequestPayload{Content: content})
		})
		registry.Register(tools.NewSendOwnerMessageTool(ownerGate.SendToOwner))
	} else {
		registry.Register(tools.NewSendOwnerMessageTool(nil))
	}

	hb := heartbeat.NewManager(heartbeat.Probes{
		TaskCounts:       heavy.Counts,
		PendingApprovals: gate.Pending,
		ConnectedClients: func() int {
			if gw == nil {
				return 0
			}
			return gw.ClientCount()
		},
		Port: cfg.Gateway.Port,
	})

	handler = agent.NewHandler(agent.Deps{
		Config:   cfg,
		Engines:  engines,
		Registry: registry,
		Gate:     gate,
		Lanes:    lanes,
		Heavy:    heavy,
		Heart:    hb,
		Events:   events,
		Core:     core,
		Archive:  archive,
		AutoRAG:  memory.NewAutoRAG(archive),
		Persona:  persona,
		Log:      log,
		Cron:     cronSched,
	})
	gw = gateway.NewServer(cfg, events, handler)

	watcher := watchConfig(opts.ConfigPath, cfg)
	if watcher != nil {
		defer watcher.Close()
	}

	hb.Run(events)
	cronSched.Start(ctx)
	if ownerGate != nil {
		if err := ownerGate.Start(ctx); err != nil {
			return err
		}
	}

	slog.Info("warden up", "version", opts.Version, "state", stateDir,
		"session", log.SessionID(), "port", cfg.Gateway.Port, "pid", os.Getpid())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gw.Start)
	g.Go(func() error {
		<-gctx.Done()

		// Drain order: stop accepting lane work, let background tasks
		// finish their current item, close the external channel, then
		// the gateway.
		lanes.Shutdown()
		heavy.Shutdown()
		cronSched.Stop()
		hb.Stop()
		if ownerGate != nil {
			ownerGate.Stop()
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return gw.Stop(stopCtx)
	})
	return g.Wait()
}

// buildEmbedder resolves the archival embedding backend from config,
// defaulting to a local Ollama-style endpoint.
func buildEmbedder(cfg *config.Config, v *vault.Vault) memory.Embedder {
	mc := cfg.Memory
	endpoint := mc.EmbeddingEndpoint
	if endpoint == "" {
		endpoint = cfg.Engines.Live.Endpoint
	}
	if endpoint == "" {
		endpoint = defaultEmbeddingEndpoint
	}
	model := mc.EmbeddingModel
	if model == "" {
		model = defaultEmbeddingModel
	}
	apiKey := ""
	if mc.CredentialRef != "" {
		if cred, ok := cfg.Credentials[mc.CredentialRef]; ok {
			if plain, err := v.Decrypt(cred); err == nil {
				apiKey = plain
			}
		}
	}
	return memory.NewHTTPEmbedder(endpoint, apiKey, model)
}

// watchConfig hot-reloads the config file on change. Reload failures
// keep the previous config.
func watchConfig(path string, cfg *config.Config) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watch unavailable", "error", err)
		return nil
	}
	if err := watcher.Add(path); err != nil {
		// Missing file: nothing to watch until it exists.
		slog.Warn("config watch failed", "path", path, "error", err)
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				fresh, err := config.Load(path)
				if err != nil {
					slog.Warn("config reload failed", "error", err)
					continue
				}
				cfg.ReplaceFrom(fresh)
				slog.Info("config reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
	return watcher
}
