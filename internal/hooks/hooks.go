package hooks

import (
	"flag"

	"github.com/QuadTriangle/wsbridge/internal/types"
)

// --- Hook interfaces ---

// SessionHook observes session lifecycle events.
type SessionHook interface {
	// OnAccept fires when a client connection is accepted, before the
	// handshake runs.
	OnAccept(sid, clientAddr string)
	// OnHandshakeRejected fires when the Upgrade request is invalid and the
	// session terminates without WebSocket framing.
	OnHandshakeRejected(sid, clientAddr string, err error)
	// OnRelaying fires once the handshake succeeded and the upstream
	// connection is established.
	OnRelaying(sid string)
	// OnClosed fires exactly once per accepted session, with the final
	// reason and the bytes relayed in each direction.
	OnClosed(sid string, reason types.CloseReason, bytesIn, bytesOut int64)
}

// NoOpSessionHook is a convenience embed for hooks that only need one method.
type NoOpSessionHook struct{}

func (NoOpSessionHook) OnAccept(_, _ string)                               {}
func (NoOpSessionHook) OnHandshakeRejected(_, _ string, _ error)           {}
func (NoOpSessionHook) OnRelaying(_ string)                                {}
func (NoOpSessionHook) OnClosed(_ string, _ types.CloseReason, _, _ int64) {}

// --- Plugin interface ---

// Plugin is the self-contained unit of optional functionality.
// Each plugin registers its own CLI flags, decides if it's active,
// and provides hooks.
type Plugin interface {
	// Name returns a short identifier (e.g. "stats").
	Name() string
	// RegisterFlags is called before flag.Parse() — add your flags here.
	RegisterFlags(fs *flag.FlagSet)
	// Enabled returns true if the plugin should activate (check your flags).
	Enabled() bool
	// SessionHooks returns session hooks to add to the pipeline, or nil.
	SessionHooks() []SessionHook
}

// --- Pipeline ---

// Pipeline runs registered hooks in order. Zero-value is ready to use.
type Pipeline struct {
	plugins []Plugin
	hooks   []SessionHook
}

// RegisterPlugin adds a plugin. Call before flag.Parse().
func (p *Pipeline) RegisterPlugin(pl Plugin) {
	p.plugins = append(p.plugins, pl)
}

// RegisterFlags calls RegisterFlags on all plugins.
func (p *Pipeline) RegisterFlags(fs *flag.FlagSet) {
	for _, pl := range p.plugins {
		pl.RegisterFlags(fs)
	}
}

// Activate checks which plugins are enabled after flag.Parse(),
// and collects their hooks into the pipeline.
func (p *Pipeline) Activate() {
	for _, pl := range p.plugins {
		if !pl.Enabled() {
			continue
		}
		p.hooks = append(p.hooks, pl.SessionHooks()...)
	}
}

func (p *Pipeline) AddSessionHook(h SessionHook) { p.hooks = append(p.hooks, h) }

func (p *Pipeline) NotifyAccept(sid, clientAddr string) {
	for _, h := range p.hooks {
		h.OnAccept(sid, clientAddr)
	}
}

func (p *Pipeline) NotifyHandshakeRejected(sid, clientAddr string, err error) {
	for _, h := range p.hooks {
		h.OnHandshakeRejected(sid, clientAddr, err)
	}
}

func (p *Pipeline) NotifyRelaying(sid string) {
	for _, h := range p.hooks {
		h.OnRelaying(sid)
	}
}

func (p *Pipeline) NotifyClosed(sid string, reason types.CloseReason, bytesIn, bytesOut int64) {
	for _, h := range p.hooks {
		h.OnClosed(sid, reason, bytesIn, bytesOut)
	}
}
