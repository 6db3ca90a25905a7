// Package broker wires every collaborator (PathSandbox, EncodingCodec,
// ExternalChangeTracker, TransactionJournal, per-file lock map,
// LineAccessTokens, SymbolProviderAdapter) into one long-lived
// [Context] and implements Operations (spec.md §4.H) as methods on it.
//
// Grounded on spec.md §9's "Global mutable state → explicit long-lived
// components passed by reference" design note: components that would be
// singletons are instead fields of a [Context] constructed once and
// threaded into every call, never package-level state.
package broker

import (
	"path/filepath"
	"time"

	"github.com/agentfs/broker/internal/config"
	"github.com/agentfs/broker/internal/journal"
	"github.com/agentfs/broker/internal/lockmap"
	"github.com/agentfs/broker/internal/symbols"
	"github.com/agentfs/broker/internal/tracker"
	"github.com/agentfs/broker/pkg/codec"
	"github.com/agentfs/broker/pkg/fsx"
	"github.com/agentfs/broker/pkg/sandbox"
	"github.com/agentfs/broker/pkg/tokens"
)

// Context is the broker's single long-lived object, constructed once at
// startup. Every [Operations]-style method hangs off it; tests
// instantiate a fresh Context per case (spec.md §9).
type Context struct {
	Config  config.BrokerConfig
	FS      fsx.FS
	Sandbox *sandbox.Sandbox
	Codec   *codec.Codec
	Writer  *fsx.AtomicWriter
	Tracker *tracker.Tracker
	Journal *journal.Journal
	Locks   *lockmap.Map
	Tokens  *tokens.Issuer
	Symbols *symbols.Cache

	// grepCache is the per-file match-count tracker Search/H.4 uses to
	// annotate list() output with [MATCHES: n].
	grepCache *grepMatchCache
}

// New wires a fresh [Context] from cfg, using the real filesystem.
func New(cfg config.BrokerConfig) (*Context, error) {
	return NewWithFS(cfg, fsx.NewReal())
}

// NewWithFS wires a fresh [Context] over a caller-supplied [fsx.FS], so
// tests can substitute an in-memory filesystem.
func NewWithFS(cfg config.BrokerConfig, fsys fsx.FS) (*Context, error) {
	sb, err := sandbox.New(fsys, cfg.Roots,
		sandbox.WithDefaultSizeLimit(cfg.SandboxSizeLimit()),
		sandbox.WithExtraProtectedNames(cfg.ExtraProtectedNames...),
	)
	if err != nil {
		return nil, err
	}

	issuer, err := tokens.NewIssuer()
	if err != nil {
		return nil, err
	}

	cd := codec.New(codec.WithLegacy8Bit(cfg.ResolveLegacyCharset()))

	return &Context{
		Config:    cfg,
		FS:        fsys,
		Sandbox:   sb,
		Codec:     cd,
		Writer:    fsx.NewAtomicWriter(fsys),
		Tracker:   tracker.New(),
		Journal:   journal.New(journal.NewFSApplier()),
		Locks:     lockmap.New(),
		Tokens:    issuer,
		Symbols:   symbols.NewCache(symbols.NewHeuristicProvider()),
		grepCache: newGrepMatchCache(),
	}, nil
}

// lockTimeout returns the configured per-file advisory lock timeout, or
// [lockmap.DefaultTimeout] if unset.
func (c *Context) lockTimeout() time.Duration {
	if c.Config.LockTimeoutMS <= 0 {
		return lockmap.DefaultTimeout
	}

	return time.Duration(c.Config.LockTimeoutMS) * time.Millisecond
}

// txDir returns the directory for txnID under the primary root's .nts/tx/
// layout (spec.md §6). Nothing in the broker calls it: the journal keeps
// backups in its Transactions' in-memory Entry values and writes nothing
// to this directory.
func (c *Context) txDir(txnID string) string {
	return filepath.Join(string(c.Sandbox.PrimaryRoot()), ".nts", "tx", txnID)
}
