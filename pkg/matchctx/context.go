// Package matchctx holds the state a matching run shares across every
// function-level and basic-block-level step: both sides' call graphs, the
// shared instruction cache, the growing fixed point registry, and the
// bounded-parallel dispatch helper steps use to process function pairs
// concurrently.
package matchctx

import (
	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/registry"
	"github.com/rs/zerolog"
)

// Context is shared, read-mostly state for one matching run. The only
// mutation that happens through it during matching is via Registry, which
// is already internally synchronized (pkg/registry.Registry), so Context
// itself needs no additional locking.
type Context struct {
	Primary   *graph.CallGraph
	Secondary *graph.CallGraph

	Cache    *graph.InstructionCache
	Registry *registry.Registry

	Log zerolog.Logger

	// Parallelism bounds the number of function pairs processed
	// concurrently; 0 means "use GOMAXPROCS" (see ForEachFunctionPair).
	Parallelism int
}

// New builds a Context for matching primary against secondary.
func New(primary, secondary *graph.CallGraph, log zerolog.Logger) *Context {
	return &Context{
		Primary:   primary,
		Secondary: secondary,
		Cache:     graph.NewInstructionCache(collisionLogger(log)),
		Registry:  registry.New(),
		Log:       log,
	}
}

func collisionLogger(log zerolog.Logger) func(prime uint32, have, got string) {
	return func(prime uint32, have, got string) {
		log.Info().
			Uint32("prime", prime).
			Str("have", have).
			Str("got", got).
			Msg("prime signature hash collision detected")
	}
}
