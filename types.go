package workerpool

import (
	"github.com/wagiedev/workerpool-go/internal/channel"
	"github.com/wagiedev/workerpool-go/internal/config"
	"github.com/wagiedev/workerpool-go/internal/message"
	"github.com/wagiedev/workerpool-go/internal/pool"
	"github.com/wagiedev/workerpool-go/internal/subprocess"
	"github.com/wagiedev/workerpool-go/internal/worker"
)

// Re-export types from internal packages

// ===== Options and Configuration =====

// Options configures a worker pool.
type Options = config.Options

// CommandConfig describes the worker binary started by Command.
type CommandConfig = subprocess.Config

// ===== Interfaces =====

// Interface is a set of methods offered to the other side.
type Interface = channel.Interface

// Method is one method of an Interface.
type Method = channel.Method

// Request is an inbound call handed to a Method.
type Request = channel.Request

// Result is the raw outcome of a call.
type Result = channel.Result

// Func calls one remote method.
type Func = channel.Func

// Remote is the interface the parent offers to a worker.
type Remote = channel.Remote

// Handle is a native resource passed beside a message.
type Handle = message.Handle

// ===== Processes =====

// Native is a spawned child process as seen by the pool.
type Native = worker.Native

// Link is a message stream to the other side of a process boundary.
type Link = worker.Link

// ForkFunc starts a new worker process.
type ForkFunc = pool.ForkFunc

// Parent is a worker's connection to the pool that started it.
type Parent = worker.Parent

// ===== Pool =====

// Pool runs calls on a dynamic set of worker processes.
type Pool = pool.Pool

// PoolRemote is the pool's combined worker interface.
type PoolRemote = pool.Remote

// Stats is a snapshot of a pool's load.
type Stats = pool.Stats

// Event is published to pool subscribers.
type Event = pool.Event

// EventType names a pool event.
type EventType = pool.EventType

const (
	// EventQueueLength fires whenever the pool stops draining its queue.
	EventQueueLength = pool.EventQueueLength
	// EventShutdown fires once when the pool shuts down.
	EventShutdown = pool.EventShutdown
)
