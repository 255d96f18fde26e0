package ecs

import "sync"

// CommandBuffer queues structural changes recorded by system bodies. The
// scheduler applies a tick's buffer once every group has run.
type CommandBuffer struct {
	commands []Command
}

// NewCommandBuffer creates an empty buffer.
func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

// Len reports how many commands are queued.
func (b *CommandBuffer) Len() int {
	return len(b.commands)
}

// Push queues cmd. Nil commands are dropped.
func (b *CommandBuffer) Push(cmd Command) {
	if cmd != nil {
		b.commands = append(b.commands, cmd)
	}
}

// Drain hands back the queued commands and empties the buffer.
func (b *CommandBuffer) Drain() []Command {
	out := b.commands
	b.commands = nil
	return out
}

// Apply drains the buffer into world in push order.
func (b *CommandBuffer) Apply(world *World) error {
	return world.ApplyCommands(b.Drain())
}

// Mark records the queue length so a failed system's commands can be
// discarded with Rewind.
func (b *CommandBuffer) Mark() int {
	return len(b.commands)
}

// Rewind drops every command queued after mark.
func (b *CommandBuffer) Rewind(mark int) {
	if mark < 0 {
		mark = 0
	}
	if mark < len(b.commands) {
		clear(b.commands[mark:])
		b.commands = b.commands[:mark]
	}
}

// CommandBufferPool recycles per-tick buffers.
type CommandBufferPool struct {
	pool sync.Pool
}

func NewCommandBufferPool() *CommandBufferPool {
	p := &CommandBufferPool{}
	p.pool.New = func() any { return NewCommandBuffer() }
	return p
}

func (p *CommandBufferPool) Get() *CommandBuffer {
	return p.pool.Get().(*CommandBuffer)
}

// Put empties buf and returns it to the pool.
func (p *CommandBufferPool) Put(buf *CommandBuffer) {
	if buf == nil {
		return
	}
	buf.Drain()
	p.pool.Put(buf)
}
