package pipeline

import "net"

// Handler is the capability set a user plugs into a Pipeline. Every
// entry point receives the Context it was invoked on. Implementations
// embed BaseHandler and override only the entry points they care
// about; unoverridden ones inherit BaseHandler's propagate-to-next
// default, matching "implementations choose which to override;
// defaults propagate to the next context in the appropriate
// direction."
type Handler interface {
	// HandlerAdded/HandlerRemoved run at most once each, in that
	// order, bracketing every event delivery to this handler.
	HandlerAdded(ctx *Context)
	HandlerRemoved(ctx *Context)

	// Inbound.
	ChannelRegistered(ctx *Context)
	ChannelActive(ctx *Context)
	// ChannelRead must either consume-and-release msg's references or
	// pass it on; the pipeline never auto-releases.
	ChannelRead(ctx *Context, msg any)
	ChannelReadComplete(ctx *Context)
	UserEventTriggered(ctx *Context, evt any)
	ChannelWritabilityChanged(ctx *Context)
	ChannelInactive(ctx *Context)
	ChannelUnregistered(ctx *Context)
	ExceptionCaught(ctx *Context, err error)

	// Outbound.
	Bind(ctx *Context, addr net.Addr, promise *Promise)
	Connect(ctx *Context, addr net.Addr, promise *Promise)
	Disconnect(ctx *Context, promise *Promise)
	Close(ctx *Context, promise *Promise)
	Deregister(ctx *Context, promise *Promise)
	Read(ctx *Context)
	// Write must either forward msg (retaining its reference
	// semantics) or terminally complete promise and release msg.
	Write(ctx *Context, msg any, promise *Promise)
	Flush(ctx *Context)

	// Sharable reports whether this handler may sit in more than one
	// pipeline at once. Non-sharable handlers assert single
	// membership on add.
	Sharable() bool
}

// BaseHandler is the no-op, propagate-everything-onward default every
// concrete Handler embeds, exactly as Netty's *ChannelHandlerAdapter
// types do.
type BaseHandler struct{}

func (BaseHandler) HandlerAdded(ctx *Context)   {}
func (BaseHandler) HandlerRemoved(ctx *Context) {}

func (BaseHandler) ChannelRegistered(ctx *Context)   { ctx.FireChannelRegistered() }
func (BaseHandler) ChannelActive(ctx *Context)       { ctx.FireChannelActive() }
func (BaseHandler) ChannelRead(ctx *Context, msg any) { ctx.FireChannelRead(msg) }
func (BaseHandler) ChannelReadComplete(ctx *Context)  { ctx.FireChannelReadComplete() }
func (BaseHandler) UserEventTriggered(ctx *Context, evt any) {
	ctx.FireUserEventTriggered(evt)
}
func (BaseHandler) ChannelWritabilityChanged(ctx *Context) { ctx.FireChannelWritabilityChanged() }
func (BaseHandler) ChannelInactive(ctx *Context)           { ctx.FireChannelInactive() }
func (BaseHandler) ChannelUnregistered(ctx *Context)       { ctx.FireChannelUnregistered() }
func (BaseHandler) ExceptionCaught(ctx *Context, err error) { ctx.FireExceptionCaught(err) }

func (BaseHandler) Bind(ctx *Context, addr net.Addr, promise *Promise) { ctx.Bind(addr, promise) }
func (BaseHandler) Connect(ctx *Context, addr net.Addr, promise *Promise) {
	ctx.Connect(addr, promise)
}
func (BaseHandler) Disconnect(ctx *Context, promise *Promise) { ctx.Disconnect(promise) }
func (BaseHandler) Close(ctx *Context, promise *Promise)      { ctx.Close(promise) }
func (BaseHandler) Deregister(ctx *Context, promise *Promise) { ctx.Deregister(promise) }
func (BaseHandler) Read(ctx *Context)                         { ctx.Read() }
func (BaseHandler) Write(ctx *Context, msg any, promise *Promise) {
	ctx.Write(msg, promise)
}
func (BaseHandler) Flush(ctx *Context) { ctx.Flush() }

// Sharable defaults to false: most handlers hold per-connection state
// and must not be added to more than one pipeline.
func (BaseHandler) Sharable() bool { return false }
