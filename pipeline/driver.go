package pipeline

import "net"

// ChannelDriver is the minimal surface a Pipeline's head context needs
// from the channel that owns it, letting pipeline avoid importing the
// channel package (which itself imports pipeline to embed one) the
// same way eventloop.Registrant lets eventloop.Group avoid importing
// channel.
type ChannelDriver interface {
	DoBind(addr net.Addr, promise *Promise)
	DoConnect(addr net.Addr, promise *Promise)
	DoDisconnect(promise *Promise)
	DoClose(promise *Promise)
	DoDeregister(promise *Promise)
	DoRead()
	DoWrite(msg any, promise *Promise)
	DoFlush()
}
