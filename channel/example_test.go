package channel_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/joeycumines/netreactor/buffer"
	"github.com/joeycumines/netreactor/channel"
	"github.com/joeycumines/netreactor/eventloop"
	"github.com/joeycumines/netreactor/pipeline"
)

type echoHandler struct{ pipeline.BaseHandler }

func (h *echoHandler) ChannelRead(ctx *pipeline.Context, msg any) {
	ctx.WriteAndFlush(msg)
}

type printingClientHandler struct {
	pipeline.BaseHandler
	done *sync.WaitGroup
}

func (h *printingClientHandler) ChannelActive(ctx *pipeline.Context) {
	buf := buffer.NewUnpooled(0, 64)
	buf.WriteString("hello reactor")
	ctx.WriteAndFlush(buf)
}

func (h *printingClientHandler) ChannelRead(ctx *pipeline.Context, msg any) {
	buf := msg.(*buffer.ByteBuf)
	fmt.Println(buf.ReadString(buf.ReadableBytes()))
	buf.Release()
	h.done.Done()
}

// Example_echo wires a Listener, an echo handler on every accepted
// connection, and a client channel that writes one message and prints
// the reply once it comes back — the end-to-end shape every other
// component in this module exists to support.
func Example_echo() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	group, err := eventloop.NewGroup(ctx, 2)
	if err != nil {
		fmt.Println(err)
		return
	}

	listener, err := channel.Listen(group, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, 128,
		channel.WithInitializer(func(ch *channel.Channel) {
			ch.Pipeline().AddLast("echo", &echoHandler{})
		}))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		fmt.Println("unexpected listener address type")
		return
	}

	var done sync.WaitGroup
	done.Add(1)

	loop := group.Next()
	client := channel.NewChannel(loop, channel.WithInitializer(func(ch *channel.Channel) {
		ch.Pipeline().AddLast("client", &printingClientHandler{done: &done})
	}))
	if err := group.RegisterOn(loop, client); err != nil {
		fmt.Println(err)
		return
	}

	if err := client.Connect(addr).Wait(ctx); err != nil {
		fmt.Println(err)
		return
	}

	done.Wait()

	// Output:
	// hello reactor
}
