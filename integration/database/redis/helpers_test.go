package redis_test

import (
	"context"

	"github.com/dmitrymomot/fanout/core/channel"
)

type broadcasterFunc func(ch, text string)

func (f broadcasterFunc) Broadcast(_ context.Context, ch, text string, _ channel.Conn) channel.Result {
	f(ch, text)
	return channel.Result{Delivered: 1}
}
