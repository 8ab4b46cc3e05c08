package editor

import (
	"context"

	"github.com/euforicio/mdview/internal/notify"
)

// eventViewport forwards scroll and focus requests to the browser over the
// event stream.
type eventViewport struct {
	events notify.Publisher
}

func (v eventViewport) ScrollIntoView(ctx context.Context, id string, smooth bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	behavior := "instant"
	if smooth {
		behavior = "smooth"
	}
	v.events.Publish(notify.Event{
		Kind:    notify.KindScroll,
		Context: map[string]string{"id": id, "behavior": behavior},
	})
	return nil
}

func (v eventViewport) Focus(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.events.Publish(notify.Event{Kind: notify.KindFocus, Context: map[string]string{"id": id}})
	return nil
}
