package channels

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/Harryoung/efka-sub000/internal/models"
)

// Registry maps each enabled channel to its adapter
type Registry struct {
	adapters map[models.Channel]Adapter
}

// NewRegistry builds a registry; registering the same channel twice is an error
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[models.Channel]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if _, dup := r.adapters[a.Channel()]; dup {
			return nil, fmt.Errorf("channel %s registered twice", a.Channel())
		}
		r.adapters[a.Channel()] = a
		log.Printf("📡 [CHANNELS] %s adapter enabled", a.Channel())
	}
	return r, nil
}

// Get returns the adapter for a channel
func (r *Registry) Get(channel models.Channel) (Adapter, bool) {
	a, ok := r.adapters[channel]
	return a, ok
}

// Channels lists enabled channels in name order
func (r *Registry) Channels() []models.Channel {
	out := make([]models.Channel, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send delivers content through the channel's adapter
func (r *Registry) Send(ctx context.Context, channel models.Channel, userID, content string) (*models.SendResult, error) {
	a, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("channel %s is not enabled", channel)
	}
	return a.SendMessage(ctx, userID, content)
}
