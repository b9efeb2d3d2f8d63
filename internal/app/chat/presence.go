package chat

import "fmt"

// Presence announces changes of the bound-identity set. Each change produces a system
// notice followed by a fresh online count, in that order.
type Presence struct {
	registry    *Registry
	broadcaster *Broadcaster
}

// NewPresence returns a Presence notifier.
func NewPresence(registry *Registry, broadcaster *Broadcaster) *Presence {
	return &Presence{registry: registry, broadcaster: broadcaster}
}

// Joined announces that identity started participating.
func (p *Presence) Joined(identity string) {
	p.announce(fmt.Sprintf(joinedText, identity))
}

// Left announces that identity disconnected.
func (p *Presence) Left(identity string) {
	p.announce(fmt.Sprintf(leftText, identity))
}

func (p *Presence) announce(text string) {
	p.broadcaster.BroadcastAll(NewSystem(text))
	p.broadcaster.BroadcastAll(NewOnlineCount(p.registry.OnlineCount()))
}
