package queue

import "github.com/keshon/lavaplay/internal/music/player"

func queued(fn func(p *Player) bool) player.Precondition {
	return player.Func(func(c player.Controller) bool {
		p, ok := c.(*Player)
		return ok && fn(p)
	})
}

// Preconditions on queued players. They never hold for plain players.
var (
	QueueEmpty      = queued(func(p *Player) bool { return p.queue.IsEmpty() })
	QueueNotEmpty   = queued(func(p *Player) bool { return !p.queue.IsEmpty() })
	HistoryEmpty    = queued(func(p *Player) bool { return p.history.Len() == 0 })
	HistoryNotEmpty = queued(func(p *Player) bool { return p.history.Len() > 0 })
)
