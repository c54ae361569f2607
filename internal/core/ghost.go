package core

import "time"

type ghostEntry struct {
	player  *Player
	expires time.Time
}

// ghostMap keeps disconnected players that still hold a game seat.
type ghostMap struct {
	entries map[string]*ghostEntry
}

func newGhostMap() *ghostMap {
	return &ghostMap{entries: make(map[string]*ghostEntry)}
}

func (g *ghostMap) len() int {
	return len(g.entries)
}

// add stores p until expires. When the map is at capacity the entry closest
// to expiry is evicted and returned.
func (g *ghostMap) add(p *Player, expires time.Time, capacity int) *Player {
	var evicted *Player
	if capacity > 0 && len(g.entries) >= capacity {
		var oldestKey string
		var oldest *ghostEntry
		for key, e := range g.entries {
			if oldest == nil || e.expires.Before(oldest.expires) {
				oldestKey, oldest = key, e
			}
		}
		if oldest != nil {
			delete(g.entries, oldestKey)
			evicted = oldest.player
		}
	}
	g.entries[nameKey(p.Name)] = &ghostEntry{player: p, expires: expires}
	return evicted
}

func (g *ghostMap) get(name string) *Player {
	if e, ok := g.entries[nameKey(name)]; ok {
		return e.player
	}
	return nil
}

func (g *ghostMap) take(name string) *Player {
	key := nameKey(name)
	e, ok := g.entries[key]
	if !ok {
		return nil
	}
	delete(g.entries, key)
	return e.player
}

func (g *ghostMap) remove(p *Player) {
	key := nameKey(p.Name)
	if e, ok := g.entries[key]; ok && e.player == p {
		delete(g.entries, key)
	}
}

// expired removes and returns ghosts whose grace ended at or before now.
func (g *ghostMap) expired(now time.Time) []*Player {
	var out []*Player
	for key, e := range g.entries {
		if !now.Before(e.expires) {
			out = append(out, e.player)
			delete(g.entries, key)
		}
	}
	return out
}

func (g *ghostMap) players() []*Player {
	out := make([]*Player, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e.player)
	}
	return out
}
