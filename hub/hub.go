package hub

import (
	"log/slog"
	"sort"
	"sync"

	"roomrelay-server/domain"
)

type memberSet map[domain.ConnectionID]struct{}

// Directory maps room names to their members and keeps the reverse index
// needed to purge a connection from every room on disconnect.
type Directory struct {
	rooms  map[string]memberSet
	joined map[domain.ConnectionID]map[string]struct{}
	mu     sync.RWMutex
}

func NewDirectory() *Directory {
	return &Directory{
		rooms:  make(map[string]memberSet),
		joined: make(map[domain.ConnectionID]map[string]struct{}),
	}
}

func (d *Directory) Join(room string, id domain.ConnectionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, exists := d.rooms[room]
	if !exists {
		members = make(memberSet)
		d.rooms[room] = members
	}
	if _, already := members[id]; already {
		return false
	}
	members[id] = struct{}{}

	rooms, ok := d.joined[id]
	if !ok {
		rooms = make(map[string]struct{})
		d.joined[id] = rooms
	}
	rooms[room] = struct{}{}

	slog.Debug("room joined", "room", room, "clientId", id, "members", len(members))
	return true
}

func (d *Directory) Leave(room string, id domain.ConnectionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leaveLocked(room, id)
}

// LeaveAll removes id from every room and returns the rooms it left.
func (d *Directory) LeaveAll(id domain.ConnectionID) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	left := make([]string, 0, len(d.joined[id]))
	for room := range d.joined[id] {
		left = append(left, room)
	}
	for _, room := range left {
		d.leaveLocked(room, id)
	}
	sort.Strings(left)
	return left
}

func (d *Directory) leaveLocked(room string, id domain.ConnectionID) bool {
	members, exists := d.rooms[room]
	if !exists {
		return false
	}
	if _, ok := members[id]; !ok {
		return false
	}

	delete(members, id)
	if rooms, ok := d.joined[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(d.joined, id)
		}
	}

	if len(members) == 0 {
		delete(d.rooms, room)
		slog.Debug("room removed", "room", room)
	}
	return true
}

// Members returns a sorted copy of the room's member set.
func (d *Directory) Members(room string) []domain.ConnectionID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[room]
	out := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Directory) Rooms(id domain.ConnectionID) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.joined[id]))
	for room := range d.joined[id] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (d *Directory) Stats() (rooms, members int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms = len(d.rooms)
	for _, m := range d.rooms {
		members += len(m)
	}
	return rooms, members
}
