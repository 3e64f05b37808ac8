package booking

import "strings"

type Room struct {
	Name string `json:"name"`
}

// DefaultRooms is the catalog used when none is configured.
var DefaultRooms = []string{"Room 1", "Room 2", "Room 3"}

// Catalog is the fixed set of bookable rooms in canonical order.
type Catalog struct {
	rooms []Room
	index map[string]struct{}
}

// NewCatalog keeps the given order, trimming names and skipping blanks and duplicates.
func NewCatalog(names ...string) Catalog {
	c := Catalog{index: make(map[string]struct{}, len(names))}

	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}

		if _, dup := c.index[n]; dup {
			continue
		}

		c.index[n] = struct{}{}
		c.rooms = append(c.rooms, Room{Name: n})
	}

	return c
}

func DefaultCatalog() Catalog { return NewCatalog(DefaultRooms...) }

func (c Catalog) Rooms() []Room {
	return append([]Room(nil), c.rooms...)
}

func (c Catalog) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// FindFreeRooms returns the catalog rooms that no occupancy in existing
// overlaps p with, in catalog order. existing may hold any mix of rooms.
func (c Catalog) FindFreeRooms(existing []Occupancy, p Period) []Room {
	taken := make(map[string]struct{})

	for _, o := range existing {
		if o.Period.Overlaps(p) {
			taken[o.Room] = struct{}{}
		}
	}

	free := make([]Room, 0, len(c.rooms))

	for _, r := range c.rooms {
		if _, ok := taken[r.Name]; !ok {
			free = append(free, r)
		}
	}

	return free
}

// IsFree reports whether room is in the catalog and free for p.
func (c Catalog) IsFree(existing []Occupancy, room string, p Period) bool {
	for _, r := range c.FindFreeRooms(existing, p) {
		if r.Name == room {
			return true
		}
	}

	return false
}
