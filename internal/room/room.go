package room

// Which kind of room a key names. Document and call rooms with the same id
// are unrelated.
type Family uint8

const (
	// Document-editing rooms, keyed by document id
	Document Family = iota
	// Video call rooms, keyed by call-session id
	Call
)

func (f Family) String() string {
	switch f {
	case Document:
		return "document"
	case Call:
		return "call"
	default:
		return "unknown"
	}
}

func ParseFamily(s string) (Family, bool) {
	switch s {
	case "document":
		return Document, true
	case "call":
		return Call, true
	default:
		return 0, false
	}
}

// Identifies a room within a family
type Key struct {
	Family Family
	ID     string
}

func DocumentKey(id string) Key { return Key{Family: Document, ID: id} }

func CallKey(id string) Key { return Key{Family: Call, ID: id} }

// Per-membership data. Call rooms record who joined; document rooms leave it zero.
type Info struct {
	UserID   string
	UserName string
}

// Membership removed by LeaveAll
type Departure struct {
	Key  Key
	Info Info
}

// Registry maps rooms to their member sets and each member to the rooms it
// joined. It is owned by a single event loop and does no locking.
type Registry[M comparable] struct {
	rooms       map[Key]map[M]Info
	memberships map[M]map[Key]struct{}
}

func NewRegistry[M comparable]() *Registry[M] {
	return &Registry[M]{
		rooms:       make(map[Key]map[M]Info),
		memberships: make(map[M]map[Key]struct{}),
	}
}

// Adds member to the room, creating the room if absent. Rejoining only
// refreshes info. Reports whether the member is new to the room.
func (r *Registry[M]) Join(key Key, member M, info Info) bool {
	members, ok := r.rooms[key]
	if !ok {
		members = make(map[M]Info)
		r.rooms[key] = members
	}
	_, existed := members[member]
	members[member] = info

	joined, ok := r.memberships[member]
	if !ok {
		joined = make(map[Key]struct{})
		r.memberships[member] = joined
	}
	joined[key] = struct{}{}

	return !existed
}

// Removes member from the room and drops the room once empty
func (r *Registry[M]) Leave(key Key, member M) bool {
	members, ok := r.rooms[key]
	if !ok {
		return false
	}
	if _, ok := members[member]; !ok {
		return false
	}

	delete(members, member)
	if len(members) == 0 {
		delete(r.rooms, key)
	}

	if joined, ok := r.memberships[member]; ok {
		delete(joined, key)
		if len(joined) == 0 {
			delete(r.memberships, member)
		}
	}
	return true
}

// Removes member from every room it joined
func (r *Registry[M]) LeaveAll(member M) []Departure {
	joined := r.memberships[member]
	departures := make([]Departure, 0, len(joined))
	for key := range joined {
		departures = append(departures, Departure{Key: key, Info: r.rooms[key][member]})
	}
	for _, d := range departures {
		r.Leave(d.Key, member)
	}
	return departures
}

// Members of the room, in no particular order
func (r *Registry[M]) Members(key Key) []M {
	members := r.rooms[key]
	out := make([]M, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}

// Members of the room other than sender
func (r *Registry[M]) Peers(key Key, sender M) []M {
	members := r.rooms[key]
	out := make([]M, 0, len(members))
	for m := range members {
		if m != sender {
			out = append(out, m)
		}
	}
	return out
}

func (r *Registry[M]) IsMember(key Key, member M) bool {
	_, ok := r.rooms[key][member]
	return ok
}

// Rooms the member currently belongs to within a family
func (r *Registry[M]) RoomsOf(member M, family Family) []Key {
	var keys []Key
	for key := range r.memberships[member] {
		if key.Family == family {
			keys = append(keys, key)
		}
	}
	return keys
}

func (r *Registry[M]) RoomCount() int {
	return len(r.rooms)
}

// Member counts per active room
func (r *Registry[M]) Active() map[Key]int {
	active := make(map[Key]int, len(r.rooms))
	for key, members := range r.rooms {
		active[key] = len(members)
	}
	return active
}
