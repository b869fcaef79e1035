package realtime

// roomIndex maps rooms to their member clients. The hub guards it.
type roomIndex struct {
	byRoom map[string]map[string]*Client
}

func newRoomIndex() *roomIndex {
	return &roomIndex{byRoom: make(map[string]map[string]*Client)}
}

func (idx *roomIndex) add(room string, c *Client) {
	if idx.byRoom[room] == nil {
		idx.byRoom[room] = make(map[string]*Client)
	}
	idx.byRoom[room][c.ID] = c
}

func (idx *roomIndex) remove(room, clientID string) {
	if members, ok := idx.byRoom[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(idx.byRoom, room)
		}
	}
}

func (idx *roomIndex) members(room string) []*Client {
	members := idx.byRoom[room]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (idx *roomIndex) size(room string) int {
	return len(idx.byRoom[room])
}

func (idx *roomIndex) rooms() int {
	return len(idx.byRoom)
}
