package core

// Group holds every open connection of one user.
type Group struct {
	Username string
	clients  map[*Client]struct{}
}

func newGroup(username string) *Group {
	return &Group{
		Username: username,
		clients:  make(map[*Client]struct{}),
	}
}

func (g *Group) add(c *Client) {
	g.clients[c] = struct{}{}
}

func (g *Group) remove(c *Client) {
	delete(g.clients, c)
}

func (g *Group) len() int {
	return len(g.clients)
}
