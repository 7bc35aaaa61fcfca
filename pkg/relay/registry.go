package relay

// roleRegistry tracks which connection is the device and which are
// viewers. A connection is in exactly one of unidentified, device, or
// viewer at any time. Callers hold the hub lock.
type roleRegistry struct {
	device  *Client
	viewers map[*Client]struct{}
}

func newRoleRegistry() *roleRegistry {
	return &roleRegistry{
		viewers: make(map[*Client]struct{}),
	}
}

// setDevice installs c as the device and returns the displaced one, if any.
func (r *roleRegistry) setDevice(c *Client) (old *Client) {
	old = r.device
	r.device = c

	return old
}

// removeDevice clears the device reference only if c still holds it, so a
// replaced device's late disconnect cannot evict its successor.
func (r *roleRegistry) removeDevice(c *Client) bool {
	if r.device != c {
		return false
	}

	r.device = nil

	return true
}

func (r *roleRegistry) addViewer(c *Client) {
	r.viewers[c] = struct{}{}
}

func (r *roleRegistry) removeViewer(c *Client) bool {
	if _, ok := r.viewers[c]; !ok {
		return false
	}

	delete(r.viewers, c)

	return true
}

func (r *roleRegistry) viewerCount() int {
	return len(r.viewers)
}
