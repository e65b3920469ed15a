package credstore

// storeHandle is the handle value shared by all backends in this package.
// Revisions only count saves within the current process; a restarted agent
// begins again at revision zero.
type storeHandle struct {
	rev uint64
}

// Revision returns the number of successful saves behind this handle.
func (h storeHandle) Revision() uint64 {
	return h.rev
}

func nextHandle(h interface{ Revision() uint64 }) storeHandle {
	if h == nil {
		return storeHandle{rev: 1}
	}
	return storeHandle{rev: h.Revision() + 1}
}
