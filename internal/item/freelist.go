package item

// FreeList is an intrusive doubly-linked stack of free chunks for one size
// class. Every operation assumes the caller already holds the allocator
// lock; FreeList does no locking of its own.
type FreeList struct {
	head *Header
	n    uint32
}

// Len reports the number of chunks currently on the list.
func (l *FreeList) Len() uint32 { return l.n }

// Push puts h at the head of the list and marks it Slabbed/FreeClass.
func (l *FreeList) Push(h *Header) {
	h.SetClassID(FreeClass)
	h.SetFlags(Slabbed)
	h.prevFree = nil
	h.nextFree = l.head
	if l.head != nil {
		l.head.prevFree = h
	}
	l.head = h
	l.n++
}

// Pop removes and returns the head of the list, or the zero Chunk and
// false if the list is empty.
func (l *FreeList) Pop() (Chunk, bool) {
	h := l.head
	if h == nil {
		return Chunk{}, false
	}
	l.head = h.nextFree
	if l.head != nil {
		l.head.prevFree = nil
	}
	h.prevFree, h.nextFree = nil, nil
	l.n--
	return h.Owner(), true
}

// Remove splices h out of the list, wherever it sits (head, tail, middle).
// The caller must already know h is on this list; Remove does not search.
func (l *FreeList) Remove(h *Header) {
	if h.prevFree != nil {
		h.prevFree.nextFree = h.nextFree
	} else {
		l.head = h.nextFree
	}
	if h.nextFree != nil {
		h.nextFree.prevFree = h.prevFree
	}
	h.prevFree, h.nextFree = nil, nil
	l.n--
}

// PushPageAscending splits a freshly carved page into chunks and pushes
// them onto the list in ascending address order, so the list head ends up
// at the lowest-indexed (lowest "address") chunk of the new page — matching
// split_slab_page_into_freelist's behavior in the original allocator.
func (l *FreeList) PushPageAscending(p *Page) {
	n := p.ChunksPerPage()
	for i := n; i > 0; i-- {
		l.Push(p.Chunk(i - 1).Header())
	}
}
