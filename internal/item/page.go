package item

// Page is one fixed-size slab: a contiguous payload region plus one Header
// per chunk. Keeping the header metadata in its own parallel slice (rather
// than punning it into the front of each chunk's bytes with unsafe.Pointer)
// is the safe-Go rendition of the original's raw pointer arithmetic that
// the design notes call for: a typed buffer indexed by chunk number.
type Page struct {
	payload   []byte
	headers   []Header
	chunkSize uint32
	class     uint8 // the class this page is currently carved for
}

// NewPage carves a fresh, all-free page of chunkSize-byte chunks for the
// given class out of block, a page-sized backing region obtained from a
// Provider. block is zeroed by the caller (or is fresh heap memory, which
// Go already zeroes) before a page is split into a free list. Any tail of
// block beyond chunkSize*chunksPerPage bytes is left unused, matching the
// original's own truncation when PAGE_SIZE isn't an exact multiple of the
// chunk size.
func NewPage(class uint8, chunkSize uint32, chunksPerPage uint32, block []byte) *Page {
	p := &Page{
		payload:   block[:uint64(chunkSize)*uint64(chunksPerPage)],
		headers:   make([]Header, chunksPerPage),
		chunkSize: chunkSize,
		class:     class,
	}
	for i := range p.headers {
		p.headers[i].Reset()
		p.headers[i].owner = p
		p.headers[i].index = uint32(i)
	}
	return p
}

// Class reports the size class this page's chunks currently belong to.
func (p *Page) Class() uint8 { return p.class }

// Block returns the full page-sized backing region this page was carved
// from, for handing back to a Provider on release.
func (p *Page) Block() []byte { return p.payload[:cap(p.payload)] }

// Rebind re-carves an already-allocated page for a new class: zeroes the
// payload and resets every header, without requesting fresh memory from
// the backing provider. Used by FINISH when a page moves between classes.
func (p *Page) Rebind(class uint8, chunkSize uint32, chunksPerPage uint32) {
	need := uint64(chunkSize) * uint64(chunksPerPage)
	full := p.payload[:cap(p.payload)]
	p.payload = full[:need]
	clear(p.payload)
	if uint32(len(p.headers)) != chunksPerPage {
		p.headers = make([]Header, chunksPerPage)
	}
	p.chunkSize = chunkSize
	p.class = class
	for i := range p.headers {
		p.headers[i].Reset()
		p.headers[i].owner = p
		p.headers[i].index = uint32(i)
	}
}

// ChunksPerPage returns how many chunks this page is currently split into.
func (p *Page) ChunksPerPage() uint32 { return uint32(len(p.headers)) }

// Chunk returns the handle for chunk i of this page.
func (p *Page) Chunk(i uint32) Chunk { return Chunk{page: p, index: i} }

// Chunk is a lightweight handle identifying one chunk within one page. It
// is the Go analogue of a raw pointer into slab memory: cheap to copy,
// safe to compare, and it carries no payload of its own.
type Chunk struct {
	page  *Page
	index uint32
}

// IsZero reports whether c is the zero Chunk (no page).
func (c Chunk) IsZero() bool { return c.page == nil }

// Header returns the chunk's header.
func (c Chunk) Header() *Header { return &c.page.headers[c.index] }

// Bytes returns the chunk's payload region (chunkSize bytes, the part a
// cache record's fields beyond Header would occupy).
func (c Chunk) Bytes() []byte {
	start := uint64(c.index) * uint64(c.page.chunkSize)
	return c.page.payload[start : start+uint64(c.page.chunkSize)]
}

// Page returns the page this chunk belongs to.
func (c Chunk) Page() *Page { return c.page }

// Owner returns the chunk handle that owns a given header, recovering the
// page/index pair stashed when the page was carved. This lets rebalance
// code walk headers by pointer and still reach their bytes/page.
func (h *Header) Owner() Chunk { return Chunk{page: h.owner, index: h.index} }
