// Package nodepool bounds how many decoded object-model nodes a single
// parse is allowed to allocate. A decoder fed a malicious or corrupt
// container header (for example a map32 header claiming four billion
// entries backed by four bytes of payload) must fail before it ever
// tries to allocate that many nodes; this package gives the decoder a
// single counter to check on every node it is about to create.
//
// Budget is spent one node at a time and recorded in fixed-size pages:
// each page is tagged with a UUID so a caller logging decoder activity
// can correlate "page N of this parse" across log lines without
// exposing the raw counter arithmetic.
package nodepool

import (
	"github.com/google/uuid"
)

// Page records one unit of budget consumption.
type Page struct {
	ID   uuid.UUID
	Size int
}

// Pool tracks the remaining node budget for a single decode operation.
// It is not safe for concurrent use; each parse owns one Pool.
type Pool struct {
	pageSize  int
	remaining int
	pages     []Page
}

// New returns a Pool that permits at most maxNodes total allocations,
// recorded in pages of pageSize nodes each.
func New(maxNodes, pageSize int) *Pool {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &Pool{pageSize: pageSize, remaining: maxNodes}
}

// Take reserves budget for one node, returning false if the pool is
// exhausted. The first Take (and every Take that crosses into a fresh
// page) appends a new Page record.
func (p *Pool) Take() bool {
	if p.remaining <= 0 {
		return false
	}
	if len(p.pages) == 0 || p.pages[len(p.pages)-1].Size >= p.pageSize {
		p.pages = append(p.pages, Page{ID: uuid.New()})
	}
	last := &p.pages[len(p.pages)-1]
	last.Size++
	p.remaining--
	return true
}

// Remaining reports how many more nodes may still be allocated.
func (p *Pool) Remaining() int {
	return p.remaining
}

// Pages returns the page ledger accumulated so far, for diagnostics.
func (p *Pool) Pages() []Page {
	return p.pages
}
