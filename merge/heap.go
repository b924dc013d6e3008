package merge

import (
	"github.com/danthegoodman1/icescan/table"
)

type heapItem struct {
	row     table.Row
	session int
}

// rowHeap orders pending rows by primary key, then by session so equal keys
// come out in session order.
type rowHeap struct {
	key   []int
	items []heapItem
}

func (h *rowHeap) Len() int { return len(h.items) }
func (h *rowHeap) Less(i, j int) bool {
	if c := table.CompareKeys(h.items[i].row, h.items[j].row, h.key); c != 0 {
		return c < 0
	}
	return h.items[i].session < h.items[j].session
}
func (h *rowHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rowHeap) Push(x any)    { h.items = append(h.items, x.(heapItem)) }
func (h *rowHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}
