package ethereum

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// headWindow remembers the hashes of the last few delivered heights. It
// tells a replaced head apart from a lagging node repeating an old one:
// only a different hash at a remembered height counts as a reorg.
type headWindow struct {
	mu     sync.Mutex
	depth  uint64
	tip    uint64
	hashes map[uint64]common.Hash
}

func newHeadWindow(depth uint64) *headWindow {
	if depth == 0 {
		depth = 64
	}
	return &headWindow{depth: depth, hashes: make(map[uint64]common.Hash, depth)}
}

// observe records a header and returns whether to deliver it and, for a
// reorg, the lowest height it orphans.
func (w *headWindow) observe(number uint64, hash, parent common.Hash) (deliver bool, orphanedFrom uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if number > w.tip {
		if prev, ok := w.hashes[w.tip]; ok && number == w.tip+1 &&
			parent != (common.Hash{}) && parent != prev {
			orphanedFrom = w.tip
		}
		w.tip = number
		w.hashes[number] = hash
		for n := range w.hashes {
			if n+w.depth <= number {
				delete(w.hashes, n)
			}
		}
		return true, orphanedFrom
	}

	seen, ok := w.hashes[number]
	if !ok || seen == hash {
		return false, 0
	}
	for n := number + 1; n <= w.tip; n++ {
		delete(w.hashes, n)
	}
	w.tip = number
	w.hashes[number] = hash
	return true, number
}

func (w *headWindow) head() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tip
}
