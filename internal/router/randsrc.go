package router

import (
	"math/rand"
	"sync"
	"time"
)

var (
	isnMu sync.Mutex
	isnRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// randomISN picks a random initial sequence number for a freshly accepted
// TCP flow.
func randomISN() uint32 {
	isnMu.Lock()
	v := isnRng.Uint32()
	isnMu.Unlock()
	return v
}
