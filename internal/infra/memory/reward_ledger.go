package memory

import (
	"context"
	"sync"
)

// RewardLedger keeps reward point totals in process memory.
type RewardLedger struct {
	mu     sync.Mutex
	points map[string]int
}

func NewRewardLedger() *RewardLedger {
	return &RewardLedger{points: make(map[string]int)}
}

func (l *RewardLedger) Award(_ context.Context, username string, points int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.points[username] += points
	return nil
}

// Points returns the total awarded to username.
func (l *RewardLedger) Points(username string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.points[username]
}
