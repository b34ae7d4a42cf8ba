package dispatch

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// RewardStats keeps running counters over emitted reward records. The main
// loop logs a summary at every cycle rollover.
type RewardStats struct {
	emitted uint64
	fraud   uint64
	failed  uint64
	skipped uint64
}

func (s *RewardStats) CountEmitted() { atomic.AddUint64(&s.emitted, 1) }
func (s *RewardStats) CountFraud()   { atomic.AddUint64(&s.fraud, 1) }
func (s *RewardStats) CountFailed()  { atomic.AddUint64(&s.failed, 1) }
func (s *RewardStats) CountSkipped() { atomic.AddUint64(&s.skipped, 1) }

// LogSummary writes the counters and resets them.
func (s *RewardStats) LogSummary(logger log.Logger) {
	logger.Info("cycle reward summary",
		"emitted", atomic.SwapUint64(&s.emitted, 0),
		"fraud", atomic.SwapUint64(&s.fraud, 0),
		"failed", atomic.SwapUint64(&s.failed, 0),
		"skipped_busy", atomic.SwapUint64(&s.skipped, 0),
	)
}
