package main

import (
	"github.com/FraMan97/kairos/internal/config"
	"github.com/FraMan97/kairos/internal/store"
	"github.com/FraMan97/kairos/internal/transfer"
)

// nextPriority mirrors TransferList.AddTransfer's placement rule
// against the persisted records for dir, without needing a live
// TransferList in this short-lived process: append goes one STEP past
// the current maximum; startFirst goes one STEP before the minimum.
func nextPriority(s *store.Store, dir transfer.Direction, startFirst bool) (int64, error) {
	all, err := s.LoadAll()
	if err != nil {
		return 0, err
	}
	have := false
	var minP, maxP int64
	for _, t := range all {
		if t.Direction != dir {
			continue
		}
		if !have {
			minP, maxP, have = t.Priority, t.Priority, true
			continue
		}
		if t.Priority < minP {
			minP = t.Priority
		}
		if t.Priority > maxP {
			maxP = t.Priority
		}
	}
	if !have {
		return config.STEP, nil
	}
	if startFirst {
		return minP - config.STEP, nil
	}
	return maxP + config.STEP, nil
}
