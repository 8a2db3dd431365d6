package protocol

import (
	"github.com/dreamware/covered/internal/keyspace"
	"github.com/dreamware/covered/internal/popularity"
	"github.com/dreamware/covered/internal/reward"
	"github.com/dreamware/covered/internal/victim"
)

// VictimsFromSyncset converts a victim.Syncset to its wire shape.
func VictimsFromSyncset(ss victim.Syncset) []VictimEntry {
	if ss == nil {
		return nil
	}
	out := make([]VictimEntry, len(ss))
	for i, c := range ss {
		out[i] = VictimEntry{
			Key:       []byte(c.Key),
			Reward:    float64(c.Reward),
			LastVTime: c.LastVTime,
			SizeBytes: c.SizeBytes,
		}
	}
	return out
}

// SyncsetFromVictims converts a wire victim list back to a victim.Syncset.
func SyncsetFromVictims(entries []VictimEntry) victim.Syncset {
	if entries == nil {
		return nil
	}
	out := make(victim.Syncset, len(entries))
	for i, e := range entries {
		out[i] = victim.Cacheinfo{
			Key:       keyspace.Key(e.Key),
			Reward:    reward.Reward(e.Reward),
			LastVTime: e.LastVTime,
			SizeBytes: e.SizeBytes,
		}
	}
	return out
}

// CollectedFromPopularity converts popularity.CollectedPopularity to its
// wire shape.
func CollectedFromPopularity(cp popularity.CollectedPopularity) CollectedPopularity {
	return CollectedPopularity{
		IsTracked:               cp.IsTracked,
		LocalUncachedPopularity: float64(cp.LocalUncachedPopularity),
	}
}

// PopularityFromCollected converts a wire CollectedPopularity back.
func PopularityFromCollected(cp CollectedPopularity) popularity.CollectedPopularity {
	return popularity.CollectedPopularity{
		IsTracked:               cp.IsTracked,
		LocalUncachedPopularity: reward.Reward(cp.LocalUncachedPopularity),
	}
}
