package partitions

import (
	"fmt"
	"math"
)

// Partition is a group of items that execute together: the target DOFs owned
// by one rank, or the CSR rows handled by one OCCA @outer iteration
type Partition struct {
	// Unique identifier for this partition
	ID int

	// Item membership
	Members    []int // Global item indices in this partition, ascending
	NumMembers int   // Actual number of active items
	MaxMembers int   // Padded size for OCCA @inner loop uniformity

	Load int // Sum of item weights, NumMembers when unweighted
}

// PartitionLayout manages the complete decomposition
type PartitionLayout struct {
	// All partitions
	Partitions []Partition

	// Global sizing information
	KpartMax      int // max(NumMembers) across all partitions for OCCA
	TotalItems    int // Sum of all actual items across partitions
	NumPartitions int

	// Item to partition mapping
	Owner []int // Length TotalItems: item i belongs to partition Owner[i]
}

// GetPartition returns the partition containing item i, -1 when out of range
func (pl *PartitionLayout) GetPartition(item int) int {
	if item < 0 || item >= len(pl.Owner) {
		return -1
	}
	return pl.Owner[item]
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("have %d partitions, NumPartitions is %d", len(pl.Partitions), pl.NumPartitions)
	}
	if len(pl.Owner) != pl.TotalItems {
		return fmt.Errorf("owner map covers %d items, TotalItems is %d", len(pl.Owner), pl.TotalItems)
	}
	// Verify KpartMax
	actualMax, total := 0, 0
	for id, p := range pl.Partitions {
		if p.ID != id {
			return fmt.Errorf("partition at position %d has ID %d", id, p.ID)
		}
		if p.NumMembers != len(p.Members) {
			return fmt.Errorf("partition %d: NumMembers %d != len(Members) %d", p.ID, p.NumMembers, len(p.Members))
		}
		if p.MaxMembers != pl.KpartMax {
			return fmt.Errorf("partition %d: MaxMembers %d != KpartMax %d",
				p.ID, p.MaxMembers, pl.KpartMax)
		}
		for _, item := range p.Members {
			if pl.GetPartition(item) != p.ID {
				return fmt.Errorf("partition %d lists item %d owned by %d", p.ID, item, pl.GetPartition(item))
			}
		}
		actualMax = max(actualMax, p.NumMembers)
		total += p.NumMembers
	}
	if actualMax != pl.KpartMax {
		return fmt.Errorf("computed KpartMax %d != stored KpartMax %d",
			actualMax, pl.KpartMax)
	}
	if total != pl.TotalItems {
		return fmt.Errorf("partitions hold %d items, TotalItems is %d", total, pl.TotalItems)
	}
	return nil
}

// Order flattens the layout partition by partition. Partition p's items are
// order[offsets[p]:offsets[p+1]].
func (pl *PartitionLayout) Order() (order, offsets []int) {
	order = make([]int, 0, pl.TotalItems)
	offsets = make([]int, pl.NumPartitions+1)
	for i, p := range pl.Partitions {
		order = append(order, p.Members...)
		offsets[i+1] = len(order)
	}
	return order, offsets
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinMembers:    math.MaxInt,
	}
	totalLoad := 0
	for _, p := range pl.Partitions {
		stats.MinMembers = min(stats.MinMembers, p.NumMembers)
		stats.MaxMembers = max(stats.MaxMembers, p.NumMembers)
		stats.MaxLoad = max(stats.MaxLoad, p.Load)
		totalLoad += p.Load
	}
	if pl.NumPartitions == 0 {
		stats.MinMembers = 0
		return stats
	}
	stats.AvgMembers = float64(pl.TotalItems) / float64(pl.NumPartitions)
	stats.AvgLoad = float64(totalLoad) / float64(pl.NumPartitions)
	if stats.AvgLoad > 0 {
		stats.Imbalance = float64(stats.MaxLoad) / stats.AvgLoad
	}
	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinMembers    int
	MaxMembers    int
	AvgMembers    float64
	MaxLoad       int
	AvgLoad       float64
	Imbalance     float64 // MaxLoad / AvgLoad
}
