package partitions

import (
	"fmt"
	"math"
	"strings"
)

// PartitionBuilder decomposes NumItems items into partitions
type PartitionBuilder struct {
	NumItems int
	// Weights is an optional per-item cost, e.g. the length of a CSR row
	Weights []int

	// Partitioning parameters. NumPartitions wins over TargetPartitionSize.
	NumPartitions       int
	TargetPartitionSize int     // Desired items per partition
	MaxImbalance        float64 // Acceptable MaxLoad/AvgLoad, 0 disables the check
	Strategy            PartitionStrategy
}

// PartitionStrategy defines how items are grouped
type PartitionStrategy int

const (
	BlockPartition    PartitionStrategy = iota // Consecutive items, counts differ by at most one
	RoundRobin                                 // Distribute cyclically
	WeightedPartition                          // Consecutive items, balanced by Weights
)

var strategyNames = map[PartitionStrategy]string{
	BlockPartition:    "block",
	RoundRobin:        "roundrobin",
	WeightedPartition: "weighted",
}

func (s PartitionStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// ParseStrategy maps a strategy name to its PartitionStrategy
func ParseStrategy(name string) (PartitionStrategy, error) {
	for s, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown partition strategy %q", name)
}

// BuildPartitions creates a partition layout
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.NumItems < 0 {
		return nil, fmt.Errorf("negative item count %d", pb.NumItems)
	}
	if pb.Weights != nil && len(pb.Weights) != pb.NumItems {
		return nil, fmt.Errorf("have %d weights for %d items", len(pb.Weights), pb.NumItems)
	}
	numPartitions, err := pb.calculateNumPartitions()
	if err != nil {
		return nil, err
	}

	owner := pb.partitionItems(numPartitions)
	partitions := pb.createPartitions(owner, numPartitions)

	// Calculate KpartMax for OCCA
	kpartMax := 0
	for _, p := range partitions {
		kpartMax = max(kpartMax, p.NumMembers)
	}
	for i := range partitions {
		partitions[i].MaxMembers = kpartMax
	}

	layout := &PartitionLayout{
		Partitions:    partitions,
		KpartMax:      kpartMax,
		TotalItems:    pb.NumItems,
		NumPartitions: numPartitions,
		Owner:         owner,
	}
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	if pb.MaxImbalance > 0 {
		if stats := layout.PartitionStatistics(); stats.Imbalance > pb.MaxImbalance {
			return nil, fmt.Errorf("%s partitioning imbalance %.3f exceeds %.3f",
				pb.Strategy, stats.Imbalance, pb.MaxImbalance)
		}
	}
	return layout, nil
}

func (pb *PartitionBuilder) calculateNumPartitions() (int, error) {
	switch {
	case pb.NumPartitions > 0:
		return pb.NumPartitions, nil
	case pb.TargetPartitionSize > 0:
		return max(1, int(math.Ceil(float64(pb.NumItems)/float64(pb.TargetPartitionSize)))), nil
	}
	return 0, fmt.Errorf("either NumPartitions or TargetPartitionSize must be positive")
}

func (pb *PartitionBuilder) weight(i int) int {
	if pb.Weights == nil {
		return 1
	}
	return pb.Weights[i]
}

// partitionItems assigns items to partitions
func (pb *PartitionBuilder) partitionItems(numPartitions int) []int {
	n := pb.NumItems
	owner := make([]int, n)

	switch pb.Strategy {
	case RoundRobin:
		for i := range owner {
			owner[i] = i % numPartitions
		}

	case WeightedPartition:
		total := 0
		for i := 0; i < n; i++ {
			total += pb.weight(i)
		}
		if total == 0 {
			return pb.partitionWithStrategy(BlockPartition, numPartitions)
		}
		// an item goes to the partition containing the midpoint of its load
		cum := 0
		for i := range owner {
			w := pb.weight(i)
			mid := float64(cum) + float64(w)/2
			owner[i] = min(numPartitions-1, int(mid*float64(numPartitions)/float64(total)))
			cum += w
		}

	default:
		// Partition p gets items [p*n/P, (p+1)*n/P)
		p := 0
		for i := range owner {
			for i >= (p+1)*n/numPartitions {
				p++
			}
			owner[i] = p
		}
	}
	return owner
}

// partitionWithStrategy applies a different strategy
func (pb *PartitionBuilder) partitionWithStrategy(strategy PartitionStrategy, numPartitions int) []int {
	oldStrategy := pb.Strategy
	pb.Strategy = strategy
	result := pb.partitionItems(numPartitions)
	pb.Strategy = oldStrategy
	return result
}

// createPartitions builds partition structures from item assignments
func (pb *PartitionBuilder) createPartitions(owner []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)
	for i := range partitions {
		partitions[i] = Partition{ID: i, Members: make([]int, 0)}
	}
	for item, part := range owner {
		partitions[part].Members = append(partitions[part].Members, item)
		partitions[part].NumMembers++
		partitions[part].Load += pb.weight(item)
	}
	return partitions
}
