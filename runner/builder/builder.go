package builder

import (
	"fmt"
	"strings"
)

// DataType represents the precision of numerical data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
)

// SizeOf returns the size in bytes of a data type
func SizeOf(dt DataType) int64 {
	switch dt {
	case Float32, INT32:
		return 4
	default:
		return 8
	}
}

// TypeName returns the C type name for a data type
func TypeName(dt DataType) string {
	switch dt {
	case Float32:
		return "float"
	case INT32:
		return "int"
	case INT64:
		return "long"
	default:
		return "double"
	}
}

// Builder manages code generation for partition-parallel kernels
type Builder struct {
	// Partition configuration
	NumPartitions int
	K             []int
	KpartMax      int // Maximum K value across all partitions

	// Type configuration
	FloatType DataType
	IntType   DataType

	// Arrays addressed per partition through NAME_PART(part)
	PartitionedArrays []string

	// Generated code
	KernelPreamble string
}

// Config holds configuration for creating a Builder
type Config struct {
	K         []int
	FloatType DataType
	IntType   DataType
}

// NewBuilder creates a new Builder instance
func NewBuilder(cfg Config) (*Builder, error) {
	if len(cfg.K) == 0 {
		return nil, fmt.Errorf("K array cannot be empty")
	}
	kpartMax := 0
	for part, k := range cfg.K {
		if k < 0 {
			return nil, fmt.Errorf("partition %d has negative size %d", part, k)
		}
		kpartMax = max(kpartMax, k)
	}
	// Set defaults
	floatType := cfg.FloatType
	if floatType == 0 {
		floatType = Float64
	}
	intType := cfg.IntType
	if intType == 0 {
		intType = INT64
	}
	if floatType != Float32 && floatType != Float64 {
		return nil, fmt.Errorf("float type must be Float32 or Float64")
	}
	if intType != INT32 && intType != INT64 {
		return nil, fmt.Errorf("int type must be INT32 or INT64")
	}
	kb := &Builder{
		NumPartitions: len(cfg.K),
		K:             make([]int, len(cfg.K)),
		KpartMax:      kpartMax,
		FloatType:     floatType,
		IntType:       intType,
	}
	copy(kb.K, cfg.K)
	return kb, nil
}

// AddPartitionedArray registers an array stored as NAME_global with per
// partition offsets NAME_offsets
func (kb *Builder) AddPartitionedArray(name string) {
	kb.PartitionedArrays = append(kb.PartitionedArrays, name)
}

// GetTotalElements returns the sum of K
func (kb *Builder) GetTotalElements() int {
	total := 0
	for _, k := range kb.K {
		total += k
	}
	return total
}

// GetIntSize returns the size of int_t in bytes
func (kb *Builder) GetIntSize() int {
	return int(SizeOf(kb.IntType))
}

// GetRealSize returns the size of real_t in bytes
func (kb *Builder) GetRealSize() int {
	return int(SizeOf(kb.FloatType))
}

// GeneratePreamble generates the kernel preamble: type definitions, partition
// constants and partition access macros
func (kb *Builder) GeneratePreamble() string {
	var sb strings.Builder

	sb.WriteString(kb.generateTypeDefinitions())
	sb.WriteString(kb.generatePartitionMacros())

	kb.KernelPreamble = sb.String()
	return kb.KernelPreamble
}

// generateTypeDefinitions creates type definitions based on precision settings
func (kb *Builder) generateTypeDefinitions() string {
	var sb strings.Builder

	floatSuffix := ""
	if kb.FloatType == Float32 {
		floatSuffix = "f"
	}

	sb.WriteString(fmt.Sprintf("typedef %s real_t;\n", TypeName(kb.FloatType)))
	sb.WriteString(fmt.Sprintf("typedef %s int_t;\n", TypeName(kb.IntType)))
	sb.WriteString(fmt.Sprintf("#define REAL_ZERO 0.0%s\n", floatSuffix))
	sb.WriteString("\n")

	// Constants
	sb.WriteString(fmt.Sprintf("#define NPART %d\n", kb.NumPartitions))
	sb.WriteString(fmt.Sprintf("#define KpartMax %d\n", kb.KpartMax))
	sb.WriteString("\n")

	return sb.String()
}

// generatePartitionMacros creates macros for partition data access
func (kb *Builder) generatePartitionMacros() string {
	var sb strings.Builder

	for _, arrayName := range kb.PartitionedArrays {
		sb.WriteString(fmt.Sprintf("#define %s_PART(part) (%s_global + %s_offsets[part])\n",
			arrayName, arrayName, arrayName))
	}
	if len(kb.PartitionedArrays) > 0 {
		sb.WriteString("\n")
	}

	return sb.String()
}
