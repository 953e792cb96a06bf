/*
Package runner executes the remap apply kernel on OCCA devices (Serial,
OpenMP, CUDA) through gocca. A Runner implements remap.Executor: the rows of
a layout are grouped into partitions, each partition runs as one @outer
iteration and each row as one @inner iteration.
*/
package runner

import (
	"fmt"

	"github.com/notargets/gocca"
	"github.com/notargets/hremap/partitions"
	"github.com/notargets/hremap/remap"
	"github.com/notargets/hremap/runner/builder"
	"github.com/npillmayer/schuko/tracing"
)

// tracer writes to trace with key 'runner'
func tracer() tracing.Trace {
	return tracing.Select("runner")
}

const (
	kernelName = "remapApply"
	// inner loop sizes above this are usually caused by unbalanced partitions
	maxKpart = 1 << 20
	// CUDA runs each @inner loop as one thread block
	cudaInnerLimit = 1024
)

// innerLimit is the largest KpartMax a device mode can launch
func innerLimit(mode string) int {
	if mode == "CUDA" {
		return cudaInnerLimit
	}
	return maxKpart
}

// Options configures a Runner
type Options struct {
	// Rows per device partition, defaults to 256
	PartitionSize int
	Strategy      partitions.PartitionStrategy
	FloatType     builder.DataType // defaults to Float64
	IntType       builder.DataType // defaults to INT64
}

// Runner orchestrates kernel compilation and execution for one layout at a
// time. Layout arrays are uploaded when a new layout is first applied; source
// and target buffers are copied on every Apply.
type Runner struct {
	*builder.Builder
	Device       *gocca.OCCADevice
	Kernels      map[string]*gocca.OCCAKernel
	PooledMemory map[string]*gocca.OCCAMemory

	opts   Options
	layout *remap.Layout
	parts  *partitions.PartitionLayout

	// host staging buffers for Float32 conversion
	src32, tgt32 []float32
}

// NewRunner creates a runner bound to device
func NewRunner(device *gocca.OCCADevice, opts Options) (*Runner, error) {
	if device == nil {
		return nil, fmt.Errorf("runner requires a device")
	}
	if opts.PartitionSize <= 0 {
		opts.PartitionSize = 256
	}
	return &Runner{
		Device:       device,
		Kernels:      make(map[string]*gocca.OCCAKernel),
		PooledMemory: make(map[string]*gocca.OCCAMemory),
		opts:         opts,
	}, nil
}

// Partitions returns the device partitioning of the current layout
func (kr *Runner) Partitions() *partitions.PartitionLayout {
	return kr.parts
}

// Apply implements remap.Executor
func (kr *Runner) Apply(l *remap.Layout, src, tgt []float64) error {
	if len(src) != l.NumSources || len(tgt) != l.NumTargets {
		return fmt.Errorf("%w: buffers %d/%d do not match layout %d/%d",
			remap.ErrPrecondition, len(src), len(tgt), l.NumSources, l.NumTargets)
	}
	if l.NumRows() == 0 {
		return nil
	}
	if l != kr.layout {
		if err := kr.Setup(l); err != nil {
			return err
		}
	}

	if err := kr.copyRealsToDevice("src", src); err != nil {
		return err
	}
	// rows without segments keep their values
	if err := kr.copyRealsToDevice("tgt", tgt); err != nil {
		return err
	}

	args := make([]interface{}, len(builder.RemapKernelArgs))
	for i, name := range builder.RemapKernelArgs {
		mem, ok := kr.PooledMemory[name]
		if !ok {
			return fmt.Errorf("memory for %s not found", name)
		}
		args[i] = mem
	}
	if err := kr.Kernels[kernelName].RunWithArgs(args...); err != nil {
		return fmt.Errorf("kernel execution failed: %w", err)
	}
	kr.Device.Finish()

	return kr.copyRealsFromDevice("tgt", tgt)
}

// Setup partitions the rows of l, builds the kernel for that partitioning
// and uploads the layout arrays. Apply calls it when it sees a new layout.
func (kr *Runner) Setup(l *remap.Layout) error {
	kr.release()

	rowLengths := make([]int, l.NumRows())
	for r := range rowLengths {
		rowLengths[r] = l.RowPtr[r+1] - l.RowPtr[r]
	}
	parts, err := partitionRows(rowLengths, kr.opts, innerLimit(kr.Device.Mode()))
	if err != nil {
		return err
	}

	k := make([]int, parts.NumPartitions)
	for i, p := range parts.Partitions {
		k[i] = p.NumMembers
	}
	bld, err := builder.NewBuilder(builder.Config{K: k, FloatType: kr.opts.FloatType, IntType: kr.opts.IntType})
	if err != nil {
		return err
	}
	bld.AddPartitionedArray(builder.RowsArray)
	kr.Builder = bld

	if _, err := kr.BuildKernel(bld.RemapKernelSource(kernelName), kernelName); err != nil {
		return err
	}

	order, offsets := parts.Order()
	srcIdx := make([]int, len(l.SourceIdx))
	for i, v := range l.SourceIdx {
		srcIdx[i] = int(v)
	}
	tgtIdx := make([]int, len(l.TargetIdx))
	for i, v := range l.TargetIdx {
		tgtIdx[i] = int(v)
	}
	for _, arr := range []struct {
		name string
		v    []int
	}{
		{"K", k},
		{builder.RowsArray + "_global", order},
		{builder.RowsArray + "_offsets", offsets},
		{"rowPtr", l.RowPtr},
		{"srcIdx", srcIdx},
		{"tgtIdx", tgtIdx},
	} {
		if err := kr.mallocInts(arr.name, arr.v); err != nil {
			kr.release()
			return err
		}
	}
	kr.mallocReals("wgt", l.Weights)
	kr.mallocReals("src", make([]float64, l.NumSources))
	kr.mallocReals("tgt", make([]float64, l.NumTargets))

	kr.layout = l
	kr.parts = parts
	tracer().Infof("%s kernel built: %d rows in %d partitions, KpartMax=%d",
		kr.Device.Mode(), l.NumRows(), parts.NumPartitions, parts.KpartMax)
	return nil
}

// partitionRows groups rows into device partitions of at most limit rows.
// Weighted partitions of skewed rows can exceed the requested size, so the
// partition count is raised until every partition fits.
func partitionRows(rowLengths []int, opts Options, limit int) (*partitions.PartitionLayout, error) {
	pb := partitions.PartitionBuilder{
		NumItems:            len(rowLengths),
		Weights:             rowLengths,
		TargetPartitionSize: opts.PartitionSize,
		Strategy:            opts.Strategy,
	}
	for {
		parts, err := pb.BuildPartitions()
		if err != nil {
			return nil, fmt.Errorf("partitioning %d rows: %w", len(rowLengths), err)
		}
		if parts.KpartMax <= limit {
			return parts, nil
		}
		if parts.NumPartitions >= len(rowLengths) {
			return nil, fmt.Errorf("KpartMax=%d exceeds the device limit of %d rows per partition",
				parts.KpartMax, limit)
		}
		next := parts.NumPartitions*parts.KpartMax/limit + 1
		pb.NumPartitions = min(len(rowLengths), max(next, parts.NumPartitions+1))
		tracer().Debugf("KpartMax=%d over limit %d, retrying with %d partitions",
			parts.KpartMax, limit, pb.NumPartitions)
	}
}

// RefreshWeights uploads the current weights of l, which must be the layout
// in use. It lets GSMap.RefreshWeights reach the device copy.
func (kr *Runner) RefreshWeights(l *remap.Layout) error {
	if l != kr.layout {
		return nil
	}
	return kr.copyRealsToDevice("wgt", l.Weights)
}

// BuildKernel compiles and registers a kernel with the program
func (kr *Runner) BuildKernel(kernelSource, name string) (*gocca.OCCAKernel, error) {
	kr.GeneratePreamble()
	fullSource := kr.KernelPreamble + "\n" + kernelSource

	var kernel *gocca.OCCAKernel
	var err error
	if kr.Device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = kr.Device.BuildKernelFromString(fullSource, name, props)
	} else {
		kernel, err = kr.Device.BuildKernelFromString(fullSource, name, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", name, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", name)
	}
	kr.Kernels[name] = kernel
	return kernel, nil
}

func (kr *Runner) release() {
	for name, kernel := range kr.Kernels {
		kernel.Free()
		delete(kr.Kernels, name)
	}
	for name, mem := range kr.PooledMemory {
		mem.Free()
		delete(kr.PooledMemory, name)
	}
	kr.layout = nil
	kr.parts = nil
}

// Free releases all kernels and device memory. The device is owned by the
// caller.
func (kr *Runner) Free() {
	kr.release()
}
