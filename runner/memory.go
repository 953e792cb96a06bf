package runner

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/notargets/gocca"
	"github.com/notargets/hremap/runner/builder"
)

// mallocInts allocates an int_t array initialized from v. Empty arrays get
// one padding value so the device pointer is valid.
func (kr *Runner) mallocInts(name string, v []int) error {
	if len(v) == 0 {
		v = []int{0}
	}
	var mem *gocca.OCCAMemory
	if kr.IntType == builder.INT32 {
		v32 := make([]int32, len(v))
		for i, x := range v {
			if x < math.MinInt32 || x > math.MaxInt32 {
				return fmt.Errorf("%s[%d]=%d overflows INT32, use INT64 indices", name, i, x)
			}
			v32[i] = int32(x)
		}
		mem = kr.Device.Malloc(int64(len(v32)*4), unsafe.Pointer(&v32[0]), nil)
	} else {
		v64 := make([]int64, len(v))
		for i, x := range v {
			v64[i] = int64(x)
		}
		mem = kr.Device.Malloc(int64(len(v64)*8), unsafe.Pointer(&v64[0]), nil)
	}
	kr.PooledMemory[name] = mem
	return nil
}

// mallocReals allocates a real_t array initialized from v
func (kr *Runner) mallocReals(name string, v []float64) {
	if len(v) == 0 {
		v = []float64{0}
	}
	var mem *gocca.OCCAMemory
	if kr.FloatType == builder.Float32 {
		v32 := toFloat32(nil, v)
		mem = kr.Device.Malloc(int64(len(v32)*4), unsafe.Pointer(&v32[0]), nil)
	} else {
		mem = kr.Device.Malloc(int64(len(v)*8), unsafe.Pointer(&v[0]), nil)
	}
	kr.PooledMemory[name] = mem
}

// copyRealsToDevice performs a host→device copy with conversion to real_t
func (kr *Runner) copyRealsToDevice(name string, v []float64) error {
	mem, ok := kr.PooledMemory[name]
	if !ok {
		return fmt.Errorf("no device memory allocated for %s", name)
	}
	if len(v) == 0 {
		return nil
	}
	if kr.FloatType == builder.Float32 {
		buf := kr.staging(name, len(v))
		toFloat32(buf, v)
		mem.CopyFrom(unsafe.Pointer(&buf[0]), int64(len(buf)*4))
		return nil
	}
	mem.CopyFrom(unsafe.Pointer(&v[0]), int64(len(v)*8))
	return nil
}

// copyRealsFromDevice performs a device→host copy with conversion from real_t
func (kr *Runner) copyRealsFromDevice(name string, v []float64) error {
	mem, ok := kr.PooledMemory[name]
	if !ok {
		return fmt.Errorf("no device memory allocated for %s", name)
	}
	if len(v) == 0 {
		return nil
	}
	if kr.FloatType == builder.Float32 {
		buf := kr.staging(name, len(v))
		mem.CopyTo(unsafe.Pointer(&buf[0]), int64(len(buf)*4))
		for i, x := range buf {
			v[i] = float64(x)
		}
		return nil
	}
	mem.CopyTo(unsafe.Pointer(&v[0]), int64(len(v)*8))
	return nil
}

func (kr *Runner) staging(name string, n int) []float32 {
	buf := &kr.tgt32
	if name == "src" {
		buf = &kr.src32
	}
	if cap(*buf) < n {
		*buf = make([]float32, n)
	}
	return (*buf)[:n]
}

func toFloat32(dst []float32, v []float64) []float32 {
	if dst == nil {
		dst = make([]float32, len(v))
	}
	for i, x := range v {
		dst[i] = float32(x)
	}
	return dst
}
