package comm

import "fmt"

// Number is the set of types AllReduceSum accepts
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// AllGather returns v from every rank, indexed by rank
func AllGather[T any](c Comm, v T) []T {
	send := make([]any, c.Size())
	for i := range send {
		send[i] = v
	}
	return unpack[T](c.Exchange(send))
}

// AllToAll delivers send[dst] to rank dst and returns what each rank sent
// here, indexed by source rank
func AllToAll[T any](c Comm, send []T) []T {
	if len(send) != c.Size() {
		panic(fmt.Sprintf("comm: all-to-all needs %d send slots, got %d", c.Size(), len(send)))
	}
	boxed := make([]any, len(send))
	for i, v := range send {
		boxed[i] = v
	}
	return unpack[T](c.Exchange(boxed))
}

// Broadcast returns root's v on every rank
func Broadcast[T any](c Comm, v T, root int) T {
	return AllGather(c, v)[root]
}

// AllReduceSum returns the sum of v over all ranks. Ranks add in rank order
// so every rank sees the same result.
func AllReduceSum[T Number](c Comm, v T) T {
	var sum T
	for _, x := range AllGather(c, v) {
		sum += x
	}
	return sum
}

func unpack[T any](recv []any) []T {
	out := make([]T, len(recv))
	for i, r := range recv {
		if r != nil {
			out[i] = r.(T)
		}
	}
	return out
}
