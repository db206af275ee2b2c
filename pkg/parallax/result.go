package parallax

import (
	"github.com/parallax-sh/parallax/pkg/executor"
)

// Result holds the outcome for a single host: either Value or Err, never
// both.
type Result[T any] struct {
	Value T
	Err   *Error
}

// Ok reports whether the host's operation succeeded.
func (r Result[T]) Ok() bool { return r.Err == nil }

// BatchResult maps each host entry, exactly as supplied by the caller, to
// its outcome. When the same entry appears more than once in the input, the
// last occurrence's outcome is the one recorded.
type BatchResult[T any] map[string]Result[T]

// Failed returns the entries of every host that did not succeed.
func (b BatchResult[T]) Failed() []string {
	var hosts []string
	for h, r := range b {
		if !r.Ok() {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func collect[T any](results []executor.Result[T]) BatchResult[T] {
	batch := make(BatchResult[T], len(results))
	latest := make(map[string]int, len(results))
	for _, r := range results {
		if seen, ok := latest[r.Task.Host]; ok && seen > r.Task.Index {
			continue
		}
		latest[r.Task.Host] = r.Task.Index
		if r.Err != nil {
			batch[r.Task.Host] = Result[T]{Err: classify(r.Task.Host, r.Err)}
		} else {
			batch[r.Task.Host] = Result[T]{Value: r.Value}
		}
	}
	return batch
}
