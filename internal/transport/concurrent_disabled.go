//go:build minimal

package transport

const ConcurrentAvailable = false

func newConcurrent(Deps) (Server, error) {
	return nil, ErrUnavailable
}
