package resource

import (
	"context"
	"io"
)

// Throttle returns a writer that charges every write to rc's IO budget
// before passing it to w. With a nil rc it returns w.
func Throttle(ctx context.Context, w io.Writer, rc *Controller) io.Writer {
	if rc == nil {
		return w
	}
	return writerFunc(func(p []byte) (int, error) {
		if err := rc.AcquireIO(ctx, len(p)); err != nil {
			return 0, err
		}
		return w.Write(p)
	})
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
