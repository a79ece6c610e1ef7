package uart

import (
	"context"
	"runtime"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Pattern is a literal prepared for streaming search.
type Pattern struct {
	lit  string
	fail []int
}

// Compile prepares lit for WaitFor and CopyUntil.
func Compile(lit string) *Pattern {
	p := &Pattern{lit: lit, fail: make([]int, len(lit))}
	for i, k := 1, 0; i < len(lit); i++ {
		for k > 0 && lit[i] != lit[k] {
			k = p.fail[k-1]
		}
		if lit[i] == lit[k] {
			k++
		}
		p.fail[i] = k
	}
	return p
}

// String returns the literal.
func (p *Pattern) String() string {
	return p.lit
}

// Len returns the length of the literal.
func (p *Pattern) Len() int {
	return len(p.lit)
}

// WaitFor consumes received bytes until the literal has been seen. Every
// scanned byte is consumed, including the literal itself.
func (p *Port) WaitFor(ctx context.Context, pat *Pattern) error {
	_, err := p.scan(ctx, pat, nil, false)
	return err
}

// CopyUntil consumes received bytes until the literal has been seen and
// copies every byte preceding the literal into dest, exactly once and in
// order. The literal is consumed but not copied. It returns the number of
// bytes copied.
func (p *Port) CopyUntil(ctx context.Context, pat *Pattern, dest []byte) (int, error) {
	return p.scan(ctx, pat, dest, true)
}

// scan runs the match state machine over RX. k is the number of literal
// bytes matched so far; those bytes are held back from dest until the match
// either completes or falls back, so a failed partial match is copied once
// and scanning resumes at the current byte.
func (p *Port) scan(ctx context.Context, pat *Pattern, dest []byte, copying bool) (n int, err error) {
	lit := pat.lit
	k := 0
	for scanned := 0; k < len(lit); scanned++ {
		if scanned%deadlineInterval == deadlineInterval-1 {
			if err = p.expired(ctx, pat); err != nil {
				return
			}
		}
		c, ok := p.RX.Peek()
		if !ok {
			if err = p.idle(ctx, pat); err != nil {
				return
			}
			continue
		}
		for k > 0 && lit[k] != c {
			j := pat.fail[k-1]
			if copying {
				if n, err = appendBytes(dest, n, lit[:k-j]); err != nil {
					return
				}
			}
			k = j
		}
		if lit[k] == c {
			k++
		} else if copying {
			if n >= len(dest) {
				err = &OverflowError{Capacity: len(dest)}
				return
			}
			dest[n] = c
			n++
		}
		p.RX.Get()
	}
	if glog.V(4) {
		glog.Infof("%s: matched %q after %d bytes", p.ID, lit, n)
	}
	return
}

// deadlineInterval is how many bytes are scanned between deadline checks
// while RX keeps delivering.
const deadlineInterval = 64

func (p *Port) idle(ctx context.Context, pat *Pattern) error {
	if err := p.expired(ctx, pat); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}

func (p *Port) expired(ctx context.Context, pat *Pattern) error {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errors.Wrapf(ErrTimeout, "%s: waiting for %q", p.ID, pat.lit)
		}
		return ctx.Err()
	default:
		return nil
	}
}

func appendBytes(dest []byte, n int, s string) (int, error) {
	if n+len(s) > len(dest) {
		n += copy(dest[n:], s)
		return n, &OverflowError{Capacity: len(dest)}
	}
	return n + copy(dest[n:], s), nil
}
