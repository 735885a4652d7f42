package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables and functions needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a
// device that will be closed if they are not in use, and re-opened as
// needed.  The infrared camera allows a small number of concurrent command
// sessions, so the control plane shares them through a pool instead of
// dialing per request.  It is concurrent safe.  Pools must be created with
// NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after len(conns) == 0 to free all connections
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	timer   *time.Timer             // closes idle connections after all are returned
	maker   CreationFunc

	reclaiming bool // whether startReclaim's goroutine is running
	mu         sync.Mutex
}

// NewPool creates a pool holding at most maxSize connections, closing them
// after they have all been idle for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
	}
	p.timer.Stop() // nothing to close initially
	return p
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no
// contention for the ReadWriter.
//
// When done with the communicator, return it with Put(), or discard it
// with Destroy() if it has become no good (e.g., all calls error).
//
// If the error from Get is not nil, the value must not be returned to the
// pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	// short circuit: if a connection is available, immediately return it
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	// all given out: wait for one to come back
	if p.onLease == p.maxSize {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	// none available and not all out; make one and give it out.
	// only increment the lease count if we are giving out something
	// other than garbage
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	return c, err
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.  Junk communicators (ones that always error) should be
// Destroy()'d and not returned with Put.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	// no lock here: a Get blocked on the channel holds the mutex and is
	// woken by this send
	p.conns <- rwc
	p.onLease--
	if p.onLease == 0 {
		p.startReclaim()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be
// used instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.onLease--
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are
// currently given out
func (p *Pool) Active() int {
	return p.onLease
}

// startReclaim spawns a goroutine that closes every pooled connection
// after the idle timeout elapses.
func (p *Pool) startReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reclaiming {
		p.timer.Reset(p.timeout)
		return
	}
	p.reclaiming = true
	p.timer.Reset(p.timeout)
	go func() {
		<-p.timer.C
		p.mu.Lock()
		defer p.mu.Unlock()
		for len(p.conns) > 0 {
			c := <-p.conns
			c.Close()
		}
		p.reclaiming = false
	}()
}
