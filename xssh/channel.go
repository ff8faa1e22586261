// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xssh

import (
	"io"
	"sync"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/sshsess"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Payloads of the channel requests in RFC 4254 section 6.
type (
	envRequest struct {
		Name  string
		Value string
	}
	execRequest struct {
		Command string
	}
	subsystemRequest struct {
		Name string
	}
	exitStatusMsg struct {
		Status uint32
	}
	exitSignalMsg struct {
		Signal     string
		CoreDumped bool
		Error      string
		Lang       string
	}
)

// pumpSize is the largest chunk a stream pump reads at once.
const pumpSize = 32 << 10

// pipe is the read side of one stream. A pump goroutine fills buf one
// chunk at a time and waits on more until the chunk has been consumed,
// so at most one chunk sits outside the ssh channel's own window.
type pipe struct {
	buf     []byte
	err     error
	started bool
	more    chan struct{}
}

// channel adapts an ssh.Channel.
//
// Reads never go through the engine's single worker: each stream has its
// own pump, and Read only takes what the pump has delivered. A read
// abandoned by a cancelled call therefore blocks nothing else, and its
// bytes stay buffered for the next Read.
type channel struct {
	e  *Engine
	ch ssh.Channel

	mu     sync.Mutex
	pipes  [2]pipe
	status int
	signal string
	exited chan struct{}

	quit     chan struct{}
	quitOnce sync.Once
}

func newChannel(e *Engine, ch ssh.Channel, reqs <-chan *ssh.Request) *channel {
	c := &channel{e: e, ch: ch, exited: make(chan struct{}), quit: make(chan struct{})}
	go c.serveRequests(reqs)
	return c
}

func (c *channel) stop() { c.quitOnce.Do(func() { close(c.quit) }) }

// pump reads r until it fails, handing each chunk to the pipe.
func (c *channel) pump(id int, r io.Reader, more <-chan struct{}) {
	buf := make([]byte, pumpSize)
	for {
		n, err := r.Read(buf)
		c.mu.Lock()
		p := &c.pipes[id]
		p.buf = append(p.buf, buf[:n]...)
		if err != nil {
			p.err = err
		}
		c.mu.Unlock()
		if n > 0 || err != nil {
			c.e.signal()
		}
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		select {
		case <-more:
		case <-c.quit:
			return
		}
	}
}

// drained tells a waiting pump to read the next chunk. c.mu must be held.
func (p *pipe) drained() {
	if len(p.buf) > 0 || p.err != nil || p.more == nil {
		return
	}
	select {
	case p.more <- struct{}{}:
	default:
	}
}

// serveRequests records exit-status and exit-signal and refuses
// everything else the server asks.
func (c *channel) serveRequests(reqs <-chan *ssh.Request) {
	defer close(c.exited)
	for req := range reqs {
		switch req.Type {
		case "exit-status":
			var m exitStatusMsg
			if err := ssh.Unmarshal(req.Payload, &m); err == nil {
				c.mu.Lock()
				c.status = int(m.Status)
				c.mu.Unlock()
			}
		case "exit-signal":
			var m exitSignalMsg
			if err := ssh.Unmarshal(req.Payload, &m); err == nil {
				c.mu.Lock()
				c.signal = m.Signal
				c.mu.Unlock()
			}
		}
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
	}
}

func (c *channel) request(name string, payload []byte) error {
	v, err := c.e.run(opKey{op: "request-" + name, obj: c}, sshsess.DirRead, func() (any, error) {
		return c.ch.SendRequest(name, true, payload)
	})
	if err != nil {
		if iox.IsWouldBlock(err) {
			return err
		}
		return c.ioErr(err)
	}
	if ok := v.(bool); !ok {
		return c.e.fail(sshsess.ErrorChannelRequestDenied, "Unable to complete request for "+name)
	}
	return nil
}

func (c *channel) ioErr(err error) error {
	if errors.Is(err, io.EOF) {
		return c.e.fail(sshsess.ErrorChannelClosed, err.Error())
	}
	return err
}

func (c *channel) Setenv(name, value string) error {
	return c.request("env", ssh.Marshal(envRequest{Name: name, Value: value}))
}

func (c *channel) ProcessStartup(request string, message []byte) error {
	var payload []byte
	switch request {
	case "exec":
		payload = ssh.Marshal(execRequest{Command: string(message)})
	case "subsystem":
		payload = ssh.Marshal(subsystemRequest{Name: string(message)})
	case "shell":
	default:
		payload = message
	}
	return c.request(request, payload)
}

func (c *channel) stream(id int) (io.ReadWriter, error) {
	switch id {
	case sshsess.StreamStdout:
		return c.ch, nil
	case sshsess.StreamStderr:
		return c.ch.Stderr(), nil
	}
	return nil, c.e.fail(sshsess.ErrorChannelUnknown, "unknown stream")
}

func (c *channel) Read(id int, p []byte) (int, error) {
	rw, err := c.stream(id)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pp := &c.pipes[id]
	if len(pp.buf) > 0 {
		n := copy(p, pp.buf)
		pp.buf = pp.buf[n:]
		pp.drained()
		return n, nil
	}
	if pp.err != nil {
		if errors.Is(pp.err, io.EOF) {
			return 0, nil
		}
		return 0, pp.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !pp.started {
		pp.started = true
		pp.more = make(chan struct{}, 1)
		go c.pump(id, rw, pp.more)
	}
	return 0, c.e.block(sshsess.DirRead)
}

func (c *channel) Write(id int, p []byte) (int, error) {
	rw, err := c.stream(id)
	if err != nil {
		return 0, err
	}
	buf := append([]byte(nil), p...)
	v, err := c.e.run(opKey{op: "write", obj: c, n: id}, sshsess.DirWrite, func() (any, error) {
		return rw.Write(buf)
	})
	if err != nil {
		if iox.IsWouldBlock(err) {
			return 0, err
		}
		return 0, c.ioErr(err)
	}
	return v.(int), nil
}

// Flush drops data buffered locally for the stream. x/crypto/ssh keeps
// no other client-side buffer that could be discarded.
func (c *channel) Flush(id int) error {
	if _, err := c.stream(id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pp := &c.pipes[id]
	pp.buf = nil
	pp.drained()
	return nil
}

func (c *channel) SendEOF() error {
	_, err := c.e.run(opKey{op: "send-eof", obj: c}, sshsess.DirWrite, func() (any, error) {
		return nil, c.ch.CloseWrite()
	})
	if err != nil && !iox.IsWouldBlock(err) {
		return c.ioErr(err)
	}
	return err
}

// EOF reports whether a stream has been read to the peer's EOF.
func (c *channel) EOF() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.pipes {
		pp := &c.pipes[i]
		if len(pp.buf) == 0 && errors.Is(pp.err, io.EOF) {
			return true
		}
	}
	return false
}

func (c *channel) ExitStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *channel) ExitSignal() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signal
}

// Close sends close and waits until the server's requests have been
// drained, so that the exit status is in place when Close returns.
func (c *channel) Close() error {
	_, err := c.e.run(opKey{op: "channel-close", obj: c}, sshsess.DirRead, func() (any, error) {
		err := c.ch.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
		<-c.exited
		return nil, err
	})
	return err
}

func (c *channel) Free() error {
	c.stop()
	go func() { _ = c.ch.Close() }()
	return nil
}
