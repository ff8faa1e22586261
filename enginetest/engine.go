// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package enginetest provides a scripted in-memory sshsess.Engine.
//
// The engine keeps users, commands and a small file tree in memory and
// can be told to report would-block a given number of times, so tests
// exercise the readiness path of sshsess without a network.
package enginetest

import (
	"bytes"
	"fmt"
	"net"
	"path"
	"sort"
	"strings"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/sshsess"
)

// Command scripts the outcome of an exec request.
type Command struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
	ExitSignal string
}

// ChannelInfo records the parameters of an opened channel.
type ChannelInfo struct {
	Type    string
	Window  uint32
	Packet  uint32
	Message []byte
}

type block struct {
	n   int
	dir sshsess.Direction
}

type node struct {
	dir  bool
	link string
	data []byte
	attr sshsess.FileAttr
}

const (
	modeDir     = 0o040000
	modeRegular = 0o100000
	modeSymlink = 0o120000
	modeType    = 0o170000
)

// Engine is a scripted sshsess.Engine. Configure it before the session
// starts; it is not safe for concurrent use, as the engine contract
// requires.
type Engine struct {
	transport *Transport

	banner     string
	handshaken bool
	authed     bool
	methods    string
	passwords  map[string]string
	keys       map[string][]byte
	commands   map[string]Command
	denied     map[string]bool
	nodes      map[string]*node
	env        map[string]string
	channels   []ChannelInfo

	blocks  []block
	dir     sshsess.Direction
	failure *sshsess.Error

	lastCode sshsess.Code
	lastMsg  string
	sftpCode sshsess.Code

	inflight atomix.Uint32
	maxIn    atomix.Uint32

	mu    sync.Mutex
	log   []string
	calls map[string]int
	freed []string
}

// New returns an engine with an empty root directory and an auto-ready
// transport.
func New() *Engine {
	e := &Engine{
		transport: NewTransport(),
		methods:   "publickey,password",
		passwords: make(map[string]string),
		keys:      make(map[string][]byte),
		commands:  make(map[string]Command),
		denied:    make(map[string]bool),
		nodes:     make(map[string]*node),
		env:       make(map[string]string),
		calls:     make(map[string]int),
	}
	e.nodes["/"] = newNode(true, 0o755)
	return e
}

func newNode(dir bool, perm uint32) *node {
	n := &node{dir: dir}
	typ := uint32(modeRegular)
	if dir {
		typ = modeDir
	}
	n.attr.SetPermissions(typ | perm&0o7777)
	n.attr.SetSize(0)
	n.attr.SetOwner(1000, 1000)
	n.attr.Atime, n.attr.Mtime = 1700000000, 1700000000
	n.attr.Flags |= sshsess.AttrACModTime
	return n
}

// Transport returns the readiness source handed to sessions.
func (e *Engine) Transport() *Transport { return e.transport }

// Register implements sshsess.Registrar. conn may be nil.
func (e *Engine) Register(net.Conn) (sshsess.Transport, error) { return e.transport, nil }

// AddUser accepts password for user.
func (e *Engine) AddUser(user, password string) *Engine {
	e.passwords[user] = password
	return e
}

// AddKey accepts privateKey for user.
func (e *Engine) AddKey(user string, privateKey []byte) *Engine {
	e.keys[user] = append([]byte(nil), privateKey...)
	return e
}

// SetMethods sets the comma-separated userauth method list.
func (e *Engine) SetMethods(methods string) *Engine {
	e.methods = methods
	return e
}

// AddCommand scripts the result of exec'ing command.
func (e *Engine) AddCommand(command string, c Command) *Engine {
	e.commands[command] = c
	return e
}

// Deny makes channel requests of the given name ("env", "exec", "shell",
// "subsystem") fail with ErrorChannelRequestDenied.
func (e *Engine) Deny(request string) *Engine {
	e.denied[request] = true
	return e
}

// AddDir creates a directory. Parents must exist.
func (e *Engine) AddDir(p string, perm uint32) *Engine {
	e.nodes[path.Clean(p)] = newNode(true, perm)
	return e
}

// AddFile creates a regular file holding data.
func (e *Engine) AddFile(p string, data []byte, perm uint32) *Engine {
	n := newNode(false, perm)
	n.data = append([]byte(nil), data...)
	n.attr.SetSize(uint64(len(n.data)))
	e.nodes[path.Clean(p)] = n
	return e
}

// AddSymlink creates a symbolic link to target.
func (e *Engine) AddSymlink(p, target string) *Engine {
	n := newNode(false, 0o777)
	n.attr.Permissions = modeSymlink | 0o777
	n.link = path.Clean(target)
	e.nodes[path.Clean(p)] = n
	return e
}

// SetAttr replaces the attributes reported for p, presence flags
// included. The node must exist.
func (e *Engine) SetAttr(p string, attr sshsess.FileAttr) *Engine {
	e.nodes[path.Clean(p)].attr = attr
	return e
}

// FileData returns the content of the file at p.
func (e *Engine) FileData(p string) ([]byte, bool) {
	n, ok := e.nodes[path.Clean(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists reports whether p names a node.
func (e *Engine) Exists(p string) bool {
	_, ok := e.nodes[path.Clean(p)]
	return ok
}

// Env returns the environment variables set through channels.
func (e *Engine) Env() map[string]string { return e.env }

// Banner returns the banner set on the engine.
func (e *Engine) Banner() string { return e.banner }

// Channels returns the parameters of every channel opened.
func (e *Engine) Channels() []ChannelInfo { return e.channels }

// Block makes the next n peer calls report would-block on dir.
// A zero dir reports no direction, which breaks the engine contract.
func (e *Engine) Block(n int, dir sshsess.Direction) *Engine {
	e.blocks = append(e.blocks, block{n: n, dir: dir})
	return e
}

// Fail makes the next peer call fail with code and msg.
func (e *Engine) Fail(code sshsess.Code, msg string) *Engine {
	e.failure = &sshsess.Error{Code: code, Msg: msg}
	return e
}

// Calls returns the number of times op was invoked, or the total
// over all operations when op is "".
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if op != "" {
		return e.calls[op]
	}
	total := 0
	for _, n := range e.calls {
		total += n
	}
	return total
}

// Log returns every peer call as "op arg...", in order.
func (e *Engine) Log() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

// Freed returns what was released without waiting, in order:
// "session", "channel", "sftp", "handle".
func (e *Engine) Freed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.freed...)
}

// MaxInFlight returns the highest number of engine calls observed
// running at once.
func (e *Engine) MaxInFlight() int { return int(e.maxIn.Load()) }

func (e *Engine) record(op string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[op]++
	entry := op
	if len(args) > 0 {
		entry += " " + strings.TrimSuffix(fmt.Sprintln(args...), "\n")
	}
	e.log = append(e.log, entry)
}

func (e *Engine) release(what string) {
	e.mu.Lock()
	e.freed = append(e.freed, what)
	e.mu.Unlock()
}

// enter tracks concurrency and applies scripted blocks and failures.
// The returned func must be deferred.
func (e *Engine) enter(op string, args ...any) (func(), error) {
	n := e.inflight.Add(1)
	if n > e.maxIn.Load() {
		e.maxIn.Store(n)
	}
	done := func() { e.inflight.Add(^uint32(0)) }
	e.record(op, args...)

	if len(e.blocks) > 0 {
		b := &e.blocks[0]
		e.dir = b.dir
		if b.n--; b.n <= 0 {
			e.blocks = e.blocks[1:]
		}
		return done, iox.ErrWouldBlock
	}
	if f := e.failure; f != nil {
		e.failure = nil
		return done, e.fail(f.Code, f.Msg)
	}
	return done, nil
}

func (e *Engine) fail(code sshsess.Code, msg string) error {
	e.lastCode, e.lastMsg = code, msg
	return code
}

func (e *Engine) wouldBlock(dir sshsess.Direction) error {
	e.dir = dir
	return iox.ErrWouldBlock
}

// SetBanner implements sshsess.Engine.
func (e *Engine) SetBanner(banner string) error {
	if e.handshaken {
		return e.fail(sshsess.ErrorBadUse, "banner set after handshake")
	}
	e.banner = banner
	return nil
}

// Handshake implements sshsess.Engine.
func (e *Engine) Handshake(net.Conn) error {
	done, err := e.enter("handshake")
	defer done()
	if err != nil {
		return err
	}
	e.handshaken = true
	return nil
}

// BlockDirections implements sshsess.Engine.
func (e *Engine) BlockDirections() sshsess.Direction { return e.dir }

// LastError implements sshsess.Engine.
func (e *Engine) LastError() (sshsess.Code, string) { return e.lastCode, e.lastMsg }

// Authenticated implements sshsess.Engine.
func (e *Engine) Authenticated() bool { return e.authed }

// UserauthList implements sshsess.Engine.
func (e *Engine) UserauthList(user string) (string, error) {
	done, err := e.enter("userauth-list", user)
	defer done()
	if err != nil {
		return "", err
	}
	return e.methods, nil
}

// UserauthPassword implements sshsess.Engine.
func (e *Engine) UserauthPassword(user, password string) error {
	done, err := e.enter("userauth-password", user)
	defer done()
	if err != nil {
		return err
	}
	if pw, ok := e.passwords[user]; !ok || pw != password {
		return e.fail(sshsess.ErrorAuthenticationFailed, "Authentication failed (username/password)")
	}
	e.authed = true
	return nil
}

// UserauthPublickey implements sshsess.Engine.
func (e *Engine) UserauthPublickey(user string, privateKey, _ []byte) error {
	done, err := e.enter("userauth-publickey", user)
	defer done()
	if err != nil {
		return err
	}
	if k, ok := e.keys[user]; !ok || !bytes.Equal(k, privateKey) {
		return e.fail(sshsess.ErrorPublickeyUnverified, "Username/PublicKey combination invalid")
	}
	e.authed = true
	return nil
}

// OpenChannel implements sshsess.Engine.
func (e *Engine) OpenChannel(typ string, window, packet uint32, msg []byte) (sshsess.EngineChannel, error) {
	done, err := e.enter("channel-open", typ, window, packet)
	defer done()
	if err != nil {
		return nil, err
	}
	if !e.authed {
		return nil, e.fail(sshsess.ErrorChannelFailure, "channel open before authentication")
	}
	if typ != sshsess.ChannelTypeSession {
		return nil, e.fail(sshsess.ErrorChannelFailure, "Channel open failure (administratively prohibited)")
	}
	e.channels = append(e.channels, ChannelInfo{Type: typ, Window: window, Packet: packet, Message: msg})
	return &channel{e: e, packet: int(packet)}, nil
}

// OpenSFTP implements sshsess.Engine.
func (e *Engine) OpenSFTP() (sshsess.EngineSFTP, error) {
	done, err := e.enter("sftp-init")
	defer done()
	if err != nil {
		return nil, err
	}
	if !e.authed {
		return nil, e.fail(sshsess.ErrorChannelFailure, "subsystem before authentication")
	}
	return &sftp{e: e}, nil
}

// Free implements sshsess.Engine.
func (e *Engine) Free() error {
	e.release("session")
	return nil
}

// channel is a session channel. exec replays a scripted Command; shell
// echoes stream 0 back until the client sends EOF.
type channel struct {
	e      *Engine
	packet int

	started bool
	shell   bool
	out     [2][]byte
	eof     bool
	eofSent bool
	closed  bool
	status  int
	signal  string
}

func (c *channel) Setenv(name, value string) error {
	done, err := c.e.enter("setenv", name)
	defer done()
	if err != nil {
		return err
	}
	if c.e.denied["env"] {
		return c.e.fail(sshsess.ErrorChannelRequestDenied, "Unable to complete request for channel-setenv")
	}
	c.e.env[name] = value
	return nil
}

func (c *channel) ProcessStartup(request string, message []byte) error {
	done, err := c.e.enter("process-startup", request, string(message))
	defer done()
	if err != nil {
		return err
	}
	if c.e.denied[request] {
		return c.e.fail(sshsess.ErrorChannelRequestDenied, "Unable to complete request for channel-process-startup")
	}
	c.started = true
	switch request {
	case "exec":
		cmd, ok := c.e.commands[string(message)]
		if !ok {
			cmd = Command{Stderr: []byte("command not found\n"), ExitStatus: 127}
		}
		c.out[0] = append(c.out[0], cmd.Stdout...)
		c.out[1] = append(c.out[1], cmd.Stderr...)
		c.status, c.signal = cmd.ExitStatus, cmd.ExitSignal
		c.eof = true
	case "shell":
		c.shell = true
	case "subsystem":
		if string(message) != "sftp" {
			return c.e.fail(sshsess.ErrorChannelRequestDenied, "Unable to complete request for channel-process-startup")
		}
	default:
		return c.e.fail(sshsess.ErrorChannelRequestDenied, "unknown request "+request)
	}
	return nil
}

func validStream(id int) bool { return id == 0 || id == 1 }

func (c *channel) Read(id int, p []byte) (int, error) {
	done, err := c.e.enter("read", id, len(p))
	defer done()
	if err != nil {
		return 0, err
	}
	if !validStream(id) {
		return 0, c.e.fail(sshsess.ErrorChannelUnknown, "")
	}
	if len(c.out[id]) == 0 {
		if c.eof || c.closed || len(p) == 0 {
			return 0, nil
		}
		return 0, c.e.wouldBlock(sshsess.DirRead)
	}
	n := copy(p, c.out[id])
	c.out[id] = c.out[id][n:]
	return n, nil
}

func (c *channel) Write(id int, p []byte) (int, error) {
	done, err := c.e.enter("write", id, len(p))
	defer done()
	if err != nil {
		return 0, err
	}
	if !validStream(id) {
		return 0, c.e.fail(sshsess.ErrorChannelUnknown, "")
	}
	if c.closed {
		return 0, c.e.fail(sshsess.ErrorChannelClosed, "")
	}
	if c.eofSent {
		return 0, c.e.fail(sshsess.ErrorChannelEOFSent, "")
	}
	n := len(p)
	if c.packet > 0 && n > c.packet {
		n = c.packet
	}
	if c.shell {
		c.out[id] = append(c.out[id], p[:n]...)
	}
	return n, nil
}

func (c *channel) Flush(id int) error {
	done, err := c.e.enter("flush", id)
	defer done()
	if err != nil {
		return err
	}
	if !validStream(id) {
		return c.e.fail(sshsess.ErrorChannelUnknown, "")
	}
	c.out[id] = nil
	return nil
}

func (c *channel) SendEOF() error {
	done, err := c.e.enter("send-eof")
	defer done()
	if err != nil {
		return err
	}
	c.eofSent = true
	if c.shell {
		c.eof = true
	}
	return nil
}

func (c *channel) EOF() bool { return c.eof || c.closed }

func (c *channel) ExitStatus() int { return c.status }

func (c *channel) ExitSignal() string { return c.signal }

func (c *channel) Close() error {
	done, err := c.e.enter("channel-close")
	defer done()
	if err != nil {
		return err
	}
	c.closed = true
	return nil
}

func (c *channel) Free() error {
	c.e.release("channel")
	return nil
}

// sftp serves the engine's node tree.
type sftp struct {
	e *Engine
}

func (s *sftp) status(code sshsess.Code) error {
	s.e.sftpCode = code
	return s.e.fail(sshsess.ErrorSFTPProtocol, "SFTP Protocol Error")
}

func (s *sftp) lookup(p string, follow bool) (*node, string, bool) {
	p = path.Clean(p)
	for hops := 0; hops < 8; hops++ {
		n, ok := s.e.nodes[p]
		if !ok || n.link == "" || !follow {
			return n, p, ok
		}
		p = n.link
	}
	return nil, p, false
}

func (s *sftp) Stat(p string, kind sshsess.StatKind, attr *sshsess.FileAttr) error {
	done, err := s.e.enter("sftp-stat", p, int(kind))
	defer done()
	if err != nil {
		return err
	}
	n, _, ok := s.lookup(p, kind != sshsess.StatNoFollow)
	if !ok {
		return s.status(sshsess.FxNoSuchFile)
	}
	if kind == sshsess.StatSet {
		apply(n, *attr)
		return nil
	}
	*attr = n.attr
	return nil
}

func apply(n *node, a sshsess.FileAttr) {
	if size, ok := a.FileSize(); ok && !n.dir {
		if size < uint64(len(n.data)) {
			n.data = n.data[:size]
		} else {
			n.data = append(n.data, make([]byte, size-uint64(len(n.data)))...)
		}
		n.attr.SetSize(size)
	}
	if uid, gid, ok := a.Owner(); ok {
		n.attr.SetOwner(uid, gid)
	}
	if perm, ok := a.Perm(); ok {
		n.attr.SetPermissions(n.attr.Permissions&modeType | perm&^modeType)
	}
	if a.Flags&sshsess.AttrACModTime != 0 {
		n.attr.Atime, n.attr.Mtime = a.Atime, a.Mtime
		n.attr.Flags |= sshsess.AttrACModTime
	}
}

func (s *sftp) Open(p string, flags sshsess.OpenFlags, mode uint32, kind sshsess.OpenKind) (sshsess.EngineHandle, error) {
	done, err := s.e.enter("sftp-open", p, uint32(flags), int(kind))
	defer done()
	if err != nil {
		return nil, err
	}
	n, clean, ok := s.lookup(p, true)
	if kind == sshsess.OpenDir {
		if !ok {
			return nil, s.status(sshsess.FxNoSuchFile)
		}
		if !n.dir {
			return nil, s.status(sshsess.FxNotADirectory)
		}
		return &handle{s: s, n: n, flags: flags, dirPath: clean, entries: s.children(clean)}, nil
	}

	switch {
	case ok && n.dir:
		return nil, s.status(sshsess.FxFailure)
	case ok && flags&sshsess.FlagCreate != 0 && flags&sshsess.FlagExclusive != 0:
		return nil, s.status(sshsess.FxFileAlreadyExists)
	case !ok && flags&sshsess.FlagCreate == 0:
		return nil, s.status(sshsess.FxNoSuchFile)
	case !ok:
		parent, pok := s.e.nodes[path.Dir(clean)]
		if !pok || !parent.dir {
			return nil, s.status(sshsess.FxNoSuchFile)
		}
		n = newNode(false, mode)
		s.e.nodes[clean] = n
	}
	if flags&sshsess.FlagTruncate != 0 {
		n.data = nil
		n.attr.SetSize(0)
	}
	return &handle{s: s, n: n, flags: flags}, nil
}

func (s *sftp) children(dir string) []string {
	var names []string
	for p := range s.e.nodes {
		if p != dir && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names
}

func (s *sftp) LastError() sshsess.Code { return s.e.sftpCode }

func (s *sftp) Shutdown() error {
	s.e.release("sftp")
	return nil
}

// handle is an open file or directory. A directory handle lists the
// children present when it was opened.
type handle struct {
	s       *sftp
	n       *node
	flags   sshsess.OpenFlags
	pos     int
	entries []string
	dirPath string
}

func (h *handle) Fstat(attr *sshsess.FileAttr, set bool) error {
	done, err := h.s.e.enter("sftp-fstat", set)
	defer done()
	if err != nil {
		return err
	}
	if set {
		apply(h.n, *attr)
		return nil
	}
	*attr = h.n.attr
	return nil
}

func (h *handle) Read(p []byte) (int, error) {
	done, err := h.s.e.enter("sftp-read", len(p))
	defer done()
	if err != nil {
		return 0, err
	}
	if h.flags&sshsess.FlagWrite != 0 && h.flags&sshsess.FlagRead == 0 {
		return 0, h.s.status(sshsess.FxPermissionDenied)
	}
	if h.pos >= len(h.n.data) {
		return 0, nil
	}
	n := copy(p, h.n.data[h.pos:])
	h.pos += n
	return n, nil
}

func (h *handle) Write(p []byte) (int, error) {
	done, err := h.s.e.enter("sftp-write", len(p))
	defer done()
	if err != nil {
		return 0, err
	}
	if h.flags&sshsess.FlagWrite == 0 {
		return 0, h.s.status(sshsess.FxPermissionDenied)
	}
	if h.flags&sshsess.FlagAppend != 0 {
		h.pos = len(h.n.data)
	}
	if end := h.pos + len(p); end > len(h.n.data) {
		h.n.data = append(h.n.data, make([]byte, end-len(h.n.data))...)
	}
	copy(h.n.data[h.pos:], p)
	h.pos += len(p)
	h.n.attr.SetSize(uint64(len(h.n.data)))
	return len(p), nil
}

func (h *handle) Fsync() error {
	done, err := h.s.e.enter("sftp-fsync")
	defer done()
	return err
}

func (h *handle) Readdir(attr *sshsess.FileAttr) (string, error) {
	done, err := h.s.e.enter("sftp-readdir")
	defer done()
	if err != nil {
		return "", err
	}
	if h.entries == nil || h.pos >= len(h.entries) {
		return "", nil
	}
	name := h.entries[h.pos]
	h.pos++
	if n, ok := h.s.e.nodes[path.Join(h.dirPath, name)]; ok {
		*attr = n.attr
	}
	return name, nil
}

func (h *handle) Close() error {
	h.s.e.release("handle")
	return nil
}
