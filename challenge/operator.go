package challenge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Operator is the human-in-the-loop signal channel. AwaitConfirmation
// blocks until a person confirms the challenge is done, or returns an error
// if the channel itself breaks.
type Operator interface {
	AwaitConfirmation(prompt string) error
}

// OperatorFunc adapts a plain function to Operator.
type OperatorFunc func(prompt string) error

func (f OperatorFunc) AwaitConfirmation(prompt string) error { return f(prompt) }

// ConsoleOperator prompts on Out and waits for a line on In.
type ConsoleOperator struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewConsoleOperator creates a ConsoleOperator reading confirmations from in
// and writing prompts to out.
func NewConsoleOperator(in io.Reader, out io.Writer) *ConsoleOperator {
	return &ConsoleOperator{in: bufio.NewReader(in), out: out}
}

func (c *ConsoleOperator) AwaitConfirmation(prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s\nPress Enter to continue... ", prompt)
	line, err := c.in.ReadString('\n')
	if err != nil {
		// A final line without a newline still counts as a confirmation.
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) != "" {
			return nil
		}
		return fmt.Errorf("challenge: read operator confirmation: %w", err)
	}
	return nil
}

// ErrOperatorClosed is returned by a ChannelOperator that was closed while
// a confirmation was pending or before one was requested.
var ErrOperatorClosed = errors.New("challenge: operator channel closed")

// PendingStatus describes a confirmation the ChannelOperator is waiting on.
type PendingStatus struct {
	Pending bool
	Prompt  string
	Since   time.Time
}

// ChannelOperator receives confirmations programmatically, e.g. from an
// HTTP endpoint. At most one confirmation is pending at a time.
type ChannelOperator struct {
	mu      sync.Mutex
	pending *pendingConfirm
	closed  chan struct{}
	once    sync.Once
}

type pendingConfirm struct {
	prompt string
	since  time.Time
	ack    chan struct{}
}

// NewChannelOperator creates an idle ChannelOperator.
func NewChannelOperator() *ChannelOperator {
	return &ChannelOperator{closed: make(chan struct{})}
}

func (o *ChannelOperator) AwaitConfirmation(prompt string) error {
	p := &pendingConfirm{prompt: prompt, since: time.Now(), ack: make(chan struct{})}

	o.mu.Lock()
	select {
	case <-o.closed:
		o.mu.Unlock()
		return ErrOperatorClosed
	default:
	}
	if o.pending != nil {
		o.mu.Unlock()
		return errors.New("challenge: a confirmation is already pending")
	}
	o.pending = p
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.pending == p {
			o.pending = nil
		}
		o.mu.Unlock()
	}()

	select {
	case <-p.ack:
		return nil
	case <-o.closed:
		return ErrOperatorClosed
	}
}

// Confirm releases the pending confirmation and returns its status as it
// was at release. It reports false when nothing is pending.
func (o *ChannelOperator) Confirm() (PendingStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return PendingStatus{}, false
	}
	released := PendingStatus{Pending: true, Prompt: o.pending.prompt, Since: o.pending.since}
	close(o.pending.ack)
	o.pending = nil
	return released, true
}

// Status reports whether a confirmation is pending.
func (o *ChannelOperator) Status() PendingStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return PendingStatus{}
	}
	return PendingStatus{Pending: true, Prompt: o.pending.prompt, Since: o.pending.since}
}

// Close fails any pending and future confirmations with ErrOperatorClosed.
func (o *ChannelOperator) Close() {
	o.once.Do(func() { close(o.closed) })
}
