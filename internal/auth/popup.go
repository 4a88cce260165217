package auth

import (
	"context"
	"errors"
	"time"
)

// FlowState is the login popup lifecycle. Three independent event sources
// (a received message, the closed-window poll, the timeout) compete to move
// an opened flow to exactly one terminal state.
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowOpened
	FlowResolved
	FlowCancelled
	FlowTimedOut
)

func (s FlowState) String() string {
	switch s {
	case FlowIdle:
		return "idle"
	case FlowOpened:
		return "opened"
	case FlowResolved:
		return "resolved"
	case FlowCancelled:
		return "cancelled"
	case FlowTimedOut:
		return "timed out"
	}
	return "unknown"
}

// Popup abstracts the cross-origin login window. Messages delivers the
// credential posted back by the login page; IsClosed is polled because a
// cross-origin window emits no close event the embedding page can hear.
type Popup interface {
	Messages() <-chan string
	IsClosed() bool
	Close()
}

// Opener opens the login window. Supplied by the embedding environment.
type Opener func(loginURL string) (Popup, error)

// PopupFlow runs one login attempt to completion.
type PopupFlow struct {
	opener       Opener
	timeout      time.Duration
	pollInterval time.Duration
}

func NewPopupFlow(opener Opener, timeout time.Duration) *PopupFlow {
	return &PopupFlow{
		opener:       opener,
		timeout:      timeout,
		pollInterval: 500 * time.Millisecond,
	}
}

// Run opens the popup and blocks until one of the producers resolves it.
// Every path (message, window closed, timeout, context cancellation)
// returns here; the caller can never be left hanging. A terminal state
// other than FlowResolved means "no credential", not an error.
func (f *PopupFlow) Run(ctx context.Context, loginURL string) (string, FlowState, error) {
	if f.opener == nil {
		return "", FlowIdle, errors.New("no popup opener configured")
	}
	popup, err := f.opener(loginURL)
	if err != nil {
		return "", FlowIdle, err
	}
	defer popup.Close()

	poll := time.NewTicker(f.pollInterval)
	defer poll.Stop()
	deadline := time.NewTimer(f.timeout)
	defer deadline.Stop()

	for {
		select {
		case msg, ok := <-popup.Messages():
			if !ok || msg == "" {
				// The login page reported back without a credential: the
				// user closed out of the flow.
				return "", FlowCancelled, nil
			}
			return msg, FlowResolved, nil
		case <-poll.C:
			if popup.IsClosed() {
				return "", FlowCancelled, nil
			}
		case <-deadline.C:
			return "", FlowTimedOut, nil
		case <-ctx.Done():
			return "", FlowCancelled, ctx.Err()
		}
	}
}
