//go:build !linux

package reactor

import (
	"context"
	"errors"

	"github.com/arjenlentz/dpm/internal/logging"
	"github.com/arjenlentz/dpm/internal/netconn"
)

// ErrUnsupportedPlatform is returned by New on platforms other than Linux;
// the epoll-based reactor has no portable equivalent implemented here.
var ErrUnsupportedPlatform = errors.New("reactor: epoll backend only implemented for linux")

type Reactor struct{}

func New(manager *netconn.Manager, log *logging.Logger, backendNetwork, backendAddr string) (*Reactor, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *Reactor) Listen(network, addr string, unlinkStale bool) error {
	return ErrUnsupportedPlatform
}

func (r *Reactor) Run(ctx context.Context) error {
	return ErrUnsupportedPlatform
}
