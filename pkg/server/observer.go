package server

import (
	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/rpc"
	"github.com/vango-dev/uisync/pkg/upload"
)

// Rejection reasons reported to Observer.MessageRejected.
const (
	RejectProtocol = "protocol"
	RejectSecurity = "security"
)

// Observer receives server lifecycle events, typically to record metrics.
// Methods are called synchronously and must not block.
type Observer interface {
	SessionOpened()
	SessionClosed()
	Dispatched(res rpc.Result)
	MessageRejected(reason string)
	PushConnected(t push.Transport)
	PushDisconnected(t push.Transport)
	UploadDone(res upload.Result, err error)
}

type nopObserver struct{}

func (nopObserver) SessionOpened()                  {}
func (nopObserver) SessionClosed()                  {}
func (nopObserver) Dispatched(rpc.Result)           {}
func (nopObserver) MessageRejected(string)          {}
func (nopObserver) PushConnected(push.Transport)    {}
func (nopObserver) PushDisconnected(push.Transport) {}
func (nopObserver) UploadDone(upload.Result, error) {}
