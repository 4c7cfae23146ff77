package push

import (
	"context"
	"time"

	"github.com/vango-dev/uisync/pkg/uidl"
)

// SendNotification sends n over res, waits at most wait for the write,
// then closes res. It is used on resources that never get bound to a
// connection, such as a rejected handshake.
func SendNotification(res Resource, n uidl.Notification, wait time.Duration) error {
	if wait <= 0 {
		wait = DefaultDisconnectWait
	}
	f := res.Send(uidl.CriticalNotification(n))
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	err := f.Wait(ctx)
	cancel()
	if cerr := res.Close(); err == nil {
		err = cerr
	}
	return err
}

// RefreshAndDisconnect asks the client to reload and closes res.
func RefreshAndDisconnect(res Resource) error {
	return SendNotification(res, uidl.Notification{}, DefaultDisconnectWait)
}
