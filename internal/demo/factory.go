package demo

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/server"
	"github.com/vango-dev/uisync/pkg/upload"
)

// Server RPC interfaces.
const (
	CounterRPC = "CounterRpc"
	ButtonRPC  = "ButtonRpc"
)

// MaxStep bounds a single CounterRpc.add.
const MaxStep = 1000

// ErrStepTooLarge is returned by CounterRpc.add for steps beyond MaxStep.
var ErrStepTooLarge = errors.New("demo: counter step too large")

// NewRegistry returns a registry with the demo connector types and their
// server methods.
func NewRegistry() *connector.Registry {
	reg := connector.NewRegistry()
	reg.MustRegisterType(connector.TypeInfo{Name: TypeApp})
	reg.MustRegisterType(connector.TypeInfo{Name: TypeLabel})
	reg.MustRegisterType(connector.TypeInfo{Name: TypeButton})
	reg.MustRegisterType(connector.TypeInfo{Name: TypeCounter})
	reg.MustRegisterType(connector.TypeInfo{Name: TypeUpload})

	reg.RegisterRPC(TypeCounter, CounterRPC, "add", connector.Method1(func(c *Counter, n int) error {
		if n > MaxStep || n < -MaxStep {
			return fmt.Errorf("%w: %d", ErrStepTooLarge, n)
		}
		c.Add(n)
		return nil
	}))
	reg.RegisterRPC(TypeCounter, CounterRPC, "reset", connector.Method0(func(c *Counter) error {
		c.Reset()
		return nil
	}))
	reg.RegisterRPC(TypeButton, ButtonRPC, "click", connector.Method0(func(b *Button) error {
		if b.OnClick != nil {
			b.OnClick()
		}
		return nil
	}))
	return reg
}

// ReceiverFunc creates the stream variable of a new upload target. The
// callbacks must be installed on the receiver.
type ReceiverFunc func(cb upload.Callbacks) (connector.StreamVariable, error)

// FileReceivers stores uploads in dir.
func FileReceivers(dir string, maxSize int64) ReceiverFunc {
	return func(cb upload.Callbacks) (connector.StreamVariable, error) {
		fr, err := upload.NewFileReceiver(dir, maxSize)
		if err != nil {
			return nil, err
		}
		fr.Callbacks = cb
		return fr, nil
	}
}

// S3Receivers streams uploads into bucket.
func S3Receivers(client upload.PutObjectAPI, bucket, prefix string) ReceiverFunc {
	return func(cb upload.Callbacks) (connector.StreamVariable, error) {
		r := upload.NewS3Receiver(client, bucket, prefix)
		r.Callbacks = cb
		return r, nil
	}
}

// Options configures Factory.
type Options struct {
	// Title is shown by the app. Default: "uisync demo".
	Title string

	// Receivers creates upload targets. Nil disables uploads.
	Receivers ReceiverFunc

	// ClockInterval is the period of the pushed clock. Zero disables the
	// clock; it also only runs for UIs with push enabled.
	ClockInterval time.Duration

	Logger *slog.Logger
}

// Factory returns a UI factory building the demo app.
func Factory(opts Options) server.UIFactory {
	if opts.Title == "" {
		opts.Title = "uisync demo"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "demo")

	return func(req *server.InitRequest) (connector.Connector, error) {
		app := NewApp(opts.Title)
		app.AddChild(NewButton("Reset", app.Counter.Reset))

		if opts.Receivers != nil {
			var target *Upload
			recv, err := opts.Receivers(upload.Callbacks{
				Finished: func(f *upload.File) {
					target.addFile(f.Filename)
					app.Status.SetText("uploaded " + f.Filename)
				},
				Failed: func(ev connector.StreamingErrorEvent) {
					app.Status.SetText("upload failed: " + ev.Err.Error())
				},
			})
			if err != nil {
				return nil, err
			}
			target = NewUpload(strconv.Itoa(req.UI.ID()), recv)
			app.AttachUpload(target)
		}

		if opts.ClockInterval > 0 && req.UI.PushConfig().Mode.Enabled() {
			go runClock(req.UI, app.Clock, opts.ClockInterval, logger)
		}
		return app, nil
	}
}

// runClock updates clock every interval until the UI closes.
func runClock(ui *server.UI, clock *Label, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var stopped atomic.Bool
	for range ticker.C {
		if ui.Session().IsClosed() {
			break
		}
		ui.Access(func() {
			if ui.IsClosing() {
				stopped.Store(true)
				return
			}
			clock.SetText(time.Now().Format(time.TimeOnly))
		})
		if stopped.Load() {
			break
		}
	}
	logger.Debug("clock stopped", "ui_id", ui.ID())
}

func uploadURL(uiID, connectorID, name, secKey string) string {
	return protocol.PathUpload + "/" + uiID + "/" + connectorID + "/" + name + "/" + secKey
}
