package demo

import (
	"github.com/vango-dev/uisync/pkg/connector"
)

// Connector type names.
const (
	TypeApp     = "demo.App"
	TypeLabel   = "demo.Label"
	TypeButton  = "demo.Button"
	TypeCounter = "demo.Counter"
	TypeUpload  = "demo.Upload"
)

// Client RPC interfaces.
const (
	NotificationRPC = "NotificationClientRpc"
	NotifyMethod    = "notify"
)

// App is the root of a demo UI.
type App struct {
	connector.Base
	Title   string
	Counter *Counter
	Clock   *Label
	Status  *Label
	Upload  *Upload
}

type appState struct {
	Title string `json:"title"`
}

// NewApp creates an app root with its children attached.
func NewApp(title string) *App {
	a := &App{
		Title:   title,
		Counter: NewCounter(),
		Clock:   NewLabel(""),
		Status:  NewLabel("ready"),
	}
	a.Init(a, TypeApp)
	a.AddChild(a.Counter)
	a.AddChild(a.Clock)
	a.AddChild(a.Status)
	a.SetErrorHandler(connector.ErrorHandlerFunc(func(ev *connector.ErrorEvent) {
		a.Status.SetText("error: " + ev.Err.Error())
		a.Call(NotificationRPC, NotifyMethod, ev.Err.Error())
	}))
	return a
}

func (a *App) State() any { return appState{Title: a.Title} }

// ThemeResources implements connector.ThemeResourceUser.
func (a *App) ThemeResources() []string { return []string{"styles.css"} }

// AttachUpload adds u as a child of the app.
func (a *App) AttachUpload(u *Upload) {
	a.Upload = u
	a.AddChild(u)
}

// Label displays text.
type Label struct {
	connector.Base
	text string
}

type labelState struct {
	Text string `json:"text"`
}

func NewLabel(text string) *Label {
	l := &Label{text: text}
	l.Init(l, TypeLabel)
	return l
}

func (l *Label) Text() string { return l.text }
func (l *Label) State() any   { return labelState{Text: l.text} }

// SetText changes the label text and marks it dirty.
func (l *Label) SetText(text string) {
	if l.text == text {
		return
	}
	l.text = text
	l.MarkDirty()
}

// Counter holds a value the client changes with CounterRpc.add.
type Counter struct {
	connector.Base
	value int
}

type counterState struct {
	Value int `json:"value"`
}

func NewCounter() *Counter {
	c := &Counter{}
	c.Init(c, TypeCounter)
	return c
}

func (c *Counter) Value() int { return c.value }
func (c *Counter) State() any { return counterState{Value: c.value} }

// Reset sets the value to zero.
func (c *Counter) Reset() { c.Add(-c.value) }

// Add changes the value by n.
func (c *Counter) Add(n int) {
	c.value += n
	c.MarkDirty()
}

// Button calls OnClick when clicked in the client.
type Button struct {
	connector.Base
	Caption string
	OnClick func()
}

type buttonState struct {
	Caption string `json:"caption"`
}

func NewButton(caption string, onClick func()) *Button {
	b := &Button{Caption: caption, OnClick: onClick}
	b.Init(b, TypeButton)
	return b
}

func (b *Button) State() any { return buttonState{Caption: b.Caption} }

// Upload is an upload target. Its stream variable is registered on the
// first response, once the connector has an id.
type Upload struct {
	connector.Base
	uiID    string
	recv    connector.StreamVariable
	target  string
	files   []string
}

type uploadState struct {
	Target string   `json:"target,omitempty"`
	Files  []string `json:"files"`
}

// NewUpload creates an upload target for the UI with id uiID.
func NewUpload(uiID string, recv connector.StreamVariable) *Upload {
	u := &Upload{uiID: uiID, recv: recv}
	u.Init(u, TypeUpload)
	return u
}

func (u *Upload) State() any {
	return uploadState{Target: u.target, Files: append([]string{}, u.files...)}
}

// Target returns the upload url, empty before the first response.
func (u *Upload) Target() string { return u.target }

// Files returns the names of finished uploads.
func (u *Upload) Files() []string { return u.files }

// BeforeClientResponse implements connector.ResponseListener.
func (u *Upload) BeforeClientResponse(initial bool) {
	if u.target != "" || u.Tracker() == nil {
		return
	}
	key := u.Tracker().AddStreamVariable(u.ConnectorID(), "file", u.recv)
	u.target = uploadURL(u.uiID, u.ConnectorID(), "file", key)
}

func (u *Upload) addFile(name string) {
	u.files = append(u.files, name)
	u.MarkDirty()
}
