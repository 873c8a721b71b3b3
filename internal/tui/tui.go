// Package tui is the terminal front end of the activity monitor.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rsclarke/dnsmon/internal/module"
	"github.com/rsclarke/dnsmon/internal/monitor"
	"github.com/rsclarke/dnsmon/internal/notify"
	"go.uber.org/zap"
)

var clipWrite = clipboard.WriteAll

const notePage = "note"

// Controller is the part of the monitor the view drives.
type Controller interface {
	Updates() <-chan monitor.Update
	Done() <-chan struct{}
	OnStartButtonPressed()
	SetAutoScroll(enabled bool)
}

// Options configures a View.
type Options struct {
	AutoScroll bool
	// Restart restarts a running daemon. The key is ignored when nil.
	Restart func()
	// OnStatus observes every status update, e.g. for sd_notify.
	OnStatus func(module.State)
	Logger   *zap.Logger
}

type note struct {
	fatal bool
	text  string
}

// View renders monitor updates and maps keys to monitor actions.
type View struct {
	app    *tview.Application
	pages  *tview.Pages
	log    *tview.TextView
	status *tview.TextView

	ctrl     Controller
	restart  func()
	onStatus func(module.State)
	logger   *zap.Logger
	// dispatch runs controller calls off the event loop.
	dispatch func(func())

	notes chan note

	mu           sync.Mutex
	state        module.State
	startEnabled bool
	progress     bool
	autoScroll   bool
	flash        string
}

// New builds the view. Nothing is drawn until Run.
func New(opts Options) *View {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &View{
		app:          tview.NewApplication(),
		pages:        tview.NewPages(),
		restart:      opts.Restart,
		onStatus:     opts.OnStatus,
		logger:       logger.Named("tui"),
		dispatch:     func(f func()) { go f() },
		notes:        make(chan note, 16),
		startEnabled: true,
		autoScroll:   opts.AutoScroll,
	}

	v.log = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	v.log.SetBorder(true).SetTitle("DNS activity")
	v.log.SetWrap(true)

	v.status = tview.NewTextView().SetDynamicColors(true)
	v.status.SetBorder(true).SetTitle("Status")

	layout := tview.NewFlex().SetDirection(tview.FlexRow)
	layout.AddItem(v.log, 0, 1, true)
	layout.AddItem(v.status, 3, 0, false)

	v.pages.AddPage("main", layout, true, true)
	v.app.SetRoot(v.pages, true)
	v.app.SetInputCapture(v.handleKey)
	v.redrawStatus()

	return v
}

// Run draws the view for ctrl until the user quits, ctx ends or the monitor
// closes.
func (v *View) Run(ctx context.Context, ctrl Controller) error {
	v.ctrl = ctrl

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go v.pump(pumpCtx)

	if err := v.app.Run(); err != nil {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}

// Stop ends Run.
func (v *View) Stop() {
	v.app.Stop()
}

func (v *View) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			v.app.Stop()
			return
		case <-v.ctrl.Done():
			v.app.Stop()
			return
		case u := <-v.ctrl.Updates():
			if u.Kind == monitor.UpdateStatus && v.onStatus != nil {
				v.onStatus(u.State)
			}
			v.app.QueueUpdateDraw(func() { v.apply(u) })
		case n := <-v.notes:
			v.app.QueueUpdateDraw(func() { v.showNote(n) })
		}
	}
}

// apply changes the widgets for one update. It must run on the event loop.
func (v *View) apply(u monitor.Update) {
	switch u.Kind {
	case monitor.UpdateLog:
		v.log.SetText(u.Payload.Text)
		if u.Payload.ScrollToEnd {
			v.log.ScrollToEnd()
		}
		return
	case monitor.UpdateStatus:
		v.mu.Lock()
		v.state = u.State
		v.mu.Unlock()
	case monitor.UpdateStartControl:
		v.mu.Lock()
		v.startEnabled = u.Enabled
		v.mu.Unlock()
	case monitor.UpdateProgress:
		v.mu.Lock()
		v.progress = u.Enabled
		v.mu.Unlock()
	default:
		v.logger.Debug("ignoring update", zap.Stringer("kind", u.Kind))
		return
	}
	v.redrawStatus()
}

func (v *View) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlC || event.Key() == tcell.KeyEscape {
		if v.pages.HasPage(notePage) {
			v.pages.RemovePage(notePage)
			return nil
		}
		v.app.Stop()
		return nil
	}
	if event.Key() != tcell.KeyRune || v.pages.HasPage(notePage) {
		return event
	}

	switch event.Rune() {
	case 's', 'S':
		v.toggleDaemon()
	case 'a', 'A':
		v.toggleAutoScroll()
	case 'c', 'C':
		v.copyLog()
	case 'r', 'R':
		v.restartDaemon()
	case 'q', 'Q':
		v.app.Stop()
	default:
		return event
	}
	return nil
}

func (v *View) toggleDaemon() {
	v.mu.Lock()
	enabled := v.startEnabled
	if enabled {
		v.startEnabled = false
	}
	v.mu.Unlock()
	if !enabled {
		return
	}
	v.redrawStatus()
	v.dispatch(v.ctrl.OnStartButtonPressed)
}

func (v *View) toggleAutoScroll() {
	v.mu.Lock()
	v.autoScroll = !v.autoScroll
	enabled := v.autoScroll
	v.mu.Unlock()

	v.dispatch(func() { v.ctrl.SetAutoScroll(enabled) })
	v.setFlash(fmt.Sprintf("auto scroll %s", onOff(enabled)))
}

func (v *View) copyLog() {
	text := strings.TrimSpace(v.log.GetText(true))
	if text == "" {
		v.setFlash("nothing to copy")
		return
	}
	if err := clipWrite(text); err != nil {
		v.logger.Warn("clipboard write failed", zap.Error(err))
		v.setFlash("[red]copy failed[-]")
		return
	}
	v.setFlash("copied to clipboard")
}

func (v *View) restartDaemon() {
	v.mu.Lock()
	running := v.state == module.Running
	v.mu.Unlock()
	if v.restart == nil || !running {
		return
	}
	v.dispatch(v.restart)
	v.setFlash("restarting daemon")
}

func (v *View) setFlash(msg string) {
	v.mu.Lock()
	v.flash = msg
	v.mu.Unlock()
	v.redrawStatus()
}

func (v *View) redrawStatus() {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "daemon: %s%s[-]", stateColor(v.state), v.state)
	if v.progress {
		b.WriteString(" [yellow]...[-]")
	}
	b.WriteString("   ")
	if v.startEnabled {
		b.WriteString("s start/stop")
	} else {
		b.WriteString("[gray]s start/stop[-]")
	}
	fmt.Fprintf(&b, "  a auto scroll (%s)  c copy", onOff(v.autoScroll))
	if v.restart != nil {
		b.WriteString("  r restart")
	}
	b.WriteString("  q quit")
	if v.flash != "" {
		b.WriteString("   ")
		b.WriteString(v.flash)
	}
	v.status.SetText(b.String())
}

// showNote flashes recoverable notes in the status bar and shows fatal ones
// in a dialog.
func (v *View) showNote(n note) {
	if !n.fatal {
		v.setFlash("[yellow]" + n.text + "[-]")
		return
	}
	modal := tview.NewModal().
		SetText(fmt.Sprintf("Error\n\n%s", n.text)).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			v.pages.RemovePage(notePage)
		})
	v.pages.RemovePage(notePage)
	v.pages.AddPage(notePage, modal, true, true)
}

// Sink returns a notification sink for the view. Fatal messages open a
// dialog; recoverable ones only replace the status bar message.
func (v *View) Sink() notify.Sink {
	return viewSink{v: v}
}

type viewSink struct {
	v *View
}

func (s viewSink) Recoverable(key, text string) { s.v.enqueue(note{text: notify.Message(key)}) }

func (s viewSink) Fatal(key, text string) { s.v.enqueue(note{fatal: true, text: notify.Message(key)}) }

// enqueue never blocks: it is called while the monitor holds its lock.
func (v *View) enqueue(n note) {
	select {
	case v.notes <- n:
	default:
		v.logger.Warn("dropping notification", zap.String("text", n.text))
	}
}

func stateColor(s module.State) string {
	switch s {
	case module.Running:
		return "[green]"
	case module.Stopped:
		return "[red]"
	default:
		return "[yellow]"
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
