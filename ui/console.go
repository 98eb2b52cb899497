// Package ui is the line-oriented console that drives a phone: it reads
// commands from stdin and prints call events as they arrive.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/svanichkin/ipphone/logs"
	"github.com/svanichkin/ipphone/mediactrl"
	"github.com/svanichkin/ipphone/network"
	"github.com/svanichkin/ipphone/phone"
	"golang.org/x/term"
)

// Phone is the part of *phone.Phone the console drives.
type Phone interface {
	Dial(network.Endpoint) error
	Listen(port int) error
	StopListening() error
	Hangup() error
	State() phone.CallState
	Stats() phone.Stats
}

// ContactLookup resolves a contact name to an address.
type ContactLookup func(name string) (string, bool)

// ContactSaver stores a new contact.
type ContactSaver func(name, address string) error

// Options configures a Console.
type Options struct {
	In       io.Reader
	Out      io.Writer
	Switches *mediactrl.Switches
	Contacts ContactLookup
	// SaveContact backs the "add" command; nil disables it.
	SaveContact ContactSaver
	// Port is used by "listen" without an argument and as the default dial port.
	Port int
	// SampleEvery is the rate meter interval; zero means one second.
	SampleEvery time.Duration
}

// Console reads commands and prints events. HandleEvent may be called from any
// goroutine.
type Console struct {
	ph       Phone
	in       io.Reader
	out      io.Writer
	switches *mediactrl.Switches
	contacts ContactLookup
	save     ContactSaver
	port     int
	every    time.Duration
	prompt   bool
	meter    RateMeter

	mu sync.Mutex
}

// NewConsole returns a console over ph. Missing In/Out default to stdin/stdout;
// the prompt is shown only when both are terminals.
func NewConsole(ph Phone, opts Options) *Console {
	c := &Console{
		ph:       ph,
		in:       opts.In,
		out:      opts.Out,
		switches: opts.Switches,
		contacts: opts.Contacts,
		save:     opts.SaveContact,
		port:     opts.Port,
		every:    opts.SampleEvery,
	}
	if c.in == nil {
		c.in = os.Stdin
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.port == 0 {
		c.port = network.DefaultListenPort
	}
	if c.switches == nil {
		c.switches = mediactrl.New()
	}
	if c.every <= 0 {
		c.every = time.Second
	}
	c.prompt = isTerminal(c.in) && isTerminal(c.out)
	return c
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var errQuit = errors.New("quit")

// Run processes commands until ctx is done, input ends or "quit" is entered.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	ticker := time.NewTicker(c.every)
	defer ticker.Stop()

	c.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case now := <-ticker.C:
			c.meter.Sample(c.ph.Stats(), now)
		case line := <-lines:
			if err := c.Exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("error: %v\n", err)
			}
			c.showPrompt()
		}
	}
}

// Exec runs one command line.
func (c *Console) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	logs.LogV("[ui] command %q", line)
	switch cmd {
	case "dial", "call", "d":
		if len(args) != 1 {
			return fmt.Errorf("usage: dial <address[:port] | contact>")
		}
		ep, err := c.resolve(args[0])
		if err != nil {
			return err
		}
		return c.ph.Dial(ep)
	case "listen", "l":
		port := c.port
		if len(args) > 0 {
			p, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("bad port %q", args[0])
			}
			port = p
		}
		return c.ph.Listen(port)
	case "add":
		if len(args) != 2 {
			return fmt.Errorf("usage: add <name> <address[:port]>")
		}
		if c.save == nil {
			return fmt.Errorf("contacts cannot be saved")
		}
		if _, err := network.ParseEndpoint(args[1], c.port); err != nil {
			return err
		}
		if err := c.save(args[0], args[1]); err != nil {
			return err
		}
		c.printf("saved %s\n", args[0])
	case "stop":
		return c.ph.StopListening()
	case "hangup", "h", "bye":
		return c.ph.Hangup()
	case "mute", "m":
		on := c.switches.ToggleCapture()
		c.printf("microphone %s\n", onOff(on))
	case "deafen", "speaker", "s":
		on := c.switches.TogglePlayback()
		c.printf("speaker %s\n", onOff(on))
	case "status", "st":
		c.printStatus()
	case "help", "?":
		c.printf("%s", helpText)
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (c *Console) resolve(target string) (network.Endpoint, error) {
	if c.contacts != nil {
		if addr, ok := c.contacts(target); ok {
			target = addr
		}
	}
	return network.ParseEndpoint(target, c.port)
}

// HandleEvent prints a phone event.
func (c *Console) HandleEvent(ev phone.Event) {
	switch ev.Kind {
	case phone.EventSignal:
		return
	case phone.EventListening:
		c.notice("waiting for a call on port %d\n", ev.Remote.Port)
	case phone.EventListenStopped:
		c.notice("stopped listening\n")
	case phone.EventIncoming:
		c.notice("incoming call from %s\n", ev.Remote)
	case phone.EventConnecting:
		c.notice("calling %s…\n", ev.Remote)
	case phone.EventConnected:
		c.notice("connected to %s\n", ev.Remote)
	case phone.EventCallEnded:
		if ev.Reason == phone.ReasonCancelled {
			c.notice("call to %s cancelled\n", ev.Remote)
		} else {
			c.notice("call with %s ended (%s) after %s\n", ev.Remote, ev.Reason, formatDuration(ev.Duration))
		}
	case phone.EventError:
		c.notice("error: %v\n", ev.Err)
	}
	c.showPrompt()
}

func (c *Console) printStatus() {
	st := c.ph.Stats()
	sw := c.switches.Snapshot()
	if st.State != phone.StateConnected {
		c.printf("%s  mic %s  speaker %s\n", st.State, onOff(sw.CaptureEnabled), onOff(sw.PlaybackEnabled))
		return
	}
	tx, rx := c.meter.Snapshot()
	c.printf("%s to %s  %s  %s  mic %s  speaker %s\n",
		st.State, st.Remote, formatDuration(time.Since(st.Since)), buildRateLabel(tx, rx),
		onOff(sw.CaptureEnabled), onOff(sw.PlaybackEnabled))
	c.printf("sent %d packets (%d bytes), received %d packets (%d bytes)\n",
		st.TxPackets, st.TxBytes, st.RxPackets, st.RxBytes)
}

func (c *Console) showPrompt() {
	if !c.prompt {
		return
	}
	c.printf("%s> ", c.ph.State())
}

// notice prints an asynchronous message over the pending prompt.
func (c *Console) notice(format string, args ...any) {
	if c.prompt {
		format = "\r" + format
	}
	c.printf(format, args...)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

const helpText = `commands:
  dial <address[:port] | contact>   call a peer
  add <name> <address[:port]>       save a contact
  listen [port]                     wait for a call
  stop                              stop listening
  hangup                            end the call, cancel a dial or stop listening
  mute                              toggle the microphone
  deafen                            toggle the speaker
  status                            show the call state
  quit                              leave
`
