package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/svanichkin/ipphone/conf"
	"github.com/svanichkin/ipphone/device"
	"github.com/svanichkin/ipphone/logs"
	"github.com/svanichkin/ipphone/mediactrl"
	"github.com/svanichkin/ipphone/phone"
	"github.com/svanichkin/ipphone/ui"
)

var version = "dev"

func main() {
	cmd := conf.NewRootCommand(appVersion(), run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[ipphone] %v\n", err)
		os.Exit(1)
	}
}

func run(opts *conf.AppOptions) error {
	logOutput := io.Writer(os.Stderr)
	sink, logPath, logErr := logs.OpenSink(opts.ConfigPath)
	if logErr == nil {
		defer sink.Close()
		logOutput = io.MultiWriter(os.Stderr, sink)
	}
	logs.Setup(opts.Verbose, logOutput)
	if logErr != nil {
		logrus.WithError(logErr).Warnf("[ipphone] log file %s disabled", logPath)
	}

	appCtx, appCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer appCancel()

	var devices device.Provider = device.Malgo{}
	if opts.NullAudio {
		devices = &device.Memory{Discard: true}
		logrus.Info("[ipphone] null audio: nothing is captured or played")
	}

	switches := mediactrl.New()
	var console *ui.Console
	ph := phone.New(phone.Config{
		BindHost:    opts.BindHost,
		DialTimeout: opts.DialTimeout,
		ChunkSize:   opts.ChunkSize,
		Devices:     devices,
		Switches:    switches,
		OnEvent: func(ev phone.Event) {
			if console != nil {
				console.HandleEvent(ev)
			}
		},
	})
	defer ph.Close()

	console = ui.NewConsole(ph, ui.Options{
		Switches: switches,
		Contacts: opts.Config.Lookup,
		SaveContact: func(name, address string) error {
			if err := opts.Config.Add(conf.Contact{Name: name, Address: address}); err != nil {
				return err
			}
			return opts.Config.Save(opts.ConfigPath)
		},
		Port: opts.ListenPort,
	})
	unsubscribe := switches.Subscribe(func(st mediactrl.State) {
		logrus.WithFields(logrus.Fields{"mic": st.CaptureEnabled, "speaker": st.PlaybackEnabled}).Info("[ipphone] audio switches")
	})
	defer unsubscribe()

	logrus.WithFields(logrus.Fields{
		"version": appVersion(),
		"mode":    opts.Mode.String(),
		"port":    opts.ListenPort,
		"config":  opts.ConfigPath,
	}).Info("[ipphone] starting")

	switch opts.Mode {
	case conf.ModeDial:
		if opts.ContactName != "" {
			logrus.WithField("contact", opts.ContactName).Info("[ipphone] dialing contact")
		}
		if err := ph.Dial(opts.Target); err != nil {
			return err
		}
	default:
		if err := ph.Listen(opts.ListenPort); err != nil {
			return err
		}
	}

	if logErr == nil {
		fmt.Fprintf(os.Stderr, "[ipphone] logs: %s\n", logPath)
		logs.Detach(sink)
	} else {
		logs.Detach(nil)
	}
	err := console.Run(appCtx)
	logrus.Info("[ipphone] shutting down")
	return err
}

// appVersion prefers the linker-set version, then the module version, then a
// pseudo-version built from the VCS stamp.
func appVersion() string {
	if v := strings.TrimSpace(version); v != "" && v != "dev" {
		return v
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if v := strings.TrimSpace(bi.Main.Version); v != "" && v != "(devel)" {
		return v
	}
	stamp := make(map[string]string, len(bi.Settings))
	for _, kv := range bi.Settings {
		stamp[kv.Key] = kv.Value
	}
	return pseudoVersion(stamp["vcs.revision"], stamp["vcs.time"], stamp["vcs.modified"] == "true")
}

func pseudoVersion(rev, stamp string, dirty bool) string {
	if rev == "" {
		return "dev"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "+dirty"
	}
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return rev
	}
	return "v0.0.0-" + t.UTC().Format("20060102150405") + "-" + rev
}
