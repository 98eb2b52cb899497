// Package conf turns command-line flags and the YAML config file into the
// options the phone runs with.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/svanichkin/ipphone/network"
	"github.com/svanichkin/ipphone/network/tcp"
	"github.com/svanichkin/ipphone/network/udp"
)

// AppMode describes whether the phone starts by listening or by dialing.
type AppMode int

const (
	ModeListen AppMode = iota
	ModeDial
)

func (m AppMode) String() string {
	if m == ModeDial {
		return "dial"
	}
	return "listen"
}

// AppOptions aggregates the CLI flags and config file values the application needs.
type AppOptions struct {
	Verbose     bool
	ConfigPath  string
	Mode        AppMode
	ListenPort  int
	BindHost    string
	DialTimeout time.Duration
	ChunkSize   int
	NullAudio   bool
	// Target is the endpoint dialed at startup in ModeDial.
	Target network.Endpoint
	// ContactName is set when Target came from a contact.
	ContactName string
	Config      *File
}

type flagValues struct {
	port        int
	bind        string
	configPath  string
	dialTimeout time.Duration
	chunkSize   int
	nullAudio   bool
	verbose     bool
}

// NewRootCommand builds the ipphone command. run is invoked with the resolved
// options once flags, the config file and the positional argument agree.
func NewRootCommand(version string, run func(*AppOptions) error) *cobra.Command {
	var fv flagValues
	cmd := &cobra.Command{
		Use:   "ipphone [address[:port] | contact]",
		Short: "Two-party voice calls over TCP signaling and UDP audio",
		Long: "ipphone listens for a call when started without arguments and dials when\n" +
			"given an address or the name of a contact from the config file.",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveOptions(cmd, fv, args)
			if err != nil {
				return err
			}
			return run(opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&fv.port, "port", "p", network.DefaultListenPort, "control port (media uses port+1)")
	f.StringVar(&fv.bind, "bind", "", "local address to bind (default all interfaces)")
	f.StringVarP(&fv.configPath, "config", "c", "", "config file or profile name")
	f.DurationVar(&fv.dialTimeout, "dial-timeout", tcp.DefaultDialTimeout, "how long to wait for the callee to connect")
	f.IntVar(&fv.chunkSize, "chunk-size", udp.DefaultChunkSize, "audio bytes per datagram")
	f.BoolVar(&fv.nullAudio, "null-audio", false, "use silent in-memory audio devices")
	f.BoolVarP(&fv.verbose, "verbose", "v", false, "verbose logging")
	return cmd
}

// resolveOptions merges the config file under the explicitly set flags and picks
// the startup mode from the positional argument.
func resolveOptions(cmd *cobra.Command, fv flagValues, args []string) (*AppOptions, error) {
	opts := &AppOptions{
		Verbose:    fv.verbose,
		ConfigPath: resolveConfigPath(fv.configPath),
		NullAudio:  fv.nullAudio,
	}
	file, err := LoadFile(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts.Config = file

	changed := cmd.Flags().Changed
	opts.ListenPort = pick(changed("port"), fv.port, file.Port)
	opts.BindHost = fv.bind
	if !changed("bind") && file.Bind != "" {
		opts.BindHost = file.Bind
	}
	opts.DialTimeout = pick(changed("dial-timeout"), fv.dialTimeout, file.DialTimeout)
	opts.ChunkSize = pick(changed("chunk-size"), fv.chunkSize, file.ChunkSize)

	if err := network.ValidatePort(opts.ListenPort); err != nil {
		return nil, err
	}
	if opts.ChunkSize <= 0 || opts.ChunkSize > 65507 {
		return nil, fmt.Errorf("chunk size %d out of range", opts.ChunkSize)
	}
	if opts.DialTimeout <= 0 {
		return nil, fmt.Errorf("dial timeout must be positive")
	}

	if len(args) == 0 {
		opts.Mode = ModeListen
		return opts, nil
	}
	target := strings.TrimSpace(args[0])
	if looksLikePort(target) {
		return nil, fmt.Errorf("%q looks like a port; use --port", target)
	}
	if !isLikelyDial(target) {
		addr, ok := file.Lookup(target)
		if !ok {
			return nil, fmt.Errorf("contact %q not found in %s", target, opts.ConfigPath)
		}
		opts.ContactName = target
		target = addr
	}
	ep, err := network.ParseEndpoint(target, opts.ListenPort)
	if err != nil {
		return nil, err
	}
	opts.Mode = ModeDial
	opts.Target = ep
	return opts, nil
}

// pick prefers an explicitly set flag, then a non-zero file value, then the flag default.
func pick[T comparable](flagSet bool, flagVal, fileVal T) T {
	var zero T
	if !flagSet && fileVal != zero {
		return fileVal
	}
	return flagVal
}
