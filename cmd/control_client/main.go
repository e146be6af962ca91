// Command control_client is Pebble's control channel: a thin RPC
// client that sends one RunControlCommand call to a running server and
// reports its result, the Go equivalent of ControlCommand::RunCommand
// in the original tree.
package main

import (
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/coroutine"
	"github.com/tencent/pebble/rpc"
	"github.com/tencent/pebble/session"
	"github.com/tencent/pebble/transport"
)

const controlCommandMethod = "ControlCommand:RunControlCommand"

var timeoutMs int64

var rootCmd = &cobra.Command{
	Use:           "control_client <service_url> <command> [args...]",
	Short:         "Send a control command to a Pebble server and print its result",
	Args:          cobra.MinimumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, description, err := runCommand(args[0], args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if result != 0 {
			fmt.Fprintf(os.Stderr, "command returned %d: %s\n", result, description)
			os.Exit(1)
		}
		fmt.Println(description)
		os.Exit(0)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&timeoutMs, "timeout-ms", 3000, "round-trip timeout in milliseconds")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runCommand sends command to serviceURL as a RunControlCommand call
// and blocks for the reply. It returns the server-side result code and
// description the way ControlCommand::RunCommand does; a non-nil error
// means the call itself never completed (dial failure, timeout, decode
// failure).
//
// control_client only ever needs one connection at a time, so it
// borrows it from a transport.ConnPool of size 1 instead of dialing
// and tearing the connection down by hand — the exclusive-borrow case
// ConnPool's doc comment describes.
func runCommand(serviceURL, command string) (result int32, description string, err error) {
	inst := rpc.NewInstance()
	handle := session.Handle(1)

	pool := transport.NewConnPool(serviceURL, 1, func() (*transport.Channel, error) {
		conn, format, derr := dial(serviceURL)
		if derr != nil {
			return nil, derr
		}
		return transport.Open(conn, inst, handle, format), nil
	})
	defer pool.Close()

	pc, err := pool.Get()
	if err != nil {
		return 0, "", err
	}
	succeeded := false
	defer func() {
		if !succeeded {
			pc.Invalidate()
		}
		pool.Put(pc)
	}()

	var code int32
	done := make(chan struct{})
	inst.Sched.Start(func(y *coroutine.Yielder) {
		code = inst.SendSync(y, handle, controlCommandMethod,
			encodeRunControlCommand(command),
			decodeRunControlCommand(&result, &description),
			timeoutMs)
		close(done)
	})

	ticker := newTicker(inst)
	defer ticker.stop()

	select {
	case <-done:
	case <-ticker.expired(timeoutMs):
		return 0, "", fmt.Errorf("control_client: timed out waiting for %s", serviceURL)
	}

	if code != 0 {
		return 0, "", fmt.Errorf("control_client: rpc failed with code %d", code)
	}
	succeeded = true
	return result, description, nil
}

func encodeRunControlCommand(command string) func(p codec.Protocol) error {
	return func(p codec.Protocol) error {
		if err := p.WriteStructBegin("ReqRunControlCommand"); err != nil {
			return err
		}
		if err := p.WriteFieldBegin("command", codec.TypeString, 1); err != nil {
			return err
		}
		if err := p.WriteString(command); err != nil {
			return err
		}
		if err := p.WriteFieldEnd(); err != nil {
			return err
		}
		if err := p.WriteFieldBegin("seq", codec.TypeI32, 2); err != nil {
			return err
		}
		if err := p.WriteI32(0); err != nil {
			return err
		}
		if err := p.WriteFieldEnd(); err != nil {
			return err
		}
		if err := p.WriteFieldStop(); err != nil {
			return err
		}
		return p.WriteStructEnd()
	}
}

func decodeRunControlCommand(result *int32, description *string) func(p codec.Protocol) error {
	return func(p codec.Protocol) error {
		if _, err := p.ReadStructBegin(); err != nil {
			return err
		}
		for {
			_, typeID, id, err := p.ReadFieldBegin()
			if err != nil {
				return err
			}
			if typeID == codec.TypeStop {
				break
			}
			switch id {
			case 1:
				v, err := p.ReadI32()
				if err != nil {
					return err
				}
				*result = v
			case 2:
				v, err := p.ReadString()
				if err != nil {
					return err
				}
				*description = v
			default:
				return fmt.Errorf("control_client: unexpected field %d in reply", id)
			}
			if err := p.ReadFieldEnd(); err != nil {
				return err
			}
		}
		return p.ReadStructEnd()
	}
}

// dial opens service_url's transport and returns the codec format this
// client speaks on it. Pebble negotiates format at Attach time, not on
// the wire, so control_client always speaks Binary, the format every
// server accepts by construction (codec.FormatBinary is the zero
// value every channel falls back to).
func dial(serviceURL string) (net.Conn, codec.FormatType, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, 0, fmt.Errorf("control_client: bad service url %q: %w", serviceURL, err)
	}

	network := u.Scheme
	switch network {
	case "tcp", "unix":
	default:
		return nil, 0, fmt.Errorf("control_client: unsupported scheme %q", u.Scheme)
	}

	addr := u.Host
	if network == "unix" {
		addr = u.Path
	}

	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, 0, fmt.Errorf("control_client: dial %s: %w", serviceURL, err)
	}
	return conn, codec.FormatBinary, nil
}
