// Command taskmasterctl is the thin, non-interactive companion CLI
// for taskmasterd: it sends one command line over the control channel
// and prints the reply. Per SPEC_FULL.md §1, it stays a single-shot
// sender — no prompt, readline, or history — matching spec.md's scope
// for the "companion command-line tool."
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/lmnz/taskmasterd/pkg/protocol"
)

const helpText = `usage: taskmasterctl [-s socket] <command> [args...]

commands:
  status                 snapshot of every group and replica
  start <name>            post a start to every replica in the group
  stop <name>             post a stop
  restart <name>          post a restart
  reload                  reparse the configuration file and apply it
  attach <name>           stream a replica group's output until Ctrl-C
  detach <name>           stop streaming a replica group's output
  tail <name> [n]         print the last n output lines (default 20)
  quit | exit             ask the daemon to shut down gracefully
`

func main() {
	sockPath := flag.String("s", protocol.DefaultSocketPath, "control channel socket path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, helpText) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if args[0] == "help" {
		fmt.Print(helpText)
		return
	}

	conn, err := net.Dial("unix", *sockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmasterctl: connect %s: %v\n", *sockPath, err)
		os.Exit(1)
	}
	defer conn.Close()

	cmd := args[0]
	if _, err := conn.Write(protocol.EncodeCommand(cmd, args[1:]...)); err != nil {
		fmt.Fprintf(os.Stderr, "taskmasterctl: write: %v\n", err)
		os.Exit(1)
	}

	if cmd == "attach" {
		streamUntilInterrupted(conn)
		return
	}

	reply, err := protocol.ReadReply(conn)
	if err != nil && err != io.EOF {
		fmt.Fprintf(os.Stderr, "taskmasterctl: read: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(reply)
	if strings.HasPrefix(reply, "error:") {
		os.Exit(1)
	}
}

// streamUntilInterrupted copies attach output to stdout until a read
// returns EOF or an error. No SIGINT handler is installed, so Ctrl-C
// ends the client through the default signal action and deferred
// calls in main do not run; the kernel closes the socket on exit.
func streamUntilInterrupted(conn net.Conn) {
	r := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
