// Command ppcbc is the client side of the file-transfer protocol: it reads
// its entire standard input as the payload and ships it to a ppcbs server
// over one of three transport modes.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"ppcb/internal/clientsess"
	"ppcb/internal/config"
	"ppcb/internal/logx"
	"ppcb/internal/transport"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-debug] <tcp|udp|udpr> <host> <port>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(2)
	}
	logx.SetDebug(*debug)

	mode, err := config.ParseMode(flag.Arg(0))
	if err != nil {
		logx.Fatal("%s", err)
	}
	host := flag.Arg(1)
	if err := config.ValidateHost(host); err != nil {
		logx.Fatal("%s", err)
	}
	port, err := config.ParsePort(flag.Arg(2))
	if err != nil {
		logx.Fatal("%s", err)
	}

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		logx.Fatal("reading stdin: %s", err)
	}
	if len(payload) == 0 {
		logx.Fatal("stdin payload must not be empty")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := dial(mode, addr)
	if err != nil {
		logx.Fatal("dial %s: %s", addr, err)
	}

	sess := clientsess.NewSession(conn, mode)
	if perr := sess.SendAll(payload); perr != nil {
		logx.Error("transfer failed: %s", perr)
		os.Exit(1)
	}
}

func dial(mode config.Mode, addr string) (transport.Conn, error) {
	switch mode {
	case config.ModeTCP:
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return transport.NewStreamConn(c), nil
	case config.ModeUDP, config.ModeUDPR:
		peer, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, err
		}
		// ListenPacket, not Dial: Dial returns a connected socket, whose
		// WriteTo rejects with ErrWriteToConnected — DatagramConn.SendFrame
		// always calls WriteTo, so the socket must stay unconnected, the
		// same way the server's listening socket does.
		pc, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return nil, err
		}
		return transport.NewDatagramConn(pc, peer), nil
	default:
		return nil, fmt.Errorf("unsupported mode %s", mode)
	}
}
