// Command ppcbs is the server side of the file-transfer protocol: it
// listens for one client at a time and writes every received payload to
// standard output as it arrives.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"ppcb/internal/config"
	"ppcb/internal/logx"
	"ppcb/internal/metrics"
	"ppcb/internal/serversess"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-debug] [-metrics-addr host:port] <tcp|udp> <port>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	logx.SetDebug(*debug)

	mode, err := config.ParseMode(flag.Arg(0))
	if err != nil || mode == config.ModeUDPR {
		logx.Fatal("server protocol must be tcp or udp, got %q", flag.Arg(0))
	}
	port, err := config.ParsePort(flag.Arg(1))
	if err != nil {
		logx.Fatal("%s", err)
	}

	m := metrics.NewServerMetrics()
	if *metricsAddr != "" {
		go func() {
			logx.Info("serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, m.Handler()); err != nil {
				logx.Error("metrics server stopped: %s", err)
			}
		}()
	}

	out := bufio.NewWriter(os.Stdout)
	addr := fmt.Sprintf(":%d", port)

	switch mode {
	case config.ModeTCP:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			logx.Fatal("listen tcp %s: %s", addr, err)
		}
		defer ln.Close()
		logx.Info("listening on tcp %s", addr)
		if err := serversess.ServeTCP(ln, out, m); err != nil {
			logx.Fatal("serve tcp: %s", err)
		}
	case config.ModeUDP:
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			logx.Fatal("listen udp %s: %s", addr, err)
		}
		defer pc.Close()
		logx.Info("listening on udp %s", addr)
		if err := serversess.ServeUDP(pc, out, m); err != nil {
			logx.Fatal("serve udp: %s", err)
		}
	}
}
