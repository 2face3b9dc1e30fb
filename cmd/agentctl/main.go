// Command agentctl is the Agent-side command submitter: a thin sender
// that posts local control-channel commands to a running peerclient
// process over loopback UDP.
//
// Recovered from original_source/NAT-traversal/talkto.py,
// endsession.py and the envelope-submission slice of eventcreate.py;
// the file-type branching and shell-outs those originals also did
// (zip/tar/pem handling, transmission-create invocation) are out of
// scope and are not recovered here.
package main

import (
	"fmt"
	"log"
	"net"
	"os"

	"github.com/google/uuid"

	"github.com/fruit-testbed/p2p-update/internal/envelope"
	"github.com/fruit-testbed/p2p-update/internal/wire"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: ./agentctl [-port <local-port>] <command> [args]\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  sendtorrent <path-to-torrent-file>\n")
	fmt.Fprintf(os.Stderr, "  endsession\n")
	fmt.Fprintf(os.Stderr, "  talkto <peer-addr>\n")
	fmt.Fprintf(os.Stderr, "  exit\n")
}

const defaultLocalPort = 5044

func main() {
	args := os.Args[1:]
	port := defaultLocalPort
	if len(args) >= 2 && args[0] == "-port" {
		if _, err := fmt.Sscanf(args[1], "%d", &port); err != nil {
			usage()
			os.Exit(1)
		}
		args = args[2:]
	}
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	correlationID := uuid.NewString()

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	if err != nil {
		log.Fatalf("[AGENTCTL] [ERROR] dial local control socket: %v\n", err)
	}
	defer conn.Close()

	var payload string
	switch args[0] {
	case "sendtorrent":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		payload, err = buildSendTorrent(args[1])
		if err != nil {
			log.Fatalf("[AGENTCTL] [ERROR] %v\n", err)
		}
	case "endsession":
		payload = string(wire.LocalEndSession)
	case "talkto":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		payload = wire.AddrMessage{Tag: wire.LocalTalkTo, Addr: args[1]}.Encode()
	case "exit":
		payload = string(wire.LocalExitScript)
	default:
		usage()
		os.Exit(1)
	}

	if _, err := conn.Write([]byte(payload)); err != nil {
		log.Fatalf("[AGENTCTL] [ERROR] send: %v\n", err)
	}
	log.Printf("[AGENTCTL %s] [INFO] sent %q to 127.0.0.1:%d", correlationID, args[0], port)
}

// buildSendTorrent reads a .torrent file from disk, builds its envelope,
// and wraps it as a local SendTorrent command.
func buildSendTorrent(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("agentctl: read %s: %v", path, err)
	}
	env, err := envelope.Encode(data)
	if err != nil {
		return "", fmt.Errorf("agentctl: encode envelope: %v", err)
	}
	return wire.LocalSendTorrentMessage{Envelope: env}.Encode(), nil
}
