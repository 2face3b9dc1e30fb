// Command rendezvous runs the Rendezvous Server (R): a single well-known
// UDP endpoint that tracks peer NAT bindings and relays the
// TalkTo/TalkRequest/RespondTo/TalkResponse handshake between peers.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/mitchellh/colorstring"

	"github.com/fruit-testbed/p2p-update/internal/rendezvous"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: ./rendezvous <host> <port>\n")
		os.Exit(1)
	}

	host := os.Args[1]
	port, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: ./rendezvous <host> <port>\n")
		os.Exit(1)
	}

	srv, err := rendezvous.NewServer(host, port)
	if err != nil {
		log.Fatalf("[RENDEZVOUS] [ERROR] %v\n", err)
	}

	colorstring.Println(fmt.Sprintf("[green]Rendezvous server listening on %s:%d[reset]", host, port))

	if err := srv.Serve(); err != nil {
		log.Fatalf("[RENDEZVOUS] [ERROR] %v\n", err)
	}
}
