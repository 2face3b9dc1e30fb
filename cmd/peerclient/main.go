// Command peerclient runs the Peer Client (C): bootstraps against a
// Rendezvous Server, then reacts to external and local-control datagrams
// in a single loop until an ExitScript command terminates it.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"

	"github.com/fruit-testbed/p2p-update/internal/peerclient"
)

const defaultLocalPort = 5044

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: ./peerclient <server-addr> <server-port> [own-external-addr-hint]\n")
		os.Exit(1)
	}

	serverHost := os.Args[1]
	serverPort, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: ./peerclient <server-addr> <server-port> [own-external-addr-hint]\n")
		os.Exit(1)
	}
	var hint string
	if len(os.Args) > 3 {
		hint = os.Args[3]
	}

	handoffDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("[CLIENT] [ERROR] resolving handoff directory: %v\n", err)
	}

	cli, err := peerclient.NewClient(peerclient.Config{
		ServerHost:     serverHost,
		ServerPort:     serverPort,
		LocalHost:      "127.0.0.1",
		LocalPort:      defaultLocalPort,
		HandoffDir:     handoffDir,
		OwnAddressHint: hint,
	})
	if err != nil {
		log.Fatalf("[CLIENT] [ERROR] %v\n", err)
	}

	colorstring.Println(fmt.Sprintf("[green]Contacting rendezvous server %s:%d[reset]", serverHost, serverPort))

	if err := cli.Bootstrap(); err != nil {
		log.Fatalf("[CLIENT] [ERROR] bootstrap failed: %v\n", err)
	}
	colorstring.Println(fmt.Sprintf("[green]Bootstrapped as %s:%d[reset]", cli.NATBinding.Addr, cli.NATBinding.Port))

	go runSwarmGauge(cli)

	if err := cli.Run(); err != nil {
		log.Fatalf("[CLIENT] [ERROR] %v\n", err)
	}
	colorstring.Println("[yellow]Client shut down[reset]")
}

// runSwarmGauge renders a live indeterminate gauge of swarm health: the
// known peer-candidate count and whether a session link is up, since there
// is no download transfer progress to measure here.
func runSwarmGauge(cli *peerclient.Client) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("swarm"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
	)
	for {
		candidates, sessionlink := cli.Stats()
		bar.Describe(fmt.Sprintf("swarm: %d candidate(s), session link %v", candidates, sessionlink))
		bar.Add(1)
		time.Sleep(2 * time.Second)
	}
}
