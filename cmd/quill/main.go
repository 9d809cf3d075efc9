package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quill-network/apiserver"
	"quill-network/core"
	"quill-network/pkg/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var p2pPort, apiPort int

	cmd := &cobra.Command{
		Use:   "quill",
		Short: "A decentralized microblogging node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(p2pPort, apiPort)
		},
		SilenceUsage: true,
	}
	cmd.Flags().IntVar(&p2pPort, "p2p-port", 5000, "The node port")
	cmd.Flags().IntVar(&apiPort, "api-port", 3030, "The API port")
	return cmd
}

func runNode(p2pPort, apiPort int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	chain, err := core.NewChain(core.ChainConfig{DataDir: cfg.DataDir})
	if err != nil {
		return err
	}
	defer chain.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := core.NewNode(chain)
	if err := node.Start(ctx, fmt.Sprintf("0.0.0.0:%d", p2pPort)); err != nil {
		return err
	}
	go node.GossipLoop(ctx)
	go node.SyncLoop(ctx)

	// Dial configured peers, then pull whatever the network has.
	for _, peer := range cfg.Peers {
		if err := node.Connect(peer); err != nil {
			logrus.Warnf("dial configured peer %s: %v", peer, err)
		}
	}
	node.Sync()

	miner := core.NewMiner(chain, node, logrus.StandardLogger())
	go miner.Run(ctx)

	api := apiserver.New(chain, fmt.Sprintf("0.0.0.0:%d", apiPort))
	go func() {
		if err := api.Start(ctx); err != nil {
			logrus.Errorf("api server: %v", err)
		}
	}()

	go inputLoop(chain, node)

	<-ctx.Done()
	return nil
}

// inputLoop reads interactive commands from stdin until EOF. It is a debug
// surface; the node runs fine with stdin closed.
func inputLoop(chain *core.Chain, node *core.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "/connect":
			if len(fields) != 2 {
				fmt.Println("usage: /connect <IP:PORT>")
				continue
			}
			if err := node.Connect(fields[1]); err != nil {
				fmt.Println(err)
			}
		case "/peers":
			peers := node.GetPeers()
			if len(peers) == 0 {
				fmt.Println("No connected peers.")
				continue
			}
			for _, p := range peers {
				fmt.Printf("- %s (%s)\n", p.PeerID, p.Addr)
			}
		case "/chain":
			chain.Print()
		case "/sync":
			node.Sync()
		case "/s":
			node.Yell(core.Payload{
				Type:    core.MsgChat,
				Message: strings.Join(fields[1:], " "),
			})
		case "/w":
			if len(fields) < 3 {
				fmt.Println("usage: /w <PEER> <MESSAGE>")
				continue
			}
			node.Send(fields[1], core.Payload{
				Type:    core.MsgChat,
				Message: strings.Join(fields[2:], " "),
			})
		default:
			fmt.Println("Commands:")
			fmt.Println("  /s <MESSAGE> - Broadcast a message to all peers")
			fmt.Println("  /w <PEER> <MESSAGE> - Send a message to a peer")
			fmt.Println("  /connect <IP:PORT> - Manually connect to a peer")
			fmt.Println("  /peers - List connected peers")
			fmt.Println("  /sync - Sync the blockchain")
			fmt.Println("  /chain - List the blockchain contents")
		}
	}
}
