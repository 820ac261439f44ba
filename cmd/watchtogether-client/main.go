// Command watchtogether-client is a minimal terminal demo of the
// watchtogether client: it registers against a server, prints room events
// as they arrive, and sends each line of stdin as a chat message.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"watchtogether"
	"watchtogether/internal/config"
	"watchtogether/internal/room"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[watchtogether-client] config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		fmt.Println("\n[watchtogether-client] shutting down...")
		cancel()
	}()

	client, err := watchtogether.Register(ctx, cfg)
	if err != nil {
		log.Fatalf("[watchtogether-client] register: %v", err)
	}
	defer client.Logout()

	self, err := client.AsPeer()
	if err != nil {
		log.Fatalf("[watchtogether-client] %v", err)
	}
	fmt.Printf("[watchtogether-client] joined as %s (id %d)\n", self.Name, self.ID)

	peers, _ := client.Peers()
	for _, p := range peers {
		fmt.Printf("[watchtogether-client] already in room: %s (id %d)\n", p.Name, p.ID)
	}

	unsubscribePeers := mustSubscribePeers(client)
	unsubscribeChat := mustSubscribeChat(client)
	unsubscribeMedium := mustSubscribeMedium(client)
	defer unsubscribePeers()
	defer unsubscribeChat()
	defer unsubscribeMedium()

	go readChatLines(ctx, client)

	<-ctx.Done()
}

func mustSubscribePeers(client *watchtogether.Client) func() {
	unsub, err := client.SubscribeToPeerChanges(func(ev room.PeerEvent) {
		switch ev.Kind {
		case room.PeerEventJoined:
			fmt.Printf("[watchtogether-client] %s joined\n", ev.Peer.Name)
		case room.PeerEventLeft:
			fmt.Printf("[watchtogether-client] %s left (%s)\n", ev.Peer.Name, ev.Reason)
		}
	})
	if err != nil {
		log.Fatalf("[watchtogether-client] %v", err)
	}
	return unsub
}

func mustSubscribeChat(client *watchtogether.Client) func() {
	unsub, err := client.SubscribeToChatMessages(func(ev room.ChatEvent) {
		fmt.Printf("%s: %s\n", ev.Sender.Name, ev.Message)
	})
	if err != nil {
		log.Fatalf("[watchtogether-client] %v", err)
	}
	return unsub
}

func mustSubscribeMedium(client *watchtogether.Client) func() {
	unsub, err := client.SubscribeToMediumStateChanges(func(ev room.MediumEvent) {
		switch ev.Kind {
		case room.MediumEventChangedByOurself:
			fmt.Println("[watchtogether-client] medium updated")
		case room.MediumEventChangedByPeer:
			fmt.Printf("[watchtogether-client] %s changed the medium\n", ev.ChangedBy.Name)
		case room.MediumEventTimeAdjusted:
			fmt.Printf("[watchtogether-client] clock offset shifted by %dms\n", ev.DeltaMs)
		}
	})
	if err != nil {
		log.Fatalf("[watchtogether-client] %v", err)
	}
	return unsub
}

func readChatLines(ctx context.Context, client *watchtogether.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := client.SendChatMessage(ctx, line); err != nil {
			fmt.Printf("[watchtogether-client] send failed: %v\n", err)
		}
	}
}
