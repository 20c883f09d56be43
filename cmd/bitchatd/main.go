// Command bitchatd runs one BitChat mesh node: it owns the device
// identity, the persisted peer/dedup store, the Noise session manager,
// both radio transports, the selector arbitrating between them, and a
// loopback-only debug status API.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitchat-mesh/core/pkg/identity"
	"github.com/bitchat-mesh/core/pkg/router"
	"github.com/bitchat-mesh/core/pkg/session"
	"github.com/bitchat-mesh/core/pkg/store"
	"github.com/bitchat-mesh/core/pkg/transport"
	"github.com/bitchat-mesh/core/pkg/transport/link"
	"github.com/bitchat-mesh/core/pkg/transport/rendezvous"
	"github.com/bitchat-mesh/core/pkg/transport/selector"
	"github.com/bitchat-mesh/core/pkg/wire"
)

const defaultStatusPort = 8088

var (
	dbPath     = flag.String("db", "./data/bitchat.db", "Path to the node's sqlite state file")
	nickname   = flag.String("nickname", "", "Display nickname announced to peers (defaults to the node's short id)")
	statusPort = flag.Int("status-port", defaultStatusPort, "Loopback-only debug status API port (0 disables it)")
	batteryPct = flag.Float64("battery", 100, "Battery percentage reported to the transport selector")
)

func main() {
	flag.Parse()
	printBanner()

	if err := os.MkdirAll("./data", 0o755); err != nil {
		log.Fatalf("create data directory: %v", err)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("open store at %s: %v", *dbPath, err)
	}

	id, err := loadOrGenerateIdentity(st)
	if err != nil {
		log.Fatalf("load/generate identity: %v", err)
	}
	log.Printf("🔑 node identity: %s", id.ShortID())

	displayName := *nickname
	if displayName == "" {
		displayName = id.ShortID()
	}

	var localID [8]byte
	if raw, err := hex.DecodeString(id.ShortID()); err == nil && len(raw) == 8 {
		copy(localID[:], raw)
	}

	sessions := session.NewManager(id.StaticPrivate, id.StaticPublic)
	sessions.OnHandshakeFailed = func(peerID string, err error) {
		log.Printf("🔐 bitchatd: handshake with %s failed: %v", peerID, err)
	}

	r := router.New(localID, sessions, nil) // Out is wired once transports exist below
	linkTransport := link.New(nil, r, localID, displayName)
	linkTransport.SetHandshaker(sessions)
	rendezvousTransport := rendezvous.New(nil, r, localID)

	r.Out = multiOutbound{linkTransport, rendezvousTransport}

	sel := selector.New(
		[]transport.Transport{linkTransport, rendezvousTransport},
		func() float64 { return *batteryPct },
		sessions,
	)

	log.Printf("📡 link transport available: %v", linkTransport.IsAvailable())
	log.Printf("📻 rendezvous transport available: %v", rendezvousTransport.IsAvailable())

	var statusServer *statusAPI
	if *statusPort != 0 {
		statusServer = newStatusAPI(*statusPort, id, sessions, sel)
		go func() {
			if err := statusServer.Start(); err != nil {
				log.Printf("🌐 status API: %v", err)
			}
		}()
		log.Printf("🌐 debug status API listening on 127.0.0.1:%d", *statusPort)
	}

	printStatus(id, displayName)
	waitForShutdown(st, statusServer)
}

// multiOutbound hands a relayed packet to every transport whose name
// doesn't match the one it arrived on, so a broadcast relay fans out
// across both radios without echoing back down its origin.
type multiOutbound []transport.Transport

func (m multiOutbound) Send(pkt *wire.Packet, excludeLink string) error {
	framed, err := wire.Encode(pkt, false)
	if err != nil {
		return fmt.Errorf("bitchatd: encode relayed packet: %w", err)
	}
	var firstErr error
	for _, t := range m {
		if t.Name() == excludeLink || !t.IsAvailable() {
			continue
		}
		var sendErr error
		if pkt.RecipientID != nil {
			sendErr = t.SendRaw(fmt.Sprintf("%x", *pkt.RecipientID), framed)
		} else {
			sendErr = t.BroadcastRaw(framed)
		}
		if sendErr != nil && firstErr == nil {
			firstErr = sendErr
		}
	}
	return firstErr
}

func printBanner() {
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║            bitchatd mesh node         ║")
	fmt.Println("║   offline-first encrypted mesh chat   ║")
	fmt.Println("╚══════════════════════════════════════╝")
	fmt.Println()
}

func printStatus(id *identity.Identity, displayName string) {
	fmt.Println()
	fmt.Println("────────────────────────────────────────")
	fmt.Println("🚀 bitchatd running")
	fmt.Println("────────────────────────────────────────")
	fmt.Printf("   Short id: %s\n", id.ShortID())
	fmt.Printf("   Nickname: %s\n", displayName)
	fmt.Printf("   Fingerprint: %s\n", id.FormattedFingerprint())
	fmt.Println("────────────────────────────────────────")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}

func waitForShutdown(st *store.Store, status *statusAPI) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println()
	log.Println("shutting down gracefully...")

	if status != nil {
		if err := status.Stop(); err != nil {
			log.Printf("error stopping status API: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		log.Printf("error closing store: %v", err)
	}
	log.Println("bitchatd stopped")
}

func loadOrGenerateIdentity(st *store.Store) (*identity.Identity, error) {
	existing, err := st.LoadIdentity()
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	log.Println("🔑 no identity found, generating a new one")
	id, err := identity.New()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := st.SaveIdentity(id); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	return id, nil
}

