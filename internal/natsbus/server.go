package natsbus

import (
	"fmt"
	"time"

	"github.com/mtzanidakis/aiteam/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Bus is an embedded NATS server carrying expert units and run events when
// no external broker URL is configured. It only listens on loopback and
// keeps no state across restarts.
type Bus struct {
	server *natsserver.Server
}

func New(cfg config.NATSConfig) (*Bus, error) {
	opts := &natsserver.Options{
		ServerName: "aiteam",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	return &Bus{server: ns}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
