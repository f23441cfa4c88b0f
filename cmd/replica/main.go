package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distlake/replica"
	"github.com/distlake/replica/coordination"
	"github.com/distlake/replica/wire"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration values:")
	fmt.Printf("Server Name: %s\n", cfg.ServerName)
	fmt.Printf("Broker Address: %s\n", cfg.BrokerAddress)
	fmt.Printf("Proxy Address: %s / %s\n", cfg.ProxyAddress, cfg.ProxySubAddress)
	fmt.Printf("Reference Address: %s\n", cfg.ReferenceAddress)
	fmt.Printf("Peer Listen Address: %s\n", cfg.PeerListenAddress)
	fmt.Printf("Data Dir: %s\n", cfg.DataDir)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg coordination.Config) error {
	store, err := replica.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	clock := &replica.Clock{}
	physical := replica.NewPhysicalClock()
	identity := replica.NewIdentity(cfg.ServerName)
	state := replica.NewState(cfg.ServerName, clock, store)
	engine := coordination.NewEngine(cfg, identity, clock, physical, state, wire.Dial)
	ingress := coordination.NewIngress(engine)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)

	brokerAddr, brokerPath, err := splitURL(cfg.BrokerAddress)
	if err != nil {
		return fmt.Errorf("invalid broker_address: %w", err)
	}
	peerAddr := cfg.PeerListenAddress

	brokerMux := http.NewServeMux()
	brokerMux.HandleFunc(brokerPath, ingress.ServeHTTP)
	brokerServer := &http.Server{Addr: brokerAddr, Handler: brokerMux}

	peerMux := http.NewServeMux()
	peerMux.HandleFunc("/peer", engine.PeerRPCServer().ServeHTTP)
	peerServer := &http.Server{Addr: peerAddr, Handler: peerMux}

	group.Go(func() error {
		if err := brokerServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := peerServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	stop := make(chan struct{})
	group.Go(func() error {
		engine.RunSubscriber(stop)
		return nil
	})
	group.Go(func() error {
		engine.Reference().RunHeartbeatLoop(stop)
		return nil
	})

	group.Go(func() error {
		engine.Reference().Register()
		if _, ok := identity.Rank(); ok {
			if _, err := engine.Reference().List(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: initial roster fetch failed: %v\n", err)
			}
		}

		time.Sleep(coordination.JoinSettleDelay)
		engine.FullSync()

		time.Sleep(coordination.ElectionSettleDelay)
		engine.StartElection()
		return nil
	})

	<-gctx.Done()
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	brokerServer.Shutdown(shutdownCtx)
	peerServer.Shutdown(shutdownCtx)

	return group.Wait()
}

func splitURL(raw string) (addr, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.Host, u.Path, nil
}
