package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"github.com/mit-dci/spvd/config"
	"github.com/mit-dci/spvd/electrum"
	"github.com/mit-dci/spvd/headerdb"
	"github.com/mit-dci/spvd/log"
	"github.com/mit-dci/spvd/spv"
	"github.com/mit-dci/spvd/walletdb"
)

var slog = log.Spvd

func main() {
	if err := spvdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func spvdMain() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Println(e.Message)
			return nil
		}
		return err
	}
	if err := cfg.MakePaths(); err != nil {
		return err
	}

	if err := log.InitLogRotator(cfg.SpvDir.LogFile); err != nil {
		return err
	}
	defer log.Close()
	if err := log.SetLogLevels(cfg.DebugLevel); err != nil {
		return err
	}
	slog.Infof("Starting spvd on %s", cfg.Params().Name)

	headers, err := headerdb.Open(cfg.SpvDir.HeaderDB)
	if err != nil {
		return err
	}
	defer headers.Close()

	wallet, err := walletdb.Open(cfg.SpvDir.WalletDB)
	if err != nil {
		return err
	}
	defer wallet.Close()

	txs, err := cfg.TxArgs()
	if err != nil {
		return err
	}
	for txid, height := range txs {
		if err := wallet.AddTx(txid, height); err != nil {
			return err
		}
	}

	client, err := electrum.Dial(&electrum.Config{
		Server:     cfg.Server,
		WebSocket:  cfg.WebSocket,
		Proxy:      cfg.Proxy,
		ProxyUser:  cfg.ProxyUser,
		ProxyPass:  cfg.ProxyPass,
		Headers:    headers,
		Checkpoint: cfg.Checkpoint,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SyncHeaders(); err != nil {
		return err
	}
	if len(cfg.WatchAddrs) > 0 {
		if err := client.WatchAddresses(wallet, cfg.WatchAddrs); err != nil {
			return err
		}
	} else {
		// the wallet is just the --tx list
		wallet.SetSynced(true)
	}

	verifier := spv.New(&spv.Config{
		Network:          client,
		Headers:          headers,
		Wallet:           wallet,
		CheckpointHeight: cfg.Checkpoint,
	})
	verifier.Start(cfg.TickInterval)
	defer verifier.Stop()

	if cfg.StatusListen != "" {
		srv := &http.Server{
			Addr:    cfg.StatusListen,
			Handler: newStatusRouter(verifier, headers, wallet),
		}
		go func() {
			err := srv.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				slog.Errorf("status server: %v", err)
			}
		}()
		defer srv.Close()
		slog.Infof("Serving status on %s", cfg.StatusListen)
	}

	//listen for SIGINT, SIGTERM, or SIGQUIT from the os
	sig := make(chan bool, 1)
	handleIntSig(sig)
	<-sig
	slog.Infof("User exit signal received. Exiting...")

	// verified records are final even with requests still out
	if err := wallet.SaveVerifiedTx(); err != nil {
		slog.Errorf("saving verified txs: %v", err)
	}
	return nil
}

func handleIntSig(sig chan bool) {
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		<-s
		sig <- true
	}()
}
