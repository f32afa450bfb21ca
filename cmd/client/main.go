package main

import (
	"context"
	"flag"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/timloh-professional/origin/internal/service/engine"
	"github.com/timloh-professional/origin/internal/store"
	"github.com/timloh-professional/origin/internal/utils/log"
	"github.com/timloh-professional/origin/internal/wallet"
)

func main() {
	serverURL := flag.String("server", "http://localhost:9090", "key server URL")
	walletKey := flag.String("key", "", "wallet private key hex; empty generates a throwaway")
	peer := flag.String("peer", "", "remote wallet address to chat with")
	redisAddr := flag.String("redis", "", "redis address for the session secret store; empty keeps secrets in memory")
	statePath := flag.String("state", "origin-client.db", "encrypted state file")
	passphrase := flag.String("passphrase", "origin-dev", "state file passphrase")
	flag.Parse()

	if l, err := zap.NewDevelopment(); err == nil {
		log.Replace(l)
	}

	if *peer == "" {
		log.Fatal("missing -peer address")
	}

	signer, err := newSigner(*walletKey)
	if err != nil {
		log.Fatal("wallet init failed", zap.Error(err))
	}

	secrets := store.Chain{}
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		secrets = append(secrets, store.NewRedis(rdb, 2*time.Hour))
	} else {
		secrets = append(secrets, store.NewMemory())
	}

	eng, err := engine.New(engine.Config{
		ServerURL: *serverURL,
		Signer:    signer,
		Secrets:   secrets,
		Durable:   store.NewFile(*statePath, []byte(*passphrase)),
	})
	if err != nil {
		log.Fatal("engine init failed", zap.Error(err))
	}

	app := newApp(eng, signer.Address(), *peer)

	ctx := context.Background()
	if err := app.bootstrap(ctx); err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	app.run()
}

func newSigner(keyHex string) (*wallet.LocalSigner, error) {
	if keyHex == "" {
		return wallet.NewLocalSigner(wallet.SignModePersonal)
	}
	return wallet.NewLocalSignerFromHex(keyHex, wallet.SignModePersonal)
}
