package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/timloh-professional/origin/internal/repository/accounts"
	"github.com/timloh-professional/origin/internal/repository/logstore"
	"github.com/timloh-professional/origin/internal/service/server"
	"github.com/timloh-professional/origin/internal/utils/log"
)

func main() {
	addr := flag.String("addr", "localhost:9090", "listen address")
	mongoURI := flag.String("mongo", "", "mongodb URI; empty runs in-memory")
	redisAddr := flag.String("redis", "", "redis address for the offline-entry cache; empty runs in-memory")
	flag.Parse()

	var (
		accountStore server.AccountStore
		logStore     server.LogStore
	)

	if *mongoURI != "" {
		client, err := initMongo(*mongoURI)
		if err != nil {
			log.Fatal("mongo connect failed", zap.Error(err))
		}
		db := client.Database("origin")
		repo := logstore.NewLogRepo(db)
		if err := repo.EnsureIndexes(context.Background()); err != nil {
			log.Fatal("mongo index setup failed", zap.Error(err))
		}
		accountStore = accounts.NewAccountRepo(db)
		logStore = repo
	} else {
		accountStore = server.NewMemoryAccounts()
		logStore = server.NewMemoryLogs()
	}

	var cache server.EntryCache
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		cache = server.NewRedisCache(rdb)
	} else {
		cache = server.NewMemoryCache()
	}

	s := server.New(accountStore, logStore, cache)
	go func() {
		log.Info("key server listening", zap.String("addr", *addr))
		if err := http.ListenAndServe(*addr, s.Router()); err != nil {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
