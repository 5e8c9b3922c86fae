//go:build integration

// Package util starts disposable broker and database containers for
// integration tests. Each Start function returns an address and a cleanup.
package util

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/jackc/pgx/v5/stdlib"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	MosquittoReadyTimeout = 10 * time.Second
	DatabaseReadyTimeout  = 30 * time.Second

	pollInterval = 50 * time.Millisecond
)

// StartMosquitto launches an anonymous Mosquitto broker and returns its
// tcp:// URL.
func StartMosquitto(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "mosq")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte("listener 1883\nallow_anonymous true\npersistence false\n"), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	cleanup := func() {
		_ = cont.Terminate(context.Background())
		_ = os.RemoveAll(dir)
	}

	addr, err := mappedAddr(ctx, cont)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	broker := "tcp://" + addr

	waitCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	err = poll(waitCtx, func() error {
		cli := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("readiness"))
		tok := cli.Connect()
		tok.Wait()
		if tok.Error() != nil {
			return tok.Error()
		}
		cli.Disconnect(100)
		return nil
	})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return broker, cleanup, nil
}

// StartMongo launches a MongoDB container and returns its connection URI.
func StartMongo(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "mongo:6",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = cont.Terminate(context.Background()) }

	addr, err := mappedAddr(ctx, cont)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	uri := "mongodb://" + addr

	waitCtx, cancel := context.WithTimeout(ctx, DatabaseReadyTimeout)
	defer cancel()
	err = poll(waitCtx, func() error {
		cli, err := mongo.Connect(waitCtx, options.Client().ApplyURI(uri))
		if err != nil {
			return err
		}
		defer func() { _ = cli.Disconnect(context.Background()) }()
		return cli.Ping(waitCtx, nil)
	})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return uri, cleanup, nil
}

// StartPostgres launches a PostgreSQL container and returns its DSN.
func StartPostgres(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "dispatch",
			"POSTGRES_PASSWORD": "dispatch",
			"POSTGRES_DB":       "dispatch",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = cont.Terminate(context.Background()) }

	addr, err := mappedAddr(ctx, cont)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	dsn := fmt.Sprintf("postgres://dispatch:dispatch@%s/dispatch?sslmode=disable", addr)

	waitCtx, cancel := context.WithTimeout(ctx, DatabaseReadyTimeout)
	defer cancel()
	err = poll(waitCtx, func() error {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.PingContext(waitCtx)
	})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return dsn, cleanup, nil
}

// mappedAddr resolves host:port for the first exposed port of cont.
func mappedAddr(ctx context.Context, cont tc.Container) (string, error) {
	host, err := cont.Host(ctx)
	if err != nil {
		return "", err
	}
	ports, err := cont.Ports(ctx)
	if err != nil {
		return "", err
	}
	for _, bindings := range ports {
		for _, b := range bindings {
			if b.HostPort != "" {
				return fmt.Sprintf("%s:%s", host, b.HostPort), nil
			}
		}
	}
	return "", fmt.Errorf("no mapped port")
}

func poll(ctx context.Context, check func() error) error {
	for {
		err := check()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("not ready: %v: %w", err, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
