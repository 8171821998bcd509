package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Avi18971911/Swarmtrace/internal/capture"
	"github.com/Avi18971911/Swarmtrace/internal/tracer_client/service"
	"github.com/Avi18971911/Swarmtrace/internal/transport"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverURL  string
	serverKey  string
	name       string
	keyFile    string
	swarmKeys  []string
	interval   time.Duration
	ignoreList []string
)

var rootCmd = &cobra.Command{
	Use:   "fake_peer",
	Short: "Instrumented demo peer that opens and closes streams to other peers",
	RunE:  runPeer,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/", "Websocket URL of the tracer server")
	rootCmd.Flags().StringVar(&serverKey, "server-key", "", "Hex public key of the tracer server, empty accepts any")
	rootCmd.Flags().StringVar(&name, "name", "", "Username reported to the tracer server")
	rootCmd.Flags().StringVar(&keyFile, "key-file", "", "Key pair file, a fresh key is generated when empty")
	rootCmd.Flags().StringSliceVar(&swarmKeys, "swarm", nil, "Hex public keys of the other demo peers")
	rootCmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Delay between simulated stream changes")
	rootCmd.Flags().StringSliceVar(&ignoreList, "ignore", nil, "Class names the tracer must not report")
}

func loadKeyPair() (transport.KeyPair, error) {
	if keyFile == "" {
		return transport.GenerateKeyPair()
	}
	return transport.LoadOrCreateKeyPair(keyFile)
}

func runPeer(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	keyPair, err := loadKeyPair()
	if err != nil {
		return err
	}
	var pinnedKey []byte
	if serverKey != "" {
		pinnedKey, err = hex.DecodeString(serverKey)
		if err != nil {
			return fmt.Errorf("invalid server key: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := service.NewClient(logger)
	err = client.Start(ctx, service.Options{
		Dialer: &transport.WebsocketDialer{
			URL:             serverURL,
			KeyPair:         keyPair,
			ServerPublicKey: pinnedKey,
		},
		IgnoreClassNames: ignoreList,
		GetInitialProps: func(ctx context.Context) (model.Props, error) {
			props := model.Props{"alias": "fake-peer"}
			if name != "" {
				props["username"] = name
			}
			return props, nil
		},
		OnOpen: func() {
			logger.Info("Connected to tracer server")
		},
		OnReconnect: func() {
			logger.Info("Reconnecting to tracer server")
		},
		OnConnectionError: func(err error) {
			logger.Warn("Tracer connection error", zap.Error(err))
		},
	})
	if err != nil {
		return err
	}
	defer client.Stop()

	publicKey := keyPair.PublicKeyHex()
	logger.Info("Fake peer started",
		zap.String("public_key", publicKey),
		zap.String("trace_session_id", client.TraceSessionId()),
	)
	simulate(ctx, publicKey, swarmKeys, interval)
	return nil
}

// simulate announces the peer and then toggles a stream to a random swarm member every tick.
func simulate(ctx context.Context, publicKey string, swarm []string, every time.Duration) {
	node := model.Object{Id: model.ObjectId(publicKey[:16]), ClassName: "Node"}
	capture.Trace(model.ListenEventId, node, nil, model.Props{"publicKey": publicKey})

	open := make(map[string]model.Object)
	streamCount := 0
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if len(swarm) == 0 {
			continue
		}
		remote := swarm[rand.Intn(len(swarm))]
		streamProps := model.Props{"stream": map[string]interface{}{
			"publicKey":       publicKey,
			"remotePublicKey": remote,
		}}
		if stream, ok := open[remote]; ok {
			if rand.Intn(4) == 0 {
				streamProps["error"] = map[string]interface{}{"code": "ECONNRESET", "message": "connection reset"}
			}
			capture.Trace(model.StreamCloseEventId, stream, &node, streamProps)
			delete(open, remote)
			continue
		}
		streamCount++
		stream := model.Object{Id: model.ObjectIdFromInt(streamCount), ClassName: "Stream"}
		capture.Trace(model.StreamOpenEventId, stream, &node, streamProps)
		open[remote] = stream
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
