package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-fleet-orchestrator/web/api"
)

var followAddr string

func init() {
	followCmd := &cobra.Command{
		Use:   "follow",
		Short: "Stream live run events from a running daemon",
		RunE:  runFollow,
	}
	followCmd.Flags().StringVar(&followAddr, "addr", "", "daemon address (host:port, defaults to the configured web address)")
	rootCmd.AddCommand(followCmd)
}

func runFollow(cmd *cobra.Command, args []string) error {
	addr := followAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	}

	url := fmt.Sprintf("ws://%s/api/ws", addr)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Printf("Following events from %s\n", addr)
	for {
		var event api.Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		data, _ := json.Marshal(event.Data)
		fmt.Printf("[%s] %s\n", event.Type, data)
	}
}
