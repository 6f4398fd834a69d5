package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/config"
	"github.com/felixgeelhaar/codeterm/internal/events"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var (
		amqpURL string
		queue   string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow terminal lifecycle events from the broker",
		Long: `Consume the daemon's lifecycle events (session, run and debug) from
RabbitMQ and print one line per event until interrupted.

The broker URL and queue default to the events section of the config
(CODETERM_AMQP_URL, CODETERM_EVENTS_QUEUE).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if amqpURL == "" {
				amqpURL = cfg.Events.AMQPURL
			}
			if queue == "" {
				queue = cfg.Events.Queue
			}
			if amqpURL == "" {
				return fmt.Errorf("no broker configured: set events.amqp_url or CODETERM_AMQP_URL")
			}
			return followEvents(cmd.Context(), cmd.OutOrStdout(), amqpURL, queue)
		},
	}

	cmd.Flags().StringVar(&amqpURL, "amqp-url", "", "RabbitMQ URL (default: from config)")
	cmd.Flags().StringVar(&queue, "queue", "", "Queue name (default: from config)")
	return cmd
}

func followEvents(ctx context.Context, out io.Writer, amqpURL, queue string) error {
	conn, err := events.NewConnection(amqpURL, queue)
	if err != nil {
		return fmt.Errorf("connect event broker: %w", err)
	}
	defer conn.Close()

	consumer := events.NewConsumer(conn, func(_ context.Context, event events.Event) error {
		_, err := fmt.Fprintln(out, formatEvent(event))
		return err
	}, events.DefaultConsumerConfig())

	if err := consumer.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	consumer.Stop()
	return nil
}

// formatEvent renders one event as "time type session [lang] key=value..."
func formatEvent(e events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-24s %s", e.Timestamp.Format(time.TimeOnly), e.Type, e.SessionID)
	if e.Language != "" {
		fmt.Fprintf(&b, " [%s]", e.Language)
	}

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}
