package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/epoptis/internal/messaging"
	"github.com/mtzanidakis/epoptis/internal/natsbridge"
)

// runWatch tails the NATS mirror and prints one line per envelope.
// It is the reference consumer for external observers.
func runWatch(args []string) error {
	url := nats.DefaultURL
	taskID := ""

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-url":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -url")
			}
			i++
			url = args[i]
		case "-task":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -task")
			}
			i++
			taskID = args[i]
		}
	}

	client, err := natsbridge.NewClientFromURL(url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	subject := natsbridge.SubjectSwarmAll
	if taskID != "" {
		subject = natsbridge.SubjectTask(taskID)
	}

	if _, err := client.Subscribe(subject, printEnvelope); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Watching %s on %s (Ctrl-C to stop)\n", subject, url)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

func printEnvelope(msg *nats.Msg) {
	var env messaging.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		fmt.Printf("%s  <undecodable: %v>\n", msg.Subject, err)
		return
	}

	from := string(env.SenderRole)
	if from == "" {
		from = env.SenderID
	}
	to := string(env.RecipientRole)
	if to == "" {
		to = "all"
	}

	fmt.Printf("%s  %-20s %-18s %s → %s\n",
		env.Timestamp.Local().Format("15:04:05.000"),
		env.TaskID, env.Type, from, to)
}
