package commands

import (
	"context"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/bus"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/message"
	"github.com/teranos/gdscraper/scrape"
)

// passwordEnv supplies the password when --password is not given
const passwordEnv = "GDSCRAPER_PASSWORD"

// EnqueueCmd publishes a scrape request to the input topic
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Publish a scrape request to the input topic",
	Long: `Publish a scrape request to the input topic, as a producer would.
A running service picks it up on its next poll.

The password is read from --password or, preferably, from ` + passwordEnv + `
so it does not end up in shell history.

Examples:
  GDSCRAPER_PASSWORD=exodia gdscraper enqueue --email yugi@domino.jp
  gdscraper enqueue --email kaiba@kaibacorp.jp --password blue-eyes --key kaiba-1`,
	RunE: runEnqueue,
}

var (
	enqueueEmail    string
	enqueuePassword string
	enqueueKey      string
)

func init() {
	EnqueueCmd.Flags().StringVar(&enqueueEmail, "email", "", "Glassdoor account email")
	EnqueueCmd.Flags().StringVar(&enqueuePassword, "password", "", "Glassdoor account password (default $"+passwordEnv+")")
	EnqueueCmd.Flags().StringVar(&enqueueKey, "key", "", "Message key")
	EnqueueCmd.MarkFlagRequired("email")
}

// buildInputMessage validates the credentials and builds the input message
func buildInputMessage(email, password, key string) (*bus.Message, error) {
	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	if password == "" {
		return nil, errors.WithHint(errors.New("no password given"), "pass --password or set "+passwordEnv)
	}

	value, err := message.EncodeInput(scrape.Auth{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return &bus.Message{Key: key, Value: value}, nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	msg, err := buildInputMessage(enqueueEmail, enqueuePassword, enqueueKey)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	b := bus.New(database, logger.Logger)
	if err := b.Producer().Send(context.Background(), cfg.Bus.InputTopic, msg); err != nil {
		return errors.Wrap(err, "failed to publish input message")
	}

	pterm.Success.Printfln("Queued scrape of %s on %s (message %d)", enqueueEmail, cfg.Bus.InputTopic, msg.ID)
	return nil
}
