package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lapse/internal/handler"
)

var lambdaEvent string

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve expiration passes as an SQS-triggered Lambda function",
	Long: `Start the Lambda runtime. Every invocation runs one expiration pass,
whatever the SQS payload: tag changes, state changes, the next-check schedule
and the hourly backup schedule are only logged as the trigger.

With --event the runtime is not started. The SQS event is read from the file
(or stdin with "-") and handled once, for local testing.`,
	Example: `  lapse lambda                                   # Inside the Lambda runtime
  echo '{"Records":[]}' | lapse lambda --event - # One local invocation`,
	RunE: runLambda,
}

func init() {
	rootCmd.AddCommand(lambdaCmd)

	lambdaCmd.Flags().StringVar(&lambdaEvent, "event", "", `Handle one SQS event from a JSON file ("-" for stdin) instead of starting the runtime`)
}

func runLambda(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	h := handler.New(a.reconciler, handler.WithLogger(log.Logger))

	if lambdaEvent == "" {
		lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx))
		return nil
	}

	evt, err := readSQSEvent(cmd.InOrStdin(), lambdaEvent)
	if err != nil {
		return err
	}
	log.Info().Int("records", len(evt.Records)).Msg("Handling local SQS event")
	return h.Handle(ctx, evt)
}

// readSQSEvent decodes an SQS event from path, or from stdin when path is "-".
func readSQSEvent(stdin io.Reader, path string) (events.SQSEvent, error) {
	var evt events.SQSEvent

	var payload []byte
	var err error
	if path == "-" {
		payload, err = io.ReadAll(stdin)
	} else {
		payload, err = os.ReadFile(path)
	}
	if err != nil {
		return evt, fmt.Errorf("read event: %w", err)
	}
	if len(payload) == 0 {
		return evt, errors.New("read event: no input")
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return evt, fmt.Errorf("decode SQS event: %w", err)
	}
	return evt, nil
}
