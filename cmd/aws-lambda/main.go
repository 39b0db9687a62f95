package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/alexflint/go-arg"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/app"
	"github.com/mosajjal/authhec/pkg/collector"
	"github.com/mosajjal/authhec/pkg/logging"
)

var (
	rt     *app.Runtime
	logger *zap.Logger
)

// trigger is the optional detail of the scheduled EventBridge rule
type trigger struct {
	Integration string `json:"integration"`
}

// Summary is returned to the Lambda runtime, one entry per integration
type Summary struct {
	Integration     string `json:"integration"`
	RunID           string `json:"run_id"`
	Outcome         string `json:"outcome"`
	Fetched         int    `json:"fetched"`
	Dropped         int    `json:"dropped"`
	Forwarded       int    `json:"forwarded"`
	FailedToForward int    `json:"failed_to_forward"`
	Archived        int    `json:"archived"`
	Error           string `json:"error,omitempty"`
}

func init() {
	var opts app.Options
	// Lambda has no flags, only the environment
	p, err := arg.NewParser(arg.Config{}, &opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := p.Parse(nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err = logging.New(opts.LogLevel, opts.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rt, err = app.Build(context.Background(), opts, logger)
	if err != nil {
		logger.Fatal("failed to build runtime", zap.Error(err))
	}
}

func handler(ctx context.Context, event events.CloudWatchEvent) ([]Summary, error) {
	var t trigger
	if len(event.Detail) > 0 {
		if err := json.Unmarshal(event.Detail, &t); err != nil {
			logger.Warn("ignoring unparsable event detail", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	raws, err := app.Select(rt.Integrations, t.Integration)
	if err != nil {
		return nil, err
	}

	results := make([]collector.CollectionResult, len(raws))
	var wg sync.WaitGroup
	for i, raw := range raws {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = rt.Collector.RunCollectionCycle(ctx, raw)
		}()
	}
	wg.Wait()

	summaries := make([]Summary, 0, len(results))
	failed := 0
	for _, res := range results {
		s := Summary{
			Integration:     res.Integration,
			RunID:           res.RunID,
			Outcome:         string(res.Outcome()),
			Fetched:         res.Fetched,
			Dropped:         res.Dropped,
			Forwarded:       res.Forwarded,
			FailedToForward: res.FailedToForward,
			Archived:        res.Archived,
		}
		if res.Error != nil {
			s.Error = res.Error.Error()
		}
		if o := res.Outcome(); o == collector.OutcomeFailure || o == collector.OutcomePartial {
			failed++
		}
		summaries = append(summaries, s)
	}

	logger.Info("lambda invocation complete",
		zap.String("event_id", event.ID),
		zap.Int("integrations", len(summaries)),
		zap.Int("failed", failed),
	)
	return summaries, nil
}

func main() {
	lambda.Start(handler)
}
