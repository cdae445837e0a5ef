// Package classify turns oracle replies into normalized (theme, sentiment,
// urgency) triples and writes them back to the feedback store.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"feedbackintel/internal/domain"
)

var (
	// ErrOracleUnavailable means no reply arrived. The record is skipped.
	ErrOracleUnavailable = errors.New("classification oracle unavailable")
	// ErrOracleTimeout is the deadline case of ErrOracleUnavailable.
	ErrOracleTimeout = errors.New("classification oracle timed out")
	// ErrMalformedReply means a reply arrived without a usable JSON object.
	// The default triple is stored instead.
	ErrMalformedReply = errors.New("malformed classification reply")
)

// Oracle is the text-in/text-out model behind classification.
type Oracle interface {
	Run(ctx context.Context, instructions, userText string) (string, error)
}

// Store is the part of the feedback store the batch runner needs.
type Store interface {
	ListFeedback(ctx context.Context, f domain.ListFilter) ([]domain.FeedbackItem, error)
	UpdateClassification(ctx context.Context, id int64, c domain.Classification) error
}

type Options struct {
	Taxonomy    []string      // nil uses domain.DefaultTaxonomy
	CallTimeout time.Duration // per oracle call; zero means no extra deadline
	Concurrency int           // <= 1 runs sequentially
}

type Classifier struct {
	oracle       Oracle
	store        Store
	instructions string
	callTimeout  time.Duration
	concurrency  int
}

func New(oracle Oracle, store Store, opts Options) *Classifier {
	taxonomy := opts.Taxonomy
	if len(taxonomy) == 0 {
		taxonomy = domain.DefaultTaxonomy
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Classifier{
		oracle:       oracle,
		store:        store,
		instructions: Instructions(taxonomy),
		callTimeout:  opts.CallTimeout,
		concurrency:  concurrency,
	}
}

// Instructions is the fixed system prompt sent with every item.
func Instructions(taxonomy []string) string {
	return fmt.Sprintf(
		"Classify the user feedback. Respond with JSON only, no prose: "+
			`{"theme": string, "sentiment": string, "urgency": integer}. `+
			"Rules: theme: [%s], sentiment: [%s], urgency: 1-5 (5 is most urgent).",
		strings.Join(taxonomy, ", "), strings.Join(domain.Sentiments, ", "),
	)
}

type Result struct {
	Classification domain.Classification
	// Fallback is set when the reply could not be parsed and the default
	// triple was used. Err then holds ErrMalformedReply.
	Fallback bool
	Err      error
}

// Classify asks the oracle about one piece of content. An error is returned
// only when no reply arrived; a reply that cannot be parsed yields the default
// triple with Fallback set.
func (c *Classifier) Classify(ctx context.Context, content string) (Result, error) {
	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	reply, err := c.oracle.Run(callCtx, c.instructions, content)
	if err != nil {
		if isTimeout(err) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %w: %w", ErrOracleUnavailable, ErrOracleTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	triple, ok := ParseReply(reply)
	if !ok {
		return Result{Classification: triple, Fallback: true, Err: ErrMalformedReply}, nil
	}
	return Result{Classification: triple}, nil
}

// isTimeout also covers transport timeouts (http.Client.Timeout) that do not
// wrap context.DeadlineExceeded.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type RunOptions struct {
	OnlyUnclassified bool
}

// BatchResult summarizes one Run. It does not say which records failed.
type BatchResult struct {
	RunID         string
	Total         int
	Classified    int // stored, including fallbacks
	Fallbacks     int
	CallFailures  int
	WriteFailures int
	Duration      time.Duration
}

// Run classifies a snapshot of the store taken at the start. Per-item failures
// are logged and counted; the returned error is only for a failed snapshot.
func (c *Classifier) Run(ctx context.Context, opts RunOptions) (BatchResult, error) {
	started := time.Now()
	res := BatchResult{RunID: uuid.NewString()}

	items, err := c.store.ListFeedback(ctx, domain.ListFilter{OnlyUnclassified: opts.OnlyUnclassified})
	if err != nil {
		return res, fmt.Errorf("snapshot feedback: %w", err)
	}
	res.Total = len(items)
	log.Printf("classify run=%s items=%d concurrency=%d only_unclassified=%t", res.RunID, len(items), c.concurrency, opts.OnlyUnclassified)

	var mu sync.Mutex
	tally := func(o itemOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeStored:
			res.Classified++
		case outcomeFallback:
			res.Classified++
			res.Fallbacks++
		case outcomeCallFailed:
			res.CallFailures++
		case outcomeWriteFailed:
			res.WriteFailures++
		}
	}

	if c.concurrency <= 1 || len(items) <= 1 {
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			tally(c.processItem(ctx, res.RunID, item))
		}
	} else {
		jobs := make(chan domain.FeedbackItem)
		var wg sync.WaitGroup
		workers := min(c.concurrency, len(items))
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range jobs {
					tally(c.processItem(ctx, res.RunID, item))
				}
			}()
		}
	feed:
		for _, item := range items {
			select {
			case jobs <- item:
			case <-ctx.Done():
				break feed
			}
		}
		close(jobs)
		wg.Wait()
	}

	res.Duration = time.Since(started)
	log.Printf("classify run=%s done classified=%d fallbacks=%d call_failures=%d write_failures=%d duration=%s",
		res.RunID, res.Classified, res.Fallbacks, res.CallFailures, res.WriteFailures, res.Duration.Round(time.Millisecond))
	return res, nil
}

type itemOutcome int

const (
	outcomeStored itemOutcome = iota
	outcomeFallback
	outcomeCallFailed
	outcomeWriteFailed
)

func (c *Classifier) processItem(ctx context.Context, runID string, item domain.FeedbackItem) itemOutcome {
	result, err := c.Classify(ctx, item.Content)
	if err != nil {
		log.Printf("classify run=%s id=%d skipped: %v", runID, item.ID, err)
		return outcomeCallFailed
	}
	if result.Fallback {
		log.Printf("classify run=%s id=%d reply not parseable, storing default", runID, item.ID)
	}
	if err := c.store.UpdateClassification(ctx, item.ID, result.Classification); err != nil {
		log.Printf("classify run=%s id=%d write failed: %v", runID, item.ID, err)
		return outcomeWriteFailed
	}
	if result.Fallback {
		return outcomeFallback
	}
	return outcomeStored
}
