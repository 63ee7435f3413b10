package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/itchyny/gojq"
	"github.com/robfig/cron/v3"

	"github.com/flowscope/flowscope/pkg/schema"
)

// Snapshot is one poll's worth of per-node runtime metadata, keyed by
// canonical node id.
type Snapshot = map[string]*schema.NodeMetadata

// Options configures a metadata poller.
type Options struct {
	// URL is the metadata endpoint returning {nodeId: NodeMetadata} JSON.
	URL string
	// Interval is the fixed poll cadence. Ignored when Schedule is set.
	Interval time.Duration
	// Schedule is an optional cron expression overriding Interval.
	Schedule string
	// Extract is an optional jq program reshaping the response body into the
	// {nodeId: NodeMetadata} map, for upstreams with their own envelope.
	Extract string
}

const defaultInterval = 5 * time.Second

// Poller periodically fetches per-node runtime metadata and hands each
// successful snapshot to the callback. A failed poll is "no metadata this
// tick": nothing is delivered and the previous values stay displayed, which
// the reconciler's diff-only rule preserves for free.
type Poller struct {
	opts     Options
	client   *http.Client
	code     *gojq.Code
	schedule cron.Schedule
	onSnap   func(Snapshot)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller. The extract program and cron schedule are
// compiled up front so configuration mistakes fail at startup, not mid-poll.
func NewPoller(opts Options, client *http.Client, onSnapshot func(Snapshot), logger *slog.Logger) (*Poller, error) {
	if opts.URL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "metadata poller needs a URL")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if client == nil {
		client = http.DefaultClient
	}

	p := &Poller{
		opts:   opts,
		client: client,
		onSnap: onSnapshot,
		logger: logger,
	}

	if opts.Extract != "" {
		query, err := gojq.Parse(opts.Extract)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"parse metadata extract program %q: %s", opts.Extract, err.Error()).WithCause(err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"compile metadata extract program %q: %s", opts.Extract, err.Error()).WithCause(err)
		}
		p.code = code
	}

	if opts.Schedule != "" {
		sched, err := cron.ParseStandard(opts.Schedule)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"parse poll schedule %q: %s", opts.Schedule, err.Error()).WithCause(err)
		}
		p.schedule = sched
	}

	return p, nil
}

// Start launches the background poll loop with an immediate first poll.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return fmt.Errorf("poller already started")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(pollCtx)
	return nil
}

// Stop halts the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	p.Poll(ctx)

	for {
		timer := time.NewTimer(p.untilNext(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.Poll(ctx)
		}
	}
}

// untilNext computes the wait before the next poll, from the cron schedule
// when one is configured and the fixed interval otherwise.
func (p *Poller) untilNext(now time.Time) time.Duration {
	if p.schedule != nil {
		return p.schedule.Next(now).Sub(now)
	}
	return p.opts.Interval
}

// Poll fetches the metadata endpoint once and delivers the snapshot on
// success. Exported so callers can force a refresh outside the cadence.
func (p *Poller) Poll(ctx context.Context) {
	snap, err := p.fetch(ctx)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("metadata poll failed, keeping previous values", slog.String("error", err.Error()))
		}
		return
	}
	if p.onSnap != nil {
		p.onSnap(snap)
	}
}

func (p *Poller) fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode metadata response: %w", err)
	}

	if p.code != nil {
		doc, err = p.extract(ctx, doc)
		if err != nil {
			return nil, err
		}
	}

	// Round-trip through JSON to get the typed metadata map.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("metadata response is not a {nodeId: metadata} map: %w", err)
	}
	return snap, nil
}

// extract runs the configured jq program over the decoded response and
// returns its single output.
func (p *Poller) extract(ctx context.Context, doc any) (any, error) {
	iter := p.code.RunWithContext(ctx, doc)
	val, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("extract program %q produced no output", p.opts.Extract)
	}
	if err, isErr := val.(error); isErr {
		return nil, fmt.Errorf("extract program %q failed: %w", p.opts.Extract, err)
	}
	return val, nil
}
