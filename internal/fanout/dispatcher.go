// Package fanout delivers a persisted status to every destination the
// audience classifier selects.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fedibird/fedimind/internal/audience"
	"github.com/fedibird/fedimind/internal/feed"
	"github.com/fedibird/fedimind/internal/search"
	"github.com/fedibird/fedimind/internal/stream"
	"github.com/fedibird/fedimind/pkg/logging"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// Relations pages through the members of batched expansions
type Relations interface {
	FollowerBatches(ctx context.Context, accountID int64, mutual bool, size int, fn func(ids []int64) error) error
	ListBatches(ctx context.Context, accountID int64, mutual bool, size int, fn func(listIDs, owners []int64) error) error
}

// Failure is one destination that could not be reached
type Failure struct {
	Class  audience.Class
	Target string
	Err    error
}

// PartialDeliveryError lists the destinations that failed while the rest
// were delivered
type PartialDeliveryError struct {
	Failures []Failure
}

func (e *PartialDeliveryError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Class, f.Target, f.Err))
	}
	return fmt.Sprintf("partial delivery, %d failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *PartialDeliveryError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Dispatcher writes feed entries, broadcasts and index documents
type Dispatcher struct {
	relations   Relations
	feeds       feed.Queue
	broadcaster stream.Broadcaster
	index       search.Sink
	batchSize   int
	workers     int
	metrics     *telemetry.Metrics
	logger      *zap.Logger
}

// NewDispatcher creates a dispatcher running at most workers classes at once
func NewDispatcher(relations Relations, feeds feed.Queue, broadcaster stream.Broadcaster, index search.Sink, batchSize, workers int, metrics *telemetry.Metrics) *Dispatcher {
	if index == nil {
		index = search.NopSink{}
	}
	return &Dispatcher{
		relations:   relations,
		feeds:       feeds,
		broadcaster: broadcaster,
		index:       index,
		batchSize:   batchSize,
		workers:     workers,
		metrics:     metrics,
		logger:      logging.WithComponent("fanout"),
	}
}

// delivery collects the outcome of one Dispatch call
type delivery struct {
	post     *Post
	payloads *payloads
	mu       sync.Mutex
	failures []Failure
}

func (d *delivery) fail(class audience.Class, target string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, Failure{Class: class, Target: target, Err: err})
}

// Dispatch delivers post to set. Classes run in parallel and never cancel
// each other; the returned error is nil or a *PartialDeliveryError.
func (d *Dispatcher) Dispatch(ctx context.Context, post *Post, set *audience.Set) error {
	ctx, span := telemetry.StartSpan(ctx, "fanout.dispatch")
	defer span.End()

	dl := &delivery{post: post, payloads: newPayloads(post)}

	byClass := make(map[audience.Class][]audience.Destination)
	var order []audience.Class
	for _, dest := range set.Destinations() {
		if _, ok := byClass[dest.Class]; !ok {
			order = append(order, dest.Class)
		}
		byClass[dest.Class] = append(byClass[dest.Class], dest)
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, class := range order {
		class, dests := class, byClass[class]
		g.Go(func() error {
			d.deliverClass(ctx, dl, class, dests)
			return nil
		})
	}
	for _, exp := range set.Expansions() {
		exp := exp
		g.Go(func() error {
			d.expand(ctx, dl, exp)
			return nil
		})
	}
	_ = g.Wait()

	if len(dl.failures) == 0 {
		return nil
	}
	err := &PartialDeliveryError{Failures: dl.failures}
	d.logger.Warn("partial delivery",
		zap.Int64("status_id", post.Status.ID),
		zap.Int("failed", len(dl.failures)),
		zap.Error(err))
	return err
}

func (d *Dispatcher) deliverClass(ctx context.Context, dl *delivery, class audience.Class, dests []audience.Destination) {
	var feeds []audience.Destination
	for _, dest := range dests {
		switch {
		case dest.Class == audience.ClassSearch:
			d.writeIndex(ctx, dl)
		case dest.Ephemeral():
			if d.publish(ctx, dl, class, dest.Channel, channelTier) {
				d.metrics.Dispatched(ctx, string(class), 1)
			}
		default:
			feeds = append(feeds, dest)
		}
	}
	if len(feeds) == 0 {
		return
	}

	entries := make([]feed.Entry, len(feeds))
	for i, dest := range feeds {
		entries[i] = feed.Entry{StatusID: dl.post.Status.ID, Key: dest.FeedKey(), Class: string(class)}
	}
	if err := d.feeds.Enqueue(ctx, entries); err != nil {
		for _, dest := range feeds {
			dl.fail(class, dest.FeedKey(), err)
			d.metrics.DispatchFailed(ctx, string(class))
		}
		return
	}
	d.metrics.Dispatched(ctx, string(class), len(entries))
	for _, dest := range feeds {
		d.publish(ctx, dl, class, dest.StreamChannel(), feedTier(dl.post))
	}
}

// expand pages through followers or lists and enqueues each batch
func (d *Dispatcher) expand(ctx context.Context, dl *delivery, exp audience.Expansion) {
	authorID := dl.post.Status.AccountID
	enqueue := func(dests []audience.Destination) error {
		entries := make([]feed.Entry, len(dests))
		for i, dest := range dests {
			entries[i] = feed.Entry{StatusID: dl.post.Status.ID, Key: dest.FeedKey(), Class: string(exp.Class)}
		}
		if err := d.feeds.Enqueue(ctx, entries); err != nil {
			for _, dest := range dests {
				dl.fail(exp.Class, dest.FeedKey(), err)
				d.metrics.DispatchFailed(ctx, string(exp.Class))
			}
			return nil
		}
		d.metrics.Dispatched(ctx, string(exp.Class), len(entries))
		for _, dest := range dests {
			d.publish(ctx, dl, exp.Class, dest.StreamChannel(), feedTier(dl.post))
		}
		return nil
	}

	var err error
	switch exp.Class {
	case audience.ClassHome:
		err = d.relations.FollowerBatches(ctx, authorID, exp.Mutual, d.batchSize, func(ids []int64) error {
			dests := make([]audience.Destination, len(ids))
			for i, id := range ids {
				dests[i] = audience.Home(audience.ClassHome, id)
			}
			return enqueue(dests)
		})
	case audience.ClassList:
		err = d.relations.ListBatches(ctx, authorID, exp.Mutual, d.batchSize, func(listIDs, owners []int64) error {
			dests := make([]audience.Destination, len(listIDs))
			for i, id := range listIDs {
				dests[i] = audience.List(audience.ClassList, id)
			}
			return enqueue(dests)
		})
	default:
		err = fmt.Errorf("unknown expansion class %q", exp.Class)
	}
	if err != nil {
		dl.fail(exp.Class, "expansion", err)
		d.metrics.DispatchFailed(ctx, string(exp.Class))
	}
}

// publish is best effort and reports whether the channel accepted the payload
func (d *Dispatcher) publish(ctx context.Context, dl *delivery, class audience.Class, channel, tier string) bool {
	payload, err := dl.payloads.get(tier)
	if err == nil {
		err = d.broadcaster.Publish(ctx, channel, payload)
	}
	if err != nil {
		dl.fail(class, channel, err)
		d.metrics.DispatchFailed(ctx, string(class))
		return false
	}
	return true
}

func (d *Dispatcher) writeIndex(ctx context.Context, dl *delivery) {
	doc := search.NewDocument(dl.post.Status, dl.post.Tags)
	if err := d.index.Index(ctx, doc); err != nil {
		dl.fail(audience.ClassSearch, "index", err)
		d.metrics.DispatchFailed(ctx, string(audience.ClassSearch))
		return
	}
	d.metrics.Dispatched(ctx, string(audience.ClassSearch), 1)
}

// IsPartial reports whether err is a partial delivery
func IsPartial(err error) bool {
	var p *PartialDeliveryError
	return errors.As(err, &p)
}
