package sequential

import "sync"

// shardState names where a shard sits in its processing lifecycle as an
// explicit state machine, rather than inferring liveness purely from
// captured closures. idle means nothing is in flight for the shard;
// processing means its head item's Subscriber has been started and has
// not yet signalled completion. There is no separate "draining" state:
// the Processor marks the shard idle (EndProcessing), removes the
// finished head (DequeueHead) and starts the next item
// (BeginProcessing) as three separate short critical sections, one
// after another.
type shardState int

const (
	shardIdle shardState = iota
	shardProcessing
)

// ShardedQueueSet is a fixed array of N per-shard FIFO queues plus a
// shared counter of total enqueued items. A single lock serialises all
// mutations and the read of the total counter when paired with a
// mutation: the counter must stay consistent with queue sizes, so it
// rides under the same mutex as the queues themselves rather than
// under separate atomics — short critical sections make one lock both
// simpler and fast enough at expected submission rates.
type ShardedQueueSet struct {
	mu     sync.Mutex
	shards []queueShard
	total  int
	cap    int // 0 = unbounded
}

type queueShard struct {
	items []enqueuedInput
	state shardState
}

// NewShardedQueueSet builds a set of shardCount empty FIFO queues.
// capPerShard, if > 0, bounds each shard's queue depth; Enqueue returns
// false if the target shard is already at capacity. 0 means unbounded —
// the caller is responsible for backpressure, per spec.
func NewShardedQueueSet(shardCount int, capPerShard int) *ShardedQueueSet {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &ShardedQueueSet{
		shards: make([]queueShard, shardCount),
		cap:    capPerShard,
	}
}

// ShardCount returns the fixed number of shards.
func (q *ShardedQueueSet) ShardCount() int { return len(q.shards) }

// Enqueue appends item to its shard, increments the total counter, and
// reports whether the shard was empty beforehand — the caller (the
// Processor) is responsible for starting processing of the newly
// enqueued item if and only if wasEmptyBefore is true. Returns ok=false
// if the shard was at its configured capacity.
func (q *ShardedQueueSet) Enqueue(item enqueuedInput) (newSize int, wasEmptyBefore bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := &q.shards[item.shardIdx]
	if q.cap > 0 && len(s.items) >= q.cap {
		return len(s.items), false, false
	}

	wasEmptyBefore = len(s.items) == 0
	s.items = append(s.items, item)
	q.total++
	return len(s.items), wasEmptyBefore, true
}

// DequeueHead removes the head of shardIdx's queue (the item that just
// finished processing), decrements the total counter, and returns the
// new head if one exists.
func (q *ShardedQueueSet) DequeueHead(shardIdx int) (newSize int, head *enqueuedInput, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := &q.shards[shardIdx]
	if len(s.items) == 0 {
		return 0, nil, false
	}
	s.items = s.items[1:]
	q.total--

	if len(s.items) == 0 {
		return 0, nil, true
	}
	h := s.items[0]
	return len(s.items), &h, true
}

// Total returns the current total-enqueued counter. This read is
// advisory when taken outside a paired mutation — used for logging and
// metrics, never for correctness decisions (spec §5).
func (q *ShardedQueueSet) Total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// ShardSize returns the current queue depth for one shard, for tests
// and metrics.
func (q *ShardedQueueSet) ShardSize(shardIdx int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.shards[shardIdx].items)
}

// BeginProcessing transitions a shard from idle to processing. It
// returns false — a ProgrammingError condition the Processor never
// expects to hit — if the shard was already processing, which would
// mean two Subscribers were in flight for the same shard at once.
func (q *ShardedQueueSet) BeginProcessing(shardIdx int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := &q.shards[shardIdx]
	if s.state == shardProcessing {
		return false
	}
	s.state = shardProcessing
	return true
}

// EndProcessing transitions a shard back to idle. Called once the
// current head's Subscriber has signalled completion, immediately
// before deciding whether to advance to the next queued item.
func (q *ShardedQueueSet) EndProcessing(shardIdx int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shards[shardIdx].state = shardIdle
}
