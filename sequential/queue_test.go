package sequential

import "testing"

func TestEnqueueReportsWasEmptyBefore(t *testing.T) {
	q := NewShardedQueueSet(4, 0)

	_, wasEmpty, ok := q.Enqueue(enqueuedInput{shardIdx: 0})
	if !ok || !wasEmpty {
		t.Fatalf("expected first enqueue on an empty shard to report wasEmptyBefore=true, got ok=%v wasEmpty=%v", ok, wasEmpty)
	}

	_, wasEmpty, ok = q.Enqueue(enqueuedInput{shardIdx: 0})
	if !ok || wasEmpty {
		t.Fatalf("expected second enqueue to report wasEmptyBefore=false, got ok=%v wasEmpty=%v", ok, wasEmpty)
	}
}

func TestEnqueueRespectsCapacity(t *testing.T) {
	q := NewShardedQueueSet(1, 1)

	_, _, ok := q.Enqueue(enqueuedInput{shardIdx: 0})
	if !ok {
		t.Fatal("expected first enqueue within capacity to succeed")
	}
	_, _, ok = q.Enqueue(enqueuedInput{shardIdx: 0})
	if ok {
		t.Fatal("expected enqueue beyond capacity to fail")
	}
}

func TestDequeueHeadAdvancesFIFO(t *testing.T) {
	q := NewShardedQueueSet(1, 0)
	first := enqueuedInput{shardIdx: 0, input: SequentialInput{Payload: "first"}}
	second := enqueuedInput{shardIdx: 0, input: SequentialInput{Payload: "second"}}

	q.Enqueue(first)
	q.Enqueue(second)

	_, head, ok := q.DequeueHead(0)
	if !ok || head == nil || head.input.Payload != "second" {
		t.Fatalf("expected the new head to be the second item, got %+v ok=%v", head, ok)
	}
	if q.ShardSize(0) != 1 {
		t.Fatalf("expected shard size 1 after dequeue, got %d", q.ShardSize(0))
	}
}

func TestDequeueHeadOnEmptyShard(t *testing.T) {
	q := NewShardedQueueSet(1, 0)
	_, head, ok := q.DequeueHead(0)
	if ok || head != nil {
		t.Fatalf("expected dequeue on empty shard to report ok=false, got head=%+v ok=%v", head, ok)
	}
}

func TestBeginProcessingRejectsDoubleStart(t *testing.T) {
	q := NewShardedQueueSet(1, 0)
	if !q.BeginProcessing(0) {
		t.Fatal("expected first BeginProcessing to succeed")
	}
	if q.BeginProcessing(0) {
		t.Fatal("expected second BeginProcessing on the same shard to fail")
	}
	q.EndProcessing(0)
	if !q.BeginProcessing(0) {
		t.Fatal("expected BeginProcessing to succeed again after EndProcessing")
	}
}

func TestTotalCounterTracksAcrossShards(t *testing.T) {
	q := NewShardedQueueSet(4, 0)
	q.Enqueue(enqueuedInput{shardIdx: 0})
	q.Enqueue(enqueuedInput{shardIdx: 1})
	q.Enqueue(enqueuedInput{shardIdx: 1})

	if q.Total() != 3 {
		t.Fatalf("expected total of 3, got %d", q.Total())
	}
	q.DequeueHead(1)
	if q.Total() != 2 {
		t.Fatalf("expected total of 2 after one dequeue, got %d", q.Total())
	}
}
