//go:build !integration

package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
)

func chatJob(id string, priority int) *model.AIJob {
	return model.NewAIJob(id, "tenant-1", "conv-1", priority, model.ChatResponsePayload{ChatbotID: "bot-1", Content: "hi"})
}

func TestJobQueue_ClaimOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewJobQueue()
	_ = q.Enqueue(ctx, "chat", chatJob("low", 2), 0)
	_ = q.Enqueue(ctx, "chat", chatJob("high-1", 10), 0)
	_ = q.Enqueue(ctx, "chat", chatJob("high-2", 10), 0)
	_ = q.Enqueue(ctx, "chat", chatJob("mid", 6), 0)

	var got []string
	for {
		j, err := q.Claim(ctx, "chat", time.Minute)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		got = append(got, j.ID)
	}
	want := []string{"high-1", "high-2", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestJobQueue_EachJobClaimedOnce(t *testing.T) {
	ctx := context.Background()
	q := NewJobQueue()
	for i := 0; i < 50; i++ {
		_ = q.Enqueue(ctx, "chat", chatJob(fmt.Sprintf("job-%d", i), 5), 0)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Claim(ctx, "chat", time.Minute)
				if err != nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Fatalf("claimed %d distinct jobs, want 50", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
}

func TestJobQueue_DelayedAndLeaseRecovery(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q := NewJobQueue()
	q.SetClock(func() time.Time { return now })

	_ = q.Enqueue(ctx, "chat", chatJob("later", 10), 2*time.Second)
	if _, err := q.Claim(ctx, "chat", time.Minute); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delayed job must not be claimable yet, got %v", err)
	}

	now = now.Add(3 * time.Second)
	n, _ := q.PromoteDue(ctx, "chat")
	if n != 1 {
		t.Fatalf("promoted %d, want 1", n)
	}
	j, err := q.Claim(ctx, "chat", 10*time.Second)
	if err != nil || j.ID != "later" {
		t.Fatalf("claim after promote: %v %v", j, err)
	}

	// worker "crashes": lease runs out and the job goes back to waiting
	now = now.Add(11 * time.Second)
	n, _ = q.RequeueExpired(ctx, "chat")
	if n != 1 {
		t.Fatalf("requeued %d, want 1", n)
	}
	st, _ := q.Stats(ctx, "chat")
	if st.Waiting != 1 || st.Active != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestJobQueue_HistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	q := NewJobQueue()
	for i := 0; i < completedHistory+20; i++ {
		j := chatJob("j", 5)
		_ = q.Complete(ctx, "chat", j)
	}
	for i := 0; i < failedHistory+5; i++ {
		_ = q.Fail(ctx, "chat", chatJob("f", 5))
	}
	st, _ := q.Stats(ctx, "chat")
	if st.Completed != completedHistory || st.Failed != failedHistory {
		t.Fatalf("history not capped: %+v", st)
	}
}

func TestBroadcaster_FanOutInOrder(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(16)
	s1, _ := b.Subscribe(ctx)
	s2, _ := b.Subscribe(ctx)
	defer s2.Close()

	for i := 1; i <= 3; i++ {
		_ = b.Publish(ctx, model.BroadcastEvent{Type: model.EventStream, ConversationID: "c", Seq: i})
	}
	for _, s := range []interface {
		Events() <-chan model.BroadcastEvent
	}{s1, s2} {
		for i := 1; i <= 3; i++ {
			ev := <-s.Events()
			if ev.Seq != i {
				t.Fatalf("seq = %d, want %d", ev.Seq, i)
			}
		}
	}

	_ = s1.Close()
	if _, ok := <-s1.Events(); ok {
		t.Fatal("closed subscription should have a closed channel")
	}
	// publishing after a subscriber left must not panic
	_ = b.Publish(ctx, model.BroadcastEvent{Type: model.EventComplete, ConversationID: "c"})
}
