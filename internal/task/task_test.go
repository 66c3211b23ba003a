package task_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"m8flash/internal/task"
)

func TestTaskLifecycle(t *testing.T) {
	release := make(chan struct{})
	tk := task.Go(context.Background(), "worker", func(ctx context.Context) error {
		<-release
		return errors.New("finished")
	})
	if !tk.Alive() {
		t.Fatal("expected task to be alive")
	}
	close(release)
	<-tk.Done()
	if tk.Alive() {
		t.Fatal("expected task to be finished")
	}
	if tk.Err() == nil || tk.Err().Error() != "finished" {
		t.Fatalf("unexpected err %v", tk.Err())
	}
}

func TestTaskCancel(t *testing.T) {
	tk := task.Go(context.Background(), "loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := tk.Stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTaskWaitHonoursContext(t *testing.T) {
	tk := task.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	defer tk.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tk.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestSlotAdmitsOne(t *testing.T) {
	var slot task.Slot
	block := make(chan struct{})
	var started, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := slot.Start(context.Background(), "acquire", func(context.Context) error {
				<-block
				return nil
			})
			switch {
			case err == nil:
				started.Add(1)
			case errors.Is(err, task.ErrBusy):
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	if started.Load() != 1 || busy.Load() != 19 {
		t.Fatalf("started=%d busy=%d", started.Load(), busy.Load())
	}
	close(block)
	<-slot.Current().Done()
	if slot.Busy() {
		t.Fatal("slot should be free after task ends")
	}
	if _, err := slot.Start(context.Background(), "again", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestSlotOnceReturnsLiveTask(t *testing.T) {
	var slot task.Slot
	fn := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}
	first := slot.Once(context.Background(), "watch", fn)
	second := slot.Once(context.Background(), "watch", fn)
	if first != second {
		t.Fatal("expected the same task handle")
	}
	slot.Stop()
	if first.Alive() {
		t.Fatal("expected task stopped")
	}
}

func TestNilTaskIsDead(t *testing.T) {
	var tk *task.Task
	if tk.Alive() {
		t.Fatal("nil task reported alive")
	}
	select {
	case <-tk.Done():
	default:
		t.Fatal("nil task Done should be closed")
	}
}
