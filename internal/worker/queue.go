package worker

import (
	"context"
	"sync"
)

// jobQueue は複数の投入者と複数のワーカーで共有する FIFO キュー
//
// mu はジョブの取り出し（claim）の間だけ保持され、ジョブの実行中には保持されない。
// capacity が 0 の場合は無制限。
type jobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []Task
	capacity int
	closed   bool
}

func newJobQueue(capacity int) *jobQueue {
	q := &jobQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// push はタスクを末尾に追加する。ブロックしない
func (q *jobQueue) push(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, task)
	q.notEmpty.Signal()
	return nil
}

// pushWait は空きができるまで待ってからジョブを追加する
func (q *jobQueue) pushWait(ctx context.Context, task Task) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			break
		}
		q.notFull.Wait()
	}
	q.items = append(q.items, task)
	q.notEmpty.Signal()
	return nil
}

// pop は先頭のジョブを取り出す。空ならブロックする。
// クローズ済みかつ空の場合は ok=false を返す
func (q *jobQueue) pop() (task Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}
		q.notEmpty.Wait()
	}

	task = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if q.capacity > 0 {
		q.notFull.Signal()
	}
	return task, true
}

// close は投入側を閉じる。最初の呼び出しのみ true を返す
func (q *jobQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	return true
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
