package events

import (
	"slices"
	"sync"
)

const defaultBufferSize = 100

// subscription は購読チャネルと受け取るイベント種別
// types が空なら全種別を受け取る
type subscription struct {
	ch    chan Event
	types []EventType
}

func (s subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Bus はプロセス内のイベント配信を行う
// 配信はブロックせず、バッファが満杯の購読者にはそのイベントを捨てる
type Bus struct {
	mu         sync.RWMutex
	subs       map[<-chan Event]subscription
	bufferSize int
	closed     bool
}

// NewBus はデフォルトのバッファサイズでバスを作成する
func NewBus() *Bus {
	return NewBusWithBuffer(defaultBufferSize)
}

// NewBusWithBuffer は購読チャネルごとに size 件まで保持するバスを作成する
func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Bus{
		subs:       make(map[<-chan Event]subscription),
		bufferSize: size,
	}
}

// Subscribe は types のイベントを受け取るチャネルを返す。types を省略すると全種別
// Close 済みのバスでは閉じたチャネルを返す
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = subscription{ch: ch, types: slices.Clone(types)}
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じる。未登録のチャネルは無視する
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub.ch)
	}
}

// Publish は種別が一致する購読者へイベントを配信する
// nil のバスへの配信は何もしない
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// SubscriberCount は購読者数を返す
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close は全購読チャネルを閉じる。以後の Subscribe は閉じたチャネルを返す
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, ch)
	}
}
