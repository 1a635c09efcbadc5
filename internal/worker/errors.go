package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig はプール設定が不正な場合のエラー
	ErrInvalidConfig = errors.New("worker: invalid pool configuration")

	// ErrInvalidSize はプールサイズが正でない場合のエラー
	ErrInvalidSize = fmt.Errorf("%w: size must be positive", ErrInvalidConfig)

	// ErrQueueClosed はシャットダウン開始後の投入に対するエラー
	ErrQueueClosed = errors.New("worker: queue closed")

	// ErrQueueFull は容量制限付きキューが満杯の場合のエラー
	ErrQueueFull = errors.New("worker: queue full")

	// ErrNilJob は nil ジョブが投入された場合のエラー
	ErrNilJob = errors.New("worker: nil job")

	// ErrJobPanicked はジョブ実行中の panic を表す
	ErrJobPanicked = errors.New("worker: job panicked")

	// ErrJobAborted はジョブがゴルーチンを終了させた場合のエラー（runtime.Goexit）
	ErrJobAborted = errors.New("worker: job aborted its goroutine")
)

// ShutdownError はシャットダウン中にワーカーを join できなかったことを表す
type ShutdownError struct {
	Unjoined []int // join できなかったワーカーID（昇順）
	Err      error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("worker: shutdown left %d worker(s) unjoined %v: %v", len(e.Unjoined), e.Unjoined, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// panicError は recover した値をエラーに変換する
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrJobPanicked, err)
	}
	return fmt.Errorf("%w: %v", ErrJobPanicked, r)
}
